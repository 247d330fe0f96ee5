package handlers

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/hlsvault/hlsvault/internal/coordinator"
	"github.com/hlsvault/hlsvault/internal/models"
)

// uploadCopyBuffer is the chunk size for spooling request bodies to disk.
const uploadCopyBuffer = 64 * 1024

// Ingestor is the coordinator surface the upload handler needs.
type Ingestor interface {
	BeginReceive() string
	ReceiveProgress(jobID string, current, total int64)
	StartIngest(ctx context.Context, jobID, sourcePath, originalFilename string) (videoID string, err error)
	Progress(jobID string) (coordinator.Progress, bool)
}

// UploadHandler accepts source files and exposes ingest job progress.
type UploadHandler struct {
	ingestor Ingestor
	spoolDir string
	logger   *slog.Logger
}

// NewUploadHandler creates a new upload handler. Incoming files are
// spooled under spoolDir before the ingest claims them.
func NewUploadHandler(ingestor Ingestor, spoolDir string, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{ingestor: ingestor, spoolDir: spoolDir, logger: logger}
}

// Register registers the progress endpoint with the API and the streaming
// upload route with the router. The upload route stays outside huma so the
// body streams to disk instead of buffering in memory.
func (h *UploadHandler) Register(api huma.API, router chi.Router) {
	router.Post("/api/upload", h.Upload)

	huma.Register(api, huma.Operation{
		OperationID: "getIngestProgress",
		Method:      "GET",
		Path:        "/api/upload/{job}/progress",
		Summary:     "Get ingest job progress",
		Tags:        []string{"Jobs"},
	}, h.GetProgress)
}

// Upload accepts a multipart upload with a single "file" part and starts
// an ingest job. The job id is allocated before the body is spooled, so
// the receiving phase is observable on the progress endpoint while bytes
// are still arriving.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, models.E(models.KindConfigInvalid, "expected multipart body: %v", err))
		return
	}

	part, filename, err := nextFilePart(reader)
	if err != nil {
		writeError(w, err)
		return
	}
	defer part.Close()

	jobID := h.ingestor.BeginReceive()
	total := max(r.ContentLength, 0)
	spooled, err := h.spool(part, filename, func(received int64) {
		h.ingestor.ReceiveProgress(jobID, received, total)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	videoID, err := h.ingestor.StartIngest(r.Context(), jobID, spooled, filename)
	if err != nil {
		os.Remove(spooled)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   jobID,
		"video_id": videoID,
	})
}

// nextFilePart scans the multipart stream for the first part named "file".
func nextFilePart(reader *multipart.Reader) (*multipart.Part, string, error) {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, "", models.E(models.KindConfigInvalid, `multipart body has no "file" part`)
		}
		if err != nil {
			return nil, "", models.Wrap(models.KindConfigInvalid, err, "reading multipart body")
		}
		if part.FormName() == "file" {
			if part.FileName() == "" {
				return nil, "", models.E(models.KindConfigInvalid, `"file" part carries no filename`)
			}
			return part, part.FileName(), nil
		}
		part.Close()
	}
}

// spool streams the part to a temp file in fixed-size chunks, reporting
// the cumulative byte count after each write.
func (h *UploadHandler) spool(part io.Reader, filename string, report func(int64)) (string, error) {
	if err := os.MkdirAll(h.spoolDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(h.spoolDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}

	buf := make([]byte, uploadCopyBuffer)
	_, err = io.CopyBuffer(&countingWriter{w: f, report: report}, part, buf)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// countingWriter reports cumulative bytes written through it.
type countingWriter struct {
	w      io.Writer
	n      int64
	report func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.report != nil {
		c.report(c.n)
	}
	return n, err
}

// GetProgressInput is the input for the progress endpoint.
type GetProgressInput struct {
	Job string `path:"job" maxLength:"64"`
}

// GetProgressOutput is the output for the progress endpoint.
type GetProgressOutput struct {
	Body coordinator.Progress
}

// GetProgress returns the live snapshot of an ingest job.
func (h *UploadHandler) GetProgress(ctx context.Context, input *GetProgressInput) (*GetProgressOutput, error) {
	progress, ok := h.ingestor.Progress(input.Job)
	if !ok {
		return nil, huma.Error404NotFound("job " + input.Job + " not found")
	}
	return &GetProgressOutput{Body: progress}, nil
}
