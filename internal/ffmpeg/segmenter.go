package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/livepeer/m3u8"

	"github.com/hlsvault/hlsvault/internal/models"
)

// SegmentFile is one produced .ts piece on the scratch disk.
type SegmentFile struct {
	Ordinal  int
	Path     string
	Duration float64
	ByteSize int64
}

// Segmenter slices inputs into MPEG-TS segments and re-encodes individual
// pieces when they bust the size cap.
type Segmenter struct {
	bin     Binaries
	encoder Encoder
	logger  *slog.Logger
}

// NewSegmenter creates a Segmenter using the given encoder for re-encode
// passes.
func NewSegmenter(bin Binaries, encoder Encoder, log *slog.Logger) *Segmenter {
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{bin: bin, encoder: encoder, logger: log.With(slog.String("component", "segmenter"))}
}

// Segment slices the input into ~duration second MPEG-TS pieces using
// stream copy. Output files are named {prefix}_%05d.ts under outDir; the
// returned slice is ordered by ordinal with durations taken from the
// muxer's own playlist, not from the requested duration.
func (s *Segmenter) Segment(ctx context.Context, input, outDir, prefix string, duration float64) ([]SegmentFile, error) {
	playlistPath := filepath.Join(outDir, prefix+".m3u8")
	segmentPattern := filepath.Join(outDir, prefix+"_%05d.ts")

	args := []string{
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "copy",
		"-c:a", "copy",
		"-hls_time", formatDuration(duration),
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		"-y",
		playlistPath,
	}

	start := time.Now()
	if err := s.run(ctx, args); err != nil {
		return nil, err
	}

	files, err := ParseScratchPlaylist(playlistPath)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("segmented input",
		slog.String("input", input),
		slog.String("requested_duration", formatDuration(duration)),
		slog.Int("segments", len(files)),
		slog.Duration("elapsed", time.Since(start)))
	return files, nil
}

// SegmentTranscode slices the input like Segment but re-encodes the video
// stream, rate-capped at maxBitrate bits per second. Used when the source
// codecs cannot be stream-copied into MPEG-TS.
func (s *Segmenter) SegmentTranscode(ctx context.Context, input, outDir, prefix string, duration float64, maxBitrate int64) ([]SegmentFile, error) {
	playlistPath := filepath.Join(outDir, prefix+".m3u8")
	segmentPattern := filepath.Join(outDir, prefix+"_%05d.ts")
	bitrate := strconv.FormatInt(maxBitrate, 10)

	args := []string{
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", s.encoder.Name,
	}
	args = append(args, s.encoder.Args...)
	args = append(args,
		"-maxrate", bitrate,
		"-bufsize", bitrate,
		"-c:a", "aac",
		"-b:a", "192k",
		"-force_key_frames", "expr:gte(t,n_forced*"+formatDuration(duration)+")",
		"-hls_time", formatDuration(duration),
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		"-y",
		playlistPath,
	)

	if err := s.run(ctx, args); err != nil {
		return nil, err
	}
	return ParseScratchPlaylist(playlistPath)
}

// Reencode re-renders the [start, start+duration) window of the input as a
// single MPEG-TS file, rate-capped at maxBitrate bits per second.
func (s *Segmenter) Reencode(ctx context.Context, input, output string, start, duration float64, maxBitrate int64) error {
	bitrate := strconv.FormatInt(maxBitrate, 10)

	args := []string{
		"-ss", formatDuration(start),
		"-i", input,
		"-t", formatDuration(duration),
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", s.encoder.Name,
	}
	args = append(args, s.encoder.Args...)
	args = append(args,
		"-maxrate", bitrate,
		"-bufsize", bitrate,
		"-c:a", "aac",
		"-b:a", "192k",
		"-f", "mpegts",
		"-y",
		output,
	)
	return s.run(ctx, args)
}

// ExtractSubtitle pulls one subtitle stream out as WebVTT. typeIndex is the
// stream's position among subtitle streams (ffmpeg 0:s:N addressing).
func (s *Segmenter) ExtractSubtitle(ctx context.Context, input string, typeIndex int, output string) error {
	args := []string{
		"-i", input,
		"-map", fmt.Sprintf("0:s:%d", typeIndex),
		"-c:s", "webvtt",
		"-f", "webvtt",
		"-y",
		output,
	}
	if err := s.run(ctx, args); err != nil {
		return err
	}

	st, err := os.Stat(output)
	if err != nil || st.Size() == 0 {
		return models.E(models.KindTranscodeFailed, "subtitle stream %d extracted empty", typeIndex)
	}
	return nil
}

// run executes ffmpeg, turning a nonzero exit into a tagged error carrying
// the tail of stderr.
func (s *Segmenter) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, s.bin.FFmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return models.Wrap(models.KindTranscodeFailed, ctx.Err(), "ffmpeg canceled")
		}
		return models.Wrap(models.KindTranscodeFailed, err, "ffmpeg: %s", stderrTail(stderr.Bytes()))
	}
	return nil
}

// ParseScratchPlaylist reads an ffmpeg-produced media playlist and stats the
// segment files it references. Segment paths are resolved relative to the
// playlist.
func ParseScratchPlaylist(playlistPath string) ([]SegmentFile, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return nil, models.Wrap(models.KindTranscodeFailed, err, "opening scratch playlist")
	}
	defer f.Close()

	parsed, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return nil, models.Wrap(models.KindTranscodeFailed, err, "parsing scratch playlist")
	}
	if listType != m3u8.MEDIA {
		return nil, models.E(models.KindTranscodeFailed, "scratch playlist is not a media playlist")
	}

	dir := filepath.Dir(playlistPath)
	mediaPl := parsed.(*m3u8.MediaPlaylist)

	var files []SegmentFile
	for _, seg := range mediaPl.Segments {
		if seg == nil {
			break
		}
		path := seg.URI
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		st, err := os.Stat(path)
		if err != nil {
			return nil, models.Wrap(models.KindTranscodeFailed, err, "segment listed but missing: %s", seg.URI)
		}
		files = append(files, SegmentFile{
			Ordinal:  len(files),
			Path:     path,
			Duration: seg.Duration,
			ByteSize: st.Size(),
		})
	}
	if len(files) == 0 {
		return nil, models.E(models.KindTranscodeFailed, "scratch playlist has no segments")
	}
	return files, nil
}

const stderrTailBytes = 2048

func stderrTail(out []byte) string {
	if len(out) > stderrTailBytes {
		out = out[len(out)-stderrTailBytes:]
	}
	return string(bytes.TrimSpace(out))
}

func formatDuration(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
