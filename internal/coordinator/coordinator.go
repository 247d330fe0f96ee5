// Package coordinator orchestrates ingest and delete jobs: probe, plan,
// distribute, commit, and the cleanup paths that keep the catalog's
// invariants intact when any step fails.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/hlsvault/hlsvault/internal/cache"
	"github.com/hlsvault/hlsvault/internal/distributor"
	"github.com/hlsvault/hlsvault/internal/ffmpeg"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/planner"
	"github.com/hlsvault/hlsvault/internal/repository"
)

// MediaProber analyzes input files. Implemented by *ffmpeg.Prober.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// SubtitleExtractor pulls embedded subtitle streams out as WebVTT files.
// Implemented by *ffmpeg.Segmenter.
type SubtitleExtractor interface {
	ExtractSubtitle(ctx context.Context, input string, typeIndex int, output string) error
}

// SegmentPlanner produces the final segment list. Implemented by
// *planner.Planner.
type SegmentPlanner interface {
	Plan(ctx context.Context, input string, info *ffmpeg.MediaInfo, scratchDir string) (*planner.Plan, error)
}

// Uploader moves bytes to the blob platform. Implemented by
// *distributor.Distributor.
type Uploader interface {
	Distribute(ctx context.Context, videoID string, segments []planner.PlannedSegment, startOrdinal int, onProgress func(done, total int)) error
	UploadBlob(ctx context.Context, videoID string, index int, filename, path string) (handle, accountID string, size int64, err error)
	DeleteRemote(ctx context.Context, refs []distributor.BlobRef) int
}

const (
	progressRetention = time.Hour
	orphanScratchAge  = 24 * time.Hour
)

// Coordinator owns ingest jobs, delete jobs, the startup resume scan, and
// periodic maintenance.
type Coordinator struct {
	videos    repository.VideoRepository
	segments  repository.SegmentRepository
	subtitles repository.SubtitleRepository

	prober    MediaProber
	extractor SubtitleExtractor
	planner   SegmentPlanner
	uploader  Uploader
	cache     *cache.Cache

	scratchRoot string
	tracker     *progressTracker
	logger      *slog.Logger

	// ingesting guards against two concurrent ingests claiming one id.
	mu        sync.Mutex
	ingesting map[string]struct{}

	cron   *cron.Cron
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Coordinator. scratchRoot is created if missing.
func New(
	videos repository.VideoRepository,
	segments repository.SegmentRepository,
	subtitles repository.SubtitleRepository,
	prober MediaProber,
	extractor SubtitleExtractor,
	segPlanner SegmentPlanner,
	uploader Uploader,
	segCache *cache.Cache,
	scratchRoot string,
	log *slog.Logger,
) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		videos:      videos,
		segments:    segments,
		subtitles:   subtitles,
		prober:      prober,
		extractor:   extractor,
		planner:     segPlanner,
		uploader:    uploader,
		cache:       segCache,
		scratchRoot: scratchRoot,
		tracker:     newProgressTracker(),
		logger:      log.With(slog.String("component", "coordinator")),
		ingesting:   map[string]struct{}{},
		bg:          bg,
		cancel:      cancel,
	}, nil
}

// Progress returns the live snapshot for a job id.
func (c *Coordinator) Progress(jobID string) (Progress, bool) {
	return c.tracker.get(jobID)
}

// ScratchDir returns the scratch directory owned by one video's ingest.
func (c *Coordinator) ScratchDir(videoID string) string {
	return filepath.Join(c.scratchRoot, videoID)
}

// BeginReceive allocates a job id before any bytes arrive, so the
// receiving phase is visible on the progress endpoint while the upload
// is still streaming in.
func (c *Coordinator) BeginReceive() string {
	jobID := ulid.Make().String()
	c.tracker.start(jobID, "")
	return jobID
}

// ReceiveProgress records byte progress of the receiving phase. total may
// be zero when the request carries no length.
func (c *Coordinator) ReceiveProgress(jobID string, current, total int64) {
	c.tracker.update(jobID, current, total)
}

// StartIngest claims a video id for the received source file and launches
// the ingest in the background under the job id BeginReceive issued.
// A second ingest racing for the same id fails with CONFLICT.
func (c *Coordinator) StartIngest(ctx context.Context, jobID, sourcePath, originalFilename string) (videoID string, err error) {
	defer func() {
		if err != nil {
			c.tracker.fail(jobID, err.Error())
		}
	}()

	base := models.VideoIDFromFilename(originalFilename)

	// An in-flight or crashed ingest of this id is a conflict, not an
	// occasion for silent suffixing.
	existing, err := c.videos.GetByID(ctx, base)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Status == models.VideoStatusProcessing {
		return "", models.E(models.KindConflict, "video %s is already being ingested", base)
	}

	c.mu.Lock()
	if _, busy := c.ingesting[base]; busy {
		c.mu.Unlock()
		return "", models.E(models.KindConflict, "video %s is already being ingested", base)
	}
	c.ingesting[base] = struct{}{}
	c.mu.Unlock()

	videoID, err = c.claimVideo(ctx, base, originalFilename)
	if err != nil {
		c.releaseIngest(base)
		return "", err
	}
	if videoID != base {
		c.mu.Lock()
		c.ingesting[videoID] = struct{}{}
		c.mu.Unlock()
	}

	scratchDir := c.ScratchDir(videoID)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		c.releaseIngest(base, videoID)
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	source := filepath.Join(scratchDir, "source"+filepath.Ext(originalFilename))
	if err := moveFile(sourcePath, source); err != nil {
		c.releaseIngest(base, videoID)
		return "", fmt.Errorf("claiming source file: %w", err)
	}

	c.tracker.setVideo(jobID, videoID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.releaseIngest(base, videoID)
		c.runIngest(c.bg, jobID, videoID, source, originalFilename, scratchDir)
	}()

	return videoID, nil
}

// claimVideo allocates the final id and inserts the processing row.
func (c *Coordinator) claimVideo(ctx context.Context, base, originalFilename string) (string, error) {
	videoID, err := c.videos.AllocateID(ctx, base)
	if err != nil {
		return "", err
	}
	video := &models.Video{
		ID:       videoID,
		Filename: originalFilename,
		Status:   models.VideoStatusProcessing,
	}
	if err := c.videos.Create(ctx, video); err != nil {
		return "", err
	}
	return videoID, nil
}

func (c *Coordinator) releaseIngest(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.ingesting, id)
	}
}

// runIngest drives one job through probe, plan, distribute, and commit.
func (c *Coordinator) runIngest(ctx context.Context, jobID, videoID, source, originalFilename, scratchDir string) {
	log := c.logger.With(slog.String("job_id", jobID), slog.String("video_id", videoID))
	log.Info("ingest started", slog.String("filename", originalFilename))

	pf, err := c.prepare(ctx, jobID, videoID, source, scratchDir)
	if err == nil {
		pf.SourceFilename = originalFilename
		err = c.finishIngest(ctx, jobID, videoID, scratchDir, pf)
	}
	if err != nil {
		c.failIngest(ctx, jobID, videoID, scratchDir, err)
		return
	}
	log.Info("ingest complete")
}

// prepare runs the probe and planning phases and persists the plan so a
// crash after this point is resumable.
func (c *Coordinator) prepare(ctx context.Context, jobID, videoID, source, scratchDir string) (*planFile, error) {
	c.tracker.setPhase(jobID, PhaseProbing)
	info, err := c.prober.Probe(ctx, source)
	if err != nil {
		return nil, err
	}

	video, err := c.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, models.E(models.KindNotFound, "video row %s vanished during ingest", videoID)
	}
	video.Container = info.Container
	video.VideoCodec = info.PrimaryVideo().Codec
	video.AudioCodec = info.PrimaryAudioCodec()
	video.Duration = info.Duration
	if err := c.videos.Update(ctx, video); err != nil {
		return nil, err
	}

	c.tracker.setPhase(jobID, PhasePlanning)
	plan, err := c.planner.Plan(ctx, source, info, scratchDir)
	if err != nil {
		return nil, err
	}

	pf := &planFile{
		VideoID:         videoID,
		NominalDuration: plan.NominalDuration,
		FullTranscode:   plan.FullTranscode,
		Segments:        plan.Segments,
		Subtitles:       c.extractSubtitles(ctx, videoID, source, scratchDir, info.Subtitles),
	}
	if err := writePlanFile(scratchDir, pf); err != nil {
		return nil, fmt.Errorf("persisting plan: %w", err)
	}
	return pf, nil
}

// extractSubtitles pulls each embedded track to WebVTT. Individual track
// failures are logged and skipped; a video without its subtitles is still
// worth storing.
func (c *Coordinator) extractSubtitles(ctx context.Context, videoID, source, scratchDir string, streams []ffmpeg.SubtitleStream) []plannedSubtitle {
	var out []plannedSubtitle
	for _, stream := range streams {
		path := filepath.Join(scratchDir, fmt.Sprintf("subtitle_%02d_%s.vtt", stream.TypeIndex, stream.Language))
		if err := c.extractor.ExtractSubtitle(ctx, source, stream.TypeIndex, path); err != nil {
			c.logger.Warn("subtitle extraction failed",
				slog.String("video_id", videoID),
				slog.Int("track", stream.TypeIndex),
				slog.String("language", stream.Language),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, plannedSubtitle{
			TrackIndex:      stream.TypeIndex,
			Language:        stream.Language,
			Title:           stream.Title,
			Codec:           "webvtt",
			IsDefault:       stream.Default,
			IsForced:        stream.Forced,
			HearingImpaired: stream.HearingImpaired,
			Path:            path,
		})
	}
	return out
}

// finishIngest uploads everything in the plan and commits the video. Also
// the resume entry point: committed ordinals below startOrdinal are
// skipped.
func (c *Coordinator) finishIngest(ctx context.Context, jobID, videoID, scratchDir string, pf *planFile) error {
	committed, err := c.segments.CountByVideo(ctx, videoID)
	if err != nil {
		return err
	}

	c.tracker.setPhase(jobID, PhaseUploading)
	totalBytes := plannedBytes(pf.Segments)
	prefix := bytePrefixes(pf.Segments)
	err = c.uploader.Distribute(ctx, videoID, pf.Segments, int(committed), func(done, total int) {
		c.tracker.update(jobID, prefix[done], totalBytes)
	})
	if err != nil {
		return err
	}

	if err := c.uploadSubtitles(ctx, videoID, pf); err != nil {
		return err
	}

	c.tracker.setPhase(jobID, PhaseCommitting)
	video, err := c.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return models.E(models.KindNotFound, "video row %s vanished during ingest", videoID)
	}
	video.TotalSegments = len(pf.Segments)
	video.ByteSize = totalBytes
	video.Status = models.VideoStatusActive
	video.ErrorReason = ""
	if err := c.videos.Update(ctx, video); err != nil {
		return err
	}

	if err := os.RemoveAll(scratchDir); err != nil {
		c.logger.Warn("scratch cleanup failed",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()))
	}
	c.tracker.setPhase(jobID, PhaseDone)
	return nil
}

// uploadSubtitles pushes extracted tracks that are not yet committed.
func (c *Coordinator) uploadSubtitles(ctx context.Context, videoID string, pf *planFile) error {
	existing, err := c.subtitles.ListByVideo(ctx, videoID)
	if err != nil {
		return err
	}
	have := map[int]bool{}
	for _, t := range existing {
		have[t.TrackIndex] = true
	}

	for _, sub := range pf.Subtitles {
		if have[sub.TrackIndex] {
			continue
		}
		filename := fmt.Sprintf("%s.%s.vtt", videoID, sub.Language)
		handle, accountID, size, err := c.uploader.UploadBlob(ctx, videoID, sub.TrackIndex, filename, sub.Path)
		if err != nil {
			return err
		}
		track := &models.SubtitleTrack{
			VideoID:           videoID,
			TrackIndex:        sub.TrackIndex,
			Language:          sub.Language,
			Title:             sub.Title,
			Codec:             sub.Codec,
			IsDefault:         sub.IsDefault,
			IsForced:          sub.IsForced,
			IsHearingImpaired: sub.HearingImpaired,
			Handle:            handle,
			AccountID:         accountID,
			ByteSize:          size,
		}
		if err := c.subtitles.Create(ctx, track); err != nil {
			return err
		}
	}
	return nil
}

// failIngest unwinds a broken job: partial rows go away, uploaded blobs
// get best-effort remote deletes, and the video row keeps a reason code.
func (c *Coordinator) failIngest(ctx context.Context, jobID, videoID, scratchDir string, cause error) {
	reason := string(models.KindOf(cause))
	if reason == "" {
		reason = "INGEST_FAILED"
	}
	c.failIngestWithReason(ctx, jobID, videoID, scratchDir, reason, cause)
}

func (c *Coordinator) failIngestWithReason(ctx context.Context, jobID, videoID, scratchDir, reason string, cause error) {
	c.logger.Error("ingest failed",
		slog.String("job_id", jobID),
		slog.String("video_id", videoID),
		slog.String("reason", reason),
		slog.String("error", cause.Error()))

	refs, err := c.collectRefs(ctx, videoID)
	if err != nil {
		c.logger.Warn("collecting blob refs for cleanup failed", slog.String("error", err.Error()))
	}
	if err := c.segments.DeleteByVideo(ctx, videoID); err != nil {
		c.logger.Warn("partial segment cleanup failed", slog.String("error", err.Error()))
	}
	if err := c.subtitles.DeleteByVideo(ctx, videoID); err != nil {
		c.logger.Warn("partial subtitle cleanup failed", slog.String("error", err.Error()))
	}
	if len(refs) > 0 {
		c.uploader.DeleteRemote(ctx, refs)
	}
	if err := c.videos.UpdateStatus(ctx, videoID, models.VideoStatusError, reason); err != nil {
		c.logger.Warn("marking video errored failed", slog.String("error", err.Error()))
	}
	os.RemoveAll(scratchDir)
	c.tracker.fail(jobID, reason)
}

func (c *Coordinator) collectRefs(ctx context.Context, videoID string) ([]distributor.BlobRef, error) {
	var refs []distributor.BlobRef
	segs, err := c.segments.ListByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	for _, s := range segs {
		refs = append(refs, distributor.BlobRef{Handle: s.Handle, AccountID: s.AccountID})
	}
	tracks, err := c.subtitles.ListByVideo(ctx, videoID)
	if err != nil {
		return refs, err
	}
	for _, t := range tracks {
		refs = append(refs, distributor.BlobRef{Handle: t.Handle, AccountID: t.AccountID})
	}
	return refs, nil
}

// Delete removes a video. Database rows go first in one transaction; the
// platform blobs follow best-effort in the background. A second delete of
// the same id reports NOT_FOUND.
func (c *Coordinator) Delete(ctx context.Context, videoID string) error {
	video, err := c.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return models.E(models.KindNotFound, "video %s not found", videoID)
	}

	refs, err := c.collectRefs(ctx, videoID)
	if err != nil {
		return err
	}
	if err := c.videos.Delete(ctx, videoID); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.InvalidateVideo(videoID, video.TotalSegments)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ok := c.uploader.DeleteRemote(c.bg, refs)
		c.logger.Info("remote delete fan-out finished",
			slog.String("video_id", videoID),
			slog.Int("deleted", ok),
			slog.Int("total", len(refs)))
	}()

	c.logger.Info("video deleted", slog.String("video_id", videoID))
	return nil
}

// ResumeInterrupted scans for videos left in processing by a previous run.
// A valid scratch plan resumes distribution; anything else is unwound to
// error.
func (c *Coordinator) ResumeInterrupted(ctx context.Context) error {
	stuck, err := c.videos.ListByStatus(ctx, models.VideoStatusProcessing)
	if err != nil {
		return err
	}

	for _, video := range stuck {
		videoID := video.ID
		scratchDir := c.ScratchDir(videoID)
		pf, ok := readPlanFile(scratchDir)
		if !ok {
			c.logger.Warn("no resumable scratch for interrupted ingest",
				slog.String("video_id", videoID))
			jobID := ulid.Make().String()
			c.tracker.start(jobID, videoID)
			c.failIngestWithReason(ctx, jobID, videoID, scratchDir, "INTERRUPTED",
				models.E(models.KindTranscodeFailed, "ingest interrupted, scratch lost"))
			continue
		}

		jobID := ulid.Make().String()
		c.tracker.start(jobID, videoID)
		c.logger.Info("resuming interrupted ingest",
			slog.String("video_id", videoID),
			slog.String("job_id", jobID))

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.finishIngest(c.bg, jobID, videoID, scratchDir, pf); err != nil {
				c.failIngest(c.bg, jobID, videoID, scratchDir, err)
			}
		}()
	}
	return nil
}

// StartMaintenance schedules the cache TTL sweep, progress pruning, and
// orphan scratch collection.
func (c *Coordinator) StartMaintenance() {
	c.cron = cron.New()
	c.cron.AddFunc("@every 1m", func() {
		if c.cache != nil {
			c.cache.SweepExpired()
		}
	})
	c.cron.AddFunc("@every 10m", func() {
		c.tracker.prune(progressRetention)
		c.collectOrphanScratch()
	})
	c.cron.Start()
}

// collectOrphanScratch removes stale scratch directories whose video is no
// longer processing.
func (c *Coordinator) collectOrphanScratch() {
	entries, err := os.ReadDir(c.scratchRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoID := entry.Name()

		c.mu.Lock()
		_, busy := c.ingesting[videoID]
		c.mu.Unlock()
		if busy {
			continue
		}

		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) < orphanScratchAge {
			continue
		}
		video, err := c.videos.GetByID(c.bg, videoID)
		if err != nil {
			continue
		}
		if video != nil && video.Status == models.VideoStatusProcessing {
			continue
		}
		path := filepath.Join(c.scratchRoot, videoID)
		if err := os.RemoveAll(path); err == nil {
			c.logger.Info("removed orphan scratch dir", slog.String("path", path))
		}
	}
}

// Close stops maintenance and waits for background jobs to finish.
func (c *Coordinator) Close() {
	if c.cron != nil {
		c.cron.Stop()
	}
	c.cancel()
	c.wg.Wait()
}

func plannedBytes(segments []planner.PlannedSegment) int64 {
	var total int64
	for _, s := range segments {
		total += s.ByteSize
	}
	return total
}

// bytePrefixes[i] is the byte total of the first i segments.
func bytePrefixes(segments []planner.PlannedSegment) []int64 {
	out := make([]int64, len(segments)+1)
	for i, s := range segments {
		out[i+1] = out[i] + s.ByteSize
	}
	return out
}

// moveFile renames src into place, copying across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
