package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hlsvault/hlsvault/internal/distributor"
	"github.com/hlsvault/hlsvault/internal/ffmpeg"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/planner"
	"github.com/hlsvault/hlsvault/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProber struct {
	info *ffmpeg.MediaInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	return f.info, f.err
}

type fakeExtractor struct {
	failLanguages map[string]bool
}

func (f *fakeExtractor) ExtractSubtitle(ctx context.Context, input string, typeIndex int, output string) error {
	for lang := range f.failLanguages {
		if filepath.Base(output) == fmt.Sprintf("subtitle_%02d_%s.vtt", typeIndex, lang) {
			return models.E(models.KindTranscodeFailed, "no such stream")
		}
	}
	return os.WriteFile(output, []byte("WEBVTT\n"), 0o644)
}

type fakePlanner struct {
	segments int
	err      error
}

func (f *fakePlanner) Plan(ctx context.Context, input string, info *ffmpeg.MediaInfo, scratchDir string) (*planner.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	plan := &planner.Plan{NominalDuration: 10}
	for i := 0; i < f.segments; i++ {
		path := filepath.Join(scratchDir, models.SegmentFilename(i))
		payload := make([]byte, 100*(i+1))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return nil, err
		}
		plan.Segments = append(plan.Segments, planner.PlannedSegment{
			Ordinal:  i,
			Path:     path,
			Duration: 10,
			ByteSize: int64(len(payload)),
		})
	}
	return plan, nil
}

// fakeUploader commits segment rows like the real distributor and records
// every call for assertions.
type fakeUploader struct {
	segments repository.SegmentRepository

	mu            sync.Mutex
	failAfter     int // fail once this many segments committed; <0 disables
	startOrdinals []int
	deleted       [][]distributor.BlobRef
	blobUploads   []string
}

func newFakeUploader(segments repository.SegmentRepository) *fakeUploader {
	return &fakeUploader{segments: segments, failAfter: -1}
}

func (f *fakeUploader) Distribute(ctx context.Context, videoID string, segs []planner.PlannedSegment, startOrdinal int, onProgress func(done, total int)) error {
	f.mu.Lock()
	f.startOrdinals = append(f.startOrdinals, startOrdinal)
	failAfter := f.failAfter
	f.mu.Unlock()

	done := startOrdinal
	for _, seg := range segs {
		if seg.Ordinal < startOrdinal {
			continue
		}
		if failAfter >= 0 && done >= failAfter {
			return models.E(models.KindUploadFailed, "upload rejected")
		}
		row := &models.Segment{
			VideoID:   videoID,
			Ordinal:   seg.Ordinal,
			Filename:  models.SegmentFilename(seg.Ordinal),
			Duration:  seg.Duration,
			ByteSize:  seg.ByteSize,
			Handle:    fmt.Sprintf("file-%05d:%d", seg.Ordinal, seg.Ordinal),
			AccountID: "account_1",
		}
		if err := f.segments.Create(ctx, row); err != nil {
			return err
		}
		done++
		onProgress(done, len(segs))
	}
	return nil
}

func (f *fakeUploader) UploadBlob(ctx context.Context, videoID string, index int, filename, path string) (string, string, int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", "", 0, err
	}
	f.mu.Lock()
	f.blobUploads = append(f.blobUploads, filename)
	f.mu.Unlock()
	return fmt.Sprintf("sub-%s:%d", filename, index), "account_2", st.Size(), nil
}

func (f *fakeUploader) DeleteRemote(ctx context.Context, refs []distributor.BlobRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, refs)
	return len(refs)
}

type testEnv struct {
	coord     *Coordinator
	videos    repository.VideoRepository
	segments  repository.SegmentRepository
	subtitles repository.SubtitleRepository
	uploader  *fakeUploader
	planner   *fakePlanner
	prober    *fakeProber
	scratch   string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Segment{}, &models.SubtitleTrack{}))

	videos := repository.NewVideoRepository(db)
	segments := repository.NewSegmentRepository(db)
	subtitles := repository.NewSubtitleRepository(db)
	uploader := newFakeUploader(segments)
	fp := &fakePlanner{segments: 3}
	prober := &fakeProber{info: &ffmpeg.MediaInfo{
		Container: "matroska",
		Duration:  30,
		Video:     []ffmpeg.VideoTrack{{Codec: "h264"}},
		Audio:     []ffmpeg.AudioTrack{{Codec: "aac"}},
		Subtitles: []ffmpeg.SubtitleStream{
			{TypeIndex: 0, Language: "en", Title: "English", Default: true},
		},
	}}

	scratch := t.TempDir()
	coord, err := New(videos, segments, subtitles, prober, &fakeExtractor{}, fp, uploader, nil, scratch, testLogger())
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	return &testEnv{
		coord:     coord,
		videos:    videos,
		segments:  segments,
		subtitles: subtitles,
		uploader:  uploader,
		planner:   fp,
		prober:    prober,
		scratch:   scratch,
	}
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really an mkv"), 0o644))
	return path
}

func waitPhase(t *testing.T, env *testEnv, jobID string, want Phase) Progress {
	t.Helper()
	var last Progress
	require.Eventually(t, func() bool {
		p, ok := env.coord.Progress(jobID)
		if !ok {
			return false
		}
		last = p
		return p.Phase == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached phase %s, last: %+v", want, last)
	return last
}

func TestIngestSuccess(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	jobID := env.coord.BeginReceive()
	videoID, err := env.coord.StartIngest(ctx, jobID, writeSource(t, "Big Movie.mkv"), "Big Movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "big_movie", videoID)

	p := waitPhase(t, env, jobID, PhaseDone)
	assert.Equal(t, float64(100), p.Percent)

	video, err := env.videos.GetByID(ctx, videoID)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, models.VideoStatusActive, video.Status)
	assert.Equal(t, "matroska", video.Container)
	assert.Equal(t, "h264", video.VideoCodec)
	assert.Equal(t, "aac", video.AudioCodec)
	assert.Equal(t, 3, video.TotalSegments)
	assert.Equal(t, int64(100+200+300), video.ByteSize)

	count, err := env.segments.CountByVideo(ctx, videoID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	tracks, err := env.subtitles.ListByVideo(ctx, videoID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "en", tracks[0].Language)
	assert.Equal(t, "webvtt", tracks[0].Codec)
	assert.Equal(t, "account_2", tracks[0].AccountID)

	assert.NoDirExists(t, env.coord.ScratchDir(videoID))
}

func TestIngestConflictWhileProcessing(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.videos.Create(ctx, &models.Video{
		ID: "big_movie", Filename: "Big Movie.mkv", Status: models.VideoStatusProcessing,
	}))

	_, err := env.coord.StartIngest(ctx, env.coord.BeginReceive(), writeSource(t, "Big Movie.mkv"), "Big Movie.mkv")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))
}

func TestIngestAllocatesSuffixForActiveVideo(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.videos.Create(ctx, &models.Video{
		ID: "big_movie", Filename: "Big Movie.mkv", Status: models.VideoStatusActive,
	}))

	jobID := env.coord.BeginReceive()
	videoID, err := env.coord.StartIngest(ctx, jobID, writeSource(t, "Big Movie.mkv"), "Big Movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "big_movie_2", videoID)
	waitPhase(t, env, jobID, PhaseDone)
}

func TestIngestFailureUnwindsPartialUploads(t *testing.T) {
	env := setupEnv(t)
	env.uploader.failAfter = 2
	ctx := context.Background()

	jobID := env.coord.BeginReceive()
	videoID, err := env.coord.StartIngest(ctx, jobID, writeSource(t, "movie.mkv"), "movie.mkv")
	require.NoError(t, err)

	p := waitPhase(t, env, jobID, PhaseError)
	assert.Equal(t, "UPLOAD_FAILED", p.Error)

	video, err := env.videos.GetByID(ctx, videoID)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, models.VideoStatusError, video.Status)
	assert.Equal(t, "UPLOAD_FAILED", video.ErrorReason)

	count, err := env.segments.CountByVideo(ctx, videoID)
	require.NoError(t, err)
	assert.Zero(t, count)

	env.uploader.mu.Lock()
	defer env.uploader.mu.Unlock()
	require.Len(t, env.uploader.deleted, 1)
	assert.Len(t, env.uploader.deleted[0], 2)

	assert.NoDirExists(t, env.coord.ScratchDir(videoID))
}

func TestIngestProbeFailure(t *testing.T) {
	env := setupEnv(t)
	env.prober.err = models.E(models.KindProbeFailed, "no video stream")
	ctx := context.Background()

	jobID := env.coord.BeginReceive()
	videoID, err := env.coord.StartIngest(ctx, jobID, writeSource(t, "noise.mkv"), "noise.mkv")
	require.NoError(t, err)

	waitPhase(t, env, jobID, PhaseError)
	video, err := env.videos.GetByID(ctx, videoID)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, "PROBE_FAILED", video.ErrorReason)
}

func TestSubtitleExtractionFailureIsNonFatal(t *testing.T) {
	env := setupEnv(t)
	env.prober.info.Subtitles = append(env.prober.info.Subtitles,
		ffmpeg.SubtitleStream{TypeIndex: 1, Language: "de"})
	ctx := context.Background()

	coord, err := New(env.videos, env.segments, env.subtitles, env.prober,
		&fakeExtractor{failLanguages: map[string]bool{"de": true}},
		env.planner, env.uploader, nil, t.TempDir(), testLogger())
	require.NoError(t, err)
	defer coord.Close()

	jobID := coord.BeginReceive()
	videoID, err := coord.StartIngest(ctx, jobID, writeSource(t, "movie.mkv"), "movie.mkv")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, ok := coord.Progress(jobID)
		return ok && p.Phase == PhaseDone
	}, 5*time.Second, 10*time.Millisecond)

	tracks, err := env.subtitles.ListByVideo(ctx, videoID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "en", tracks[0].Language)
}

func TestDeleteRemovesRowsAndFansOut(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	jobID := env.coord.BeginReceive()
	videoID, err := env.coord.StartIngest(ctx, jobID, writeSource(t, "movie.mkv"), "movie.mkv")
	require.NoError(t, err)
	waitPhase(t, env, jobID, PhaseDone)

	require.NoError(t, env.coord.Delete(ctx, videoID))

	video, err := env.videos.GetByID(ctx, videoID)
	require.NoError(t, err)
	assert.Nil(t, video)
	count, err := env.segments.CountByVideo(ctx, videoID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// 3 segments plus 1 subtitle fan out in the background.
	require.Eventually(t, func() bool {
		env.uploader.mu.Lock()
		defer env.uploader.mu.Unlock()
		return len(env.uploader.deleted) == 1 && len(env.uploader.deleted[0]) == 4
	}, 5*time.Second, 10*time.Millisecond)

	// A second delete of the same id finds nothing.
	err = env.coord.Delete(ctx, videoID)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestDeleteMissingVideoIsNotFound(t *testing.T) {
	env := setupEnv(t)
	err := env.coord.Delete(context.Background(), "never_existed")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestResumeInterruptedWithValidScratch(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	videoID := "crashed_movie"
	require.NoError(t, env.videos.Create(ctx, &models.Video{
		ID: videoID, Filename: "crashed_movie.mkv", Status: models.VideoStatusProcessing,
	}))

	scratchDir := env.coord.ScratchDir(videoID)
	require.NoError(t, os.MkdirAll(scratchDir, 0o755))
	plan, err := env.planner.Plan(ctx, "", nil, scratchDir)
	require.NoError(t, err)
	require.NoError(t, writePlanFile(scratchDir, &planFile{
		VideoID:         videoID,
		NominalDuration: plan.NominalDuration,
		Segments:        plan.Segments,
	}))

	// Ordinal 0 was committed before the crash.
	require.NoError(t, env.segments.Create(ctx, &models.Segment{
		VideoID: videoID, Ordinal: 0, Filename: models.SegmentFilename(0),
		Duration: 10, ByteSize: 100, Handle: "file-00000:0", AccountID: "account_1",
	}))

	require.NoError(t, env.coord.ResumeInterrupted(ctx))

	require.Eventually(t, func() bool {
		v, err := env.videos.GetByID(ctx, videoID)
		return err == nil && v != nil && v.Status == models.VideoStatusActive
	}, 5*time.Second, 10*time.Millisecond)

	env.uploader.mu.Lock()
	assert.Equal(t, []int{1}, env.uploader.startOrdinals)
	env.uploader.mu.Unlock()

	count, err := env.segments.CountByVideo(ctx, videoID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoDirExists(t, scratchDir)
}

func TestResumeInterruptedWithoutScratch(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.videos.Create(ctx, &models.Video{
		ID: "lost_movie", Filename: "lost_movie.mkv", Status: models.VideoStatusProcessing,
	}))

	require.NoError(t, env.coord.ResumeInterrupted(ctx))

	video, err := env.videos.GetByID(ctx, "lost_movie")
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, models.VideoStatusError, video.Status)
	assert.Equal(t, "INTERRUPTED", video.ErrorReason)
}

func TestPlanFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, models.SegmentFilename(0))
	require.NoError(t, os.WriteFile(segPath, []byte("ts"), 0o644))

	pf := &planFile{
		VideoID:         "movie",
		NominalDuration: 15,
		Segments:        []planner.PlannedSegment{{Ordinal: 0, Path: segPath, Duration: 15, ByteSize: 2}},
	}
	require.NoError(t, writePlanFile(dir, pf))

	got, ok := readPlanFile(dir)
	require.True(t, ok)
	assert.Equal(t, pf.VideoID, got.VideoID)
	assert.Equal(t, pf.Segments, got.Segments)

	// A vanished segment file invalidates the scratch dir.
	require.NoError(t, os.Remove(segPath))
	_, ok = readPlanFile(dir)
	assert.False(t, ok)
}

func TestReadPlanFileMissing(t *testing.T) {
	_, ok := readPlanFile(t.TempDir())
	assert.False(t, ok)
}

func TestBytePrefixes(t *testing.T) {
	prefix := bytePrefixes([]planner.PlannedSegment{
		{ByteSize: 100}, {ByteSize: 200}, {ByteSize: 300},
	})
	assert.Equal(t, []int64{0, 100, 300, 600}, prefix)
}

func TestProgressTrackerLifecycle(t *testing.T) {
	tr := newProgressTracker()
	tr.start("job1", "movie")
	tr.setPhase("job1", PhaseUploading)
	tr.update("job1", 50, 200)

	p, ok := tr.get("job1")
	require.True(t, ok)
	assert.Equal(t, PhaseUploading, p.Phase)
	assert.Equal(t, float64(25), p.Percent)

	tr.fail("job1", "UPLOAD_FAILED")
	p, _ = tr.get("job1")
	assert.Equal(t, PhaseError, p.Phase)
	assert.Equal(t, "UPLOAD_FAILED", p.Error)

	tr.prune(0)
	_, ok = tr.get("job1")
	assert.False(t, ok)
}

func TestProgressRateIgnoresResumedPrefix(t *testing.T) {
	tr := newProgressTracker()
	tr.start("job1", "movie")
	tr.setPhase("job1", PhaseUploading)

	// First update of a phase is the baseline; a resumed ingest reports
	// its already-committed prefix here and it must not count as moved.
	tr.update("job1", 500, 1000)
	p, ok := tr.get("job1")
	require.True(t, ok)
	assert.Zero(t, p.RateBPS)

	tr.update("job1", 600, 1000)
	p, _ = tr.get("job1")
	assert.Positive(t, p.RateBPS)
	assert.Positive(t, p.ETASeconds)
}

func TestReceivingPhaseVisibleBeforeStart(t *testing.T) {
	env := setupEnv(t)

	jobID := env.coord.BeginReceive()
	env.coord.ReceiveProgress(jobID, 1024, 4096)

	p, ok := env.coord.Progress(jobID)
	require.True(t, ok)
	assert.Equal(t, PhaseReceiving, p.Phase)
	assert.Equal(t, int64(1024), p.CurrentBytes)
	assert.Equal(t, float64(25), p.Percent)
}
