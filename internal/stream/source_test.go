package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hlsvault/hlsvault/internal/blob"
	"github.com/hlsvault/hlsvault/internal/cache"
	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/repository"
)

type fakeFetcher struct {
	downloads atomic.Int64
	failWith  error
}

func (f *fakeFetcher) Download(ctx context.Context, account blob.Account, handle string) (io.ReadCloser, int64, error) {
	if f.failWith != nil {
		return nil, 0, f.failWith
	}
	f.downloads.Add(1)
	payload := fmt.Sprintf("bytes-of-%s-via-%s", handle, account.ID)
	return io.NopCloser(strings.NewReader(payload)), int64(len(payload)), nil
}

func testAccounts() []blob.Account {
	return []blob.Account{
		{ID: "account_1", Token: "t1", ChatID: "c1"},
		{ID: "account_2", Token: "t2", ChatID: "c2"},
	}
}

func setupSource(t *testing.T, fetcher *fakeFetcher) (*Source, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Segment{}, &models.SubtitleTrack{}))

	cfg := config.CacheConfig{Type: "memory", Size: config.ByteSize(1 << 20)}
	segCache, err := cache.New(cfg, "", nil)
	require.NoError(t, err)

	src := New(
		repository.NewVideoRepository(db),
		repository.NewSegmentRepository(db),
		repository.NewSubtitleRepository(db),
		testAccounts(),
		fetcher,
		segCache,
		cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	t.Cleanup(src.Close)
	return src, db
}

func seedVideo(t *testing.T, db *gorm.DB, id string, status models.VideoStatus, segments int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Video{
		ID: id, Filename: id + ".mkv", Container: "mp4",
		VideoCodec: "h264", AudioCodec: "aac",
		Duration: float64(10 * segments), TotalSegments: segments,
		ByteSize: int64(segments) * 1000, Status: status,
	}).Error)
	for i := 0; i < segments; i++ {
		require.NoError(t, db.Create(&models.Segment{
			VideoID: id, Ordinal: i, Filename: models.SegmentFilename(i),
			Duration: 10, ByteSize: 1000,
			Handle:    fmt.Sprintf("file-%05d:%d", i, i),
			AccountID: "account_1",
		}).Error)
	}
}

func TestSegmentDataCachesFetches(t *testing.T) {
	fetcher := &fakeFetcher{}
	src, db := setupSource(t, fetcher)
	seedVideo(t, db, "movie", models.VideoStatusActive, 3)
	ctx := context.Background()

	first, err := src.SegmentData(ctx, "movie", 1)
	require.NoError(t, err)
	assert.Equal(t, "bytes-of-file-00001:1-via-account_1", string(first))

	second, err := src.SegmentData(ctx, "movie", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), fetcher.downloads.Load())
}

func TestSegmentDataUnknownOrdinal(t *testing.T) {
	src, db := setupSource(t, &fakeFetcher{})
	seedVideo(t, db, "movie", models.VideoStatusActive, 3)

	_, err := src.SegmentData(context.Background(), "movie", 7)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestProcessingVideoIsNotPlayable(t *testing.T) {
	src, db := setupSource(t, &fakeFetcher{})
	seedVideo(t, db, "movie", models.VideoStatusProcessing, 3)

	_, err := src.MasterPlaylist(context.Background(), "movie", "")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestSegmentDataUnknownAccount(t *testing.T) {
	src, db := setupSource(t, &fakeFetcher{})
	seedVideo(t, db, "movie", models.VideoStatusActive, 1)
	require.NoError(t, db.Model(&models.Segment{}).
		Where("video_id = ? AND ordinal = ?", "movie", 0).
		Update("account_id", "account_9").Error)

	_, err := src.SegmentData(context.Background(), "movie", 0)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindAccountUnavailable))
}

func TestSegmentRowGapDemotesVideo(t *testing.T) {
	src, db := setupSource(t, &fakeFetcher{})
	seedVideo(t, db, "movie", models.VideoStatusActive, 3)
	require.NoError(t, db.Where("video_id = ? AND ordinal = ?", "movie", 1).
		Delete(&models.Segment{}).Error)

	_, err := src.SegmentData(context.Background(), "movie", 1)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindIntegrityViolation))

	var video models.Video
	require.NoError(t, db.First(&video, "id = ?", "movie").Error)
	assert.Equal(t, models.VideoStatusError, video.Status)
	assert.Equal(t, "INTEGRITY_VIOLATION", video.ErrorReason)
}

func TestMasterAndMediaPlaylists(t *testing.T) {
	src, db := setupSource(t, &fakeFetcher{})
	seedVideo(t, db, "movie", models.VideoStatusActive, 2)
	ctx := context.Background()

	master, err := src.MasterPlaylist(ctx, "movie", "")
	require.NoError(t, err)
	assert.Contains(t, master, "v0/playlist.m3u8")

	media, err := src.MediaPlaylist(ctx, "movie", "")
	require.NoError(t, err)
	assert.Contains(t, media, "segment_00000.ts")
	assert.Contains(t, media, "#EXT-X-ENDLIST")
}

func TestSubtitleTrack(t *testing.T) {
	fetcher := &fakeFetcher{}
	src, db := setupSource(t, fetcher)
	seedVideo(t, db, "movie", models.VideoStatusActive, 1)
	require.NoError(t, db.Create(&models.SubtitleTrack{
		VideoID: "movie", TrackIndex: 0, Language: "en", Codec: "webvtt",
		Handle: "sub-en:5", AccountID: "account_2", ByteSize: 10,
	}).Error)
	ctx := context.Background()

	track, data, err := src.SubtitleTrack(ctx, "movie", "en")
	require.NoError(t, err)
	assert.Equal(t, "en", track.Language)
	assert.Equal(t, "bytes-of-sub-en:5-via-account_2", string(data))

	_, _, err = src.SubtitleTrack(ctx, "movie", "fr")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}
