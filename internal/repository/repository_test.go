package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hlsvault/hlsvault/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Segment{}, &models.SubtitleTrack{}))
	return db
}

func testVideo(id string) *models.Video {
	return &models.Video{
		ID:         id,
		Filename:   id + ".mp4",
		Container:  "mp4",
		VideoCodec: "h264",
		AudioCodec: "aac",
		Duration:   120.5,
		Status:     models.VideoStatusProcessing,
	}
}

func TestVideoRepoCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testVideo("big_buck_bunny")))

	got, err := repo.GetByID(ctx, "big_buck_bunny")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "big_buck_bunny.mp4", got.Filename)
	assert.Equal(t, models.VideoStatusProcessing, got.Status)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVideoRepoList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, testVideo(fmt.Sprintf("clip_%d", i))))
	}

	videos, total, err := repo.List(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, videos, 3)

	rest, total, err := repo.List(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rest, 2)
}

func TestVideoRepoUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testVideo("movie")))
	require.NoError(t, repo.UpdateStatus(ctx, "movie", models.VideoStatusActive, ""))

	got, err := repo.GetByID(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusActive, got.Status)

	require.NoError(t, repo.UpdateStatus(ctx, "movie", models.VideoStatusError, "TRANSCODE_FAILED"))
	got, err = repo.GetByID(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusError, got.Status)
	assert.Equal(t, "TRANSCODE_FAILED", got.ErrorReason)

	err = repo.UpdateStatus(ctx, "nope", models.VideoStatusActive, "")
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestVideoRepoListByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testVideo("a")))
	require.NoError(t, repo.Create(ctx, testVideo("b")))
	require.NoError(t, repo.UpdateStatus(ctx, "b", models.VideoStatusActive, ""))

	stuck, err := repo.ListByStatus(ctx, models.VideoStatusProcessing)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "a", stuck[0].ID)
}

func TestVideoRepoDeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	videos := NewVideoRepository(db)
	segments := NewSegmentRepository(db)
	subtitles := NewSubtitleRepository(db)
	ctx := context.Background()

	require.NoError(t, videos.Create(ctx, testVideo("movie")))
	require.NoError(t, segments.Create(ctx, &models.Segment{
		VideoID: "movie", Ordinal: 0, Filename: models.SegmentFilename(0),
		Duration: 6, ByteSize: 1024, Handle: "h0", AccountID: "account_1",
	}))
	require.NoError(t, subtitles.Create(ctx, &models.SubtitleTrack{
		VideoID: "movie", TrackIndex: 0, Language: "en", Codec: "webvtt",
		Handle: "s0", AccountID: "account_1",
	}))

	require.NoError(t, videos.Delete(ctx, "movie"))

	n, err := segments.CountByVideo(ctx, "movie")
	require.NoError(t, err)
	assert.Zero(t, n)

	tracks, err := subtitles.ListByVideo(ctx, "movie")
	require.NoError(t, err)
	assert.Empty(t, tracks)

	err = videos.Delete(ctx, "movie")
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestVideoRepoAllocateID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	id, err := repo.AllocateID(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, "movie", id)

	require.NoError(t, repo.Create(ctx, testVideo("movie")))
	id, err = repo.AllocateID(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, "movie_2", id)

	require.NoError(t, repo.Create(ctx, testVideo("movie_2")))
	id, err = repo.AllocateID(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, "movie_3", id)
}

func TestSegmentRepoOrdering(t *testing.T) {
	db := setupTestDB(t)
	videos := NewVideoRepository(db)
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	require.NoError(t, videos.Create(ctx, testVideo("movie")))
	for _, ord := range []int{2, 0, 1} {
		require.NoError(t, repo.Create(ctx, &models.Segment{
			VideoID: "movie", Ordinal: ord, Filename: models.SegmentFilename(ord),
			Duration: 6, ByteSize: 1 << 20, Handle: fmt.Sprintf("h%d", ord), AccountID: "account_1",
		}))
	}

	got, err := repo.ListByVideo(ctx, "movie")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, seg := range got {
		assert.Equal(t, i, seg.Ordinal)
	}

	seg, err := repo.GetByOrdinal(ctx, "movie", 1)
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.Equal(t, "segment_00001.ts", seg.Filename)

	seg, err = repo.GetByOrdinal(ctx, "movie", 99)
	require.NoError(t, err)
	assert.Nil(t, seg)
}

func TestSegmentRepoCompositeKey(t *testing.T) {
	db := setupTestDB(t)
	videos := NewVideoRepository(db)
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	require.NoError(t, videos.Create(ctx, testVideo("a")))
	require.NoError(t, videos.Create(ctx, testVideo("b")))

	// Same ordinal under two videos must not collide.
	require.NoError(t, repo.Create(ctx, &models.Segment{
		VideoID: "a", Ordinal: 0, Filename: models.SegmentFilename(0),
		Duration: 6, ByteSize: 1, Handle: "ha", AccountID: "account_1",
	}))
	require.NoError(t, repo.Create(ctx, &models.Segment{
		VideoID: "b", Ordinal: 0, Filename: models.SegmentFilename(0),
		Duration: 6, ByteSize: 1, Handle: "hb", AccountID: "account_2",
	}))

	// Duplicate ordinal under the same video must fail.
	err := repo.Create(ctx, &models.Segment{
		VideoID: "a", Ordinal: 0, Filename: models.SegmentFilename(0),
		Duration: 6, ByteSize: 1, Handle: "dup", AccountID: "account_1",
	})
	assert.Error(t, err)
}

func TestSubtitleRepoByLanguage(t *testing.T) {
	db := setupTestDB(t)
	videos := NewVideoRepository(db)
	repo := NewSubtitleRepository(db)
	ctx := context.Background()

	require.NoError(t, videos.Create(ctx, testVideo("movie")))
	require.NoError(t, repo.Create(ctx, &models.SubtitleTrack{
		VideoID: "movie", TrackIndex: 0, Language: "en", Title: "English",
		Codec: "webvtt", IsDefault: true, Handle: "s0", AccountID: "account_1",
	}))
	require.NoError(t, repo.Create(ctx, &models.SubtitleTrack{
		VideoID: "movie", TrackIndex: 1, Language: "de", Title: "Deutsch",
		Codec: "webvtt", Handle: "s1", AccountID: "account_2",
	}))

	track, err := repo.GetByLanguage(ctx, "movie", "de")
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.Equal(t, "Deutsch", track.Title)

	track, err = repo.GetByLanguage(ctx, "movie", "fr")
	require.NoError(t, err)
	assert.Nil(t, track)

	all, err := repo.ListByVideo(ctx, "movie")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].IsDefault)
}
