// Package stream serves playback reads: playlists rendered from metadata
// rows and segment bytes pulled back from the blob platform through the
// cache.
package stream

import (
	"context"
	"io"
	"log/slog"

	"github.com/hlsvault/hlsvault/internal/blob"
	"github.com/hlsvault/hlsvault/internal/cache"
	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/hls"
	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/internal/repository"
)

// BlobFetcher downloads stored blobs. Implemented by *blob.Client.
type BlobFetcher interface {
	Download(ctx context.Context, account blob.Account, handle string) (io.ReadCloser, int64, error)
}

// Source answers playback requests for active videos.
type Source struct {
	videos    repository.VideoRepository
	segments  repository.SegmentRepository
	subtitles repository.SubtitleRepository
	accounts  []blob.Account
	client    BlobFetcher
	cache     *cache.Cache
	prefetch  *cache.Prefetcher
	logger    *slog.Logger
}

// New wires a Source and its read-ahead prefetcher.
func New(
	videos repository.VideoRepository,
	segments repository.SegmentRepository,
	subtitles repository.SubtitleRepository,
	accounts []blob.Account,
	client BlobFetcher,
	segCache *cache.Cache,
	cfg config.CacheConfig,
	log *slog.Logger,
) *Source {
	if log == nil {
		log = slog.Default()
	}
	s := &Source{
		videos:    videos,
		segments:  segments,
		subtitles: subtitles,
		accounts:  accounts,
		client:    client,
		cache:     segCache,
		logger:    log.With(slog.String("component", "stream")),
	}
	s.prefetch = cache.NewPrefetcher(segCache, s.fetchSegment, cfg.PreloadSegments, cfg.MaxConcurrentPreload, log)
	return s
}

// Close stops the prefetcher and waits for in-flight warms.
func (s *Source) Close() {
	s.prefetch.Close()
}

// Video returns an active video's row. Processing and errored videos are
// not playable and report NOT_FOUND.
func (s *Source) Video(ctx context.Context, videoID string) (*models.Video, error) {
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil || video.Status != models.VideoStatusActive {
		return nil, models.E(models.KindNotFound, "video %s not found", videoID)
	}
	return video, nil
}

// MasterPlaylist renders the master playlist. baseURL prefixes URIs; pass
// "" for relative ones.
func (s *Source) MasterPlaylist(ctx context.Context, videoID, baseURL string) (string, error) {
	video, err := s.Video(ctx, videoID)
	if err != nil {
		return "", err
	}
	tracks, err := s.subtitles.ListByVideo(ctx, videoID)
	if err != nil {
		return "", err
	}
	return hls.Master(video, tracks, baseURL), nil
}

// MediaPlaylist renders the single variant's segment playlist.
func (s *Source) MediaPlaylist(ctx context.Context, videoID, baseURL string) (string, error) {
	if _, err := s.Video(ctx, videoID); err != nil {
		return "", err
	}
	segs, err := s.segments.ListByVideo(ctx, videoID)
	if err != nil {
		return "", err
	}
	return hls.Media(segs, baseURL), nil
}

// SegmentData returns one segment's bytes, via the cache, and schedules
// read-ahead for the ordinals a sequential player needs next.
func (s *Source) SegmentData(ctx context.Context, videoID string, ordinal int) ([]byte, error) {
	video, err := s.Video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if ordinal < 0 || ordinal >= video.TotalSegments {
		return nil, models.E(models.KindNotFound, "segment %d of %s not found", ordinal, videoID)
	}

	data, err := s.cache.Get(ctx, cache.Key{VideoID: videoID, Ordinal: ordinal}, s.fetchSegment)
	if err != nil {
		return nil, err
	}
	s.prefetch.Schedule(videoID, ordinal, video.TotalSegments)
	return data, nil
}

// SubtitleTrack returns a subtitle track's row and its WebVTT bytes.
// Subtitles bypass the segment cache; they are small and fetched rarely.
func (s *Source) SubtitleTrack(ctx context.Context, videoID, language string) (*models.SubtitleTrack, []byte, error) {
	if _, err := s.Video(ctx, videoID); err != nil {
		return nil, nil, err
	}
	track, err := s.subtitles.GetByLanguage(ctx, videoID, language)
	if err != nil {
		return nil, nil, err
	}
	if track == nil {
		return nil, nil, models.E(models.KindNotFound, "subtitle %s of %s not found", language, videoID)
	}
	data, err := s.download(ctx, track.AccountID, track.Handle)
	if err != nil {
		return nil, nil, err
	}
	return track, data, nil
}

// fetchSegment loads a segment's bytes from the platform, always through
// the account that uploaded it. A missing row under total_segments means
// the catalog lost a segment; the video is demoted to error so players
// stop retrying a stream that can never complete.
func (s *Source) fetchSegment(ctx context.Context, key cache.Key) ([]byte, error) {
	seg, err := s.segments.GetByOrdinal(ctx, key.VideoID, key.Ordinal)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		s.logger.Error("segment row missing for active video",
			slog.String("video_id", key.VideoID),
			slog.Int("ordinal", key.Ordinal))
		if uerr := s.videos.UpdateStatus(ctx, key.VideoID, models.VideoStatusError, string(models.KindIntegrityViolation)); uerr != nil {
			s.logger.Error("demoting video failed", slog.String("video_id", key.VideoID), slog.String("error", uerr.Error()))
		}
		return nil, models.E(models.KindIntegrityViolation, "segment %d of %s has no catalog row", key.Ordinal, key.VideoID)
	}
	return s.download(ctx, seg.AccountID, seg.Handle)
}

func (s *Source) download(ctx context.Context, accountID, handle string) ([]byte, error) {
	account, ok := blob.ByID(s.accounts, accountID)
	if !ok {
		return nil, models.E(models.KindAccountUnavailable, "account %s is not configured", accountID)
	}
	body, _, err := s.client.Download(ctx, account, handle)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
