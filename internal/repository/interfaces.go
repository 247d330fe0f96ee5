// Package repository provides data access for hlsvault models using GORM.
// Lookups return (nil, nil) when no row matches; callers decide whether that
// is an error.
package repository

import (
	"context"

	"github.com/hlsvault/hlsvault/internal/models"
)

// VideoRepository manages videos rows.
type VideoRepository interface {
	Create(ctx context.Context, video *models.Video) error
	GetByID(ctx context.Context, id string) (*models.Video, error)
	List(ctx context.Context, offset, limit int) ([]*models.Video, int64, error)
	ListByStatus(ctx context.Context, status models.VideoStatus) ([]*models.Video, error)
	Update(ctx context.Context, video *models.Video) error
	UpdateStatus(ctx context.Context, id string, status models.VideoStatus, reason string) error
	Delete(ctx context.Context, id string) error
	AllocateID(ctx context.Context, base string) (string, error)
}

// SegmentRepository manages segments rows.
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.Segment) error
	GetByOrdinal(ctx context.Context, videoID string, ordinal int) (*models.Segment, error)
	ListByVideo(ctx context.Context, videoID string) ([]*models.Segment, error)
	CountByVideo(ctx context.Context, videoID string) (int64, error)
	DeleteByVideo(ctx context.Context, videoID string) error
}

// SubtitleRepository manages subtitle_tracks rows.
type SubtitleRepository interface {
	Create(ctx context.Context, track *models.SubtitleTrack) error
	GetByLanguage(ctx context.Context, videoID, language string) (*models.SubtitleTrack, error)
	ListByVideo(ctx context.Context, videoID string) ([]*models.SubtitleTrack, error)
	DeleteByVideo(ctx context.Context, videoID string) error
}
