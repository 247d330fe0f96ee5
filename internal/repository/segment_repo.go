package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hlsvault/hlsvault/internal/models"
)

// segmentRepo implements SegmentRepository using GORM.
type segmentRepo struct {
	db *gorm.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &segmentRepo{db: db}
}

// Create inserts one segment row. Each successful upload commits through a
// single-row insert so a crash leaves a resumable prefix, never a gap.
func (r *segmentRepo) Create(ctx context.Context, segment *models.Segment) error {
	if err := r.db.WithContext(ctx).Create(segment).Error; err != nil {
		return fmt.Errorf("creating segment: %w", err)
	}
	return nil
}

// GetByOrdinal retrieves one segment of a video.
func (r *segmentRepo) GetByOrdinal(ctx context.Context, videoID string, ordinal int) (*models.Segment, error) {
	var segment models.Segment
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND ordinal = ?", videoID, ordinal).
		First(&segment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting segment: %w", err)
	}
	return &segment, nil
}

// ListByVideo returns all segments of a video in ordinal order.
func (r *segmentRepo) ListByVideo(ctx context.Context, videoID string) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("ordinal ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	return segments, nil
}

// CountByVideo returns the number of committed segments for a video.
func (r *segmentRepo) CountByVideo(ctx context.Context, videoID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.Segment{}).
		Where("video_id = ?", videoID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting segments: %w", err)
	}
	return n, nil
}

// DeleteByVideo removes all segment rows for a video.
func (r *segmentRepo) DeleteByVideo(ctx context.Context, videoID string) error {
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&models.Segment{}).Error; err != nil {
		return fmt.Errorf("deleting segments: %w", err)
	}
	return nil
}
