package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hlsvault/hlsvault/internal/models"
)

// subtitleRepo implements SubtitleRepository using GORM.
type subtitleRepo struct {
	db *gorm.DB
}

// NewSubtitleRepository creates a new SubtitleRepository.
func NewSubtitleRepository(db *gorm.DB) SubtitleRepository {
	return &subtitleRepo{db: db}
}

// Create inserts one subtitle track row.
func (r *subtitleRepo) Create(ctx context.Context, track *models.SubtitleTrack) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("creating subtitle track: %w", err)
	}
	return nil
}

// GetByLanguage retrieves the first subtitle track matching a language code.
func (r *subtitleRepo) GetByLanguage(ctx context.Context, videoID, language string) (*models.SubtitleTrack, error) {
	var track models.SubtitleTrack
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND language = ?", videoID, language).
		Order("track_index ASC").
		First(&track).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting subtitle track: %w", err)
	}
	return &track, nil
}

// ListByVideo returns all subtitle tracks of a video in track order.
func (r *subtitleRepo) ListByVideo(ctx context.Context, videoID string) ([]*models.SubtitleTrack, error) {
	var tracks []*models.SubtitleTrack
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("track_index ASC").
		Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("listing subtitle tracks: %w", err)
	}
	return tracks, nil
}

// DeleteByVideo removes all subtitle rows for a video.
func (r *subtitleRepo) DeleteByVideo(ctx context.Context, videoID string) error {
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&models.SubtitleTrack{}).Error; err != nil {
		return fmt.Errorf("deleting subtitle tracks: %w", err)
	}
	return nil
}
