package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hlsvault/hlsvault/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepo{db: db}
}

// Create inserts a new video row.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by its identifier.
func (r *videoRepo) GetByID(ctx context.Context, id string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by id: %w", err)
	}
	return &video, nil
}

// List returns a page of videos ordered by creation time, newest first,
// along with the total count.
func (r *videoRepo) List(ctx context.Context, offset, limit int) ([]*models.Video, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Video{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting videos: %w", err)
	}

	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Offset(offset).Limit(limit).
		Find(&videos).Error; err != nil {
		return nil, 0, fmt.Errorf("listing videos: %w", err)
	}
	return videos, total, nil
}

// ListByStatus returns all videos in the given status.
func (r *videoRepo) ListByStatus(ctx context.Context, status models.VideoStatus) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("listing videos by status: %w", err)
	}
	return videos, nil
}

// Update saves all fields of an existing video.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// UpdateStatus transitions a video's lifecycle state, recording a reason
// code for error transitions.
func (r *videoRepo) UpdateStatus(ctx context.Context, id string, status models.VideoStatus, reason string) error {
	updates := map[string]any{"status": status, "error_reason": reason}
	result := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating video status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.E(models.KindNotFound, "video %s not found", id)
	}
	return nil
}

// Delete removes a video and, via cascade, its segments and subtitle tracks
// in one transaction. The child deletes are explicit so the behavior does
// not depend on the driver honoring ON DELETE CASCADE.
func (r *videoRepo) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&models.Segment{}).Error; err != nil {
			return fmt.Errorf("deleting segments: %w", err)
		}
		if err := tx.Where("video_id = ?", id).Delete(&models.SubtitleTrack{}).Error; err != nil {
			return fmt.Errorf("deleting subtitle tracks: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&models.Video{})
		if result.Error != nil {
			return fmt.Errorf("deleting video: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return models.E(models.KindNotFound, "video %s not found", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// AllocateID returns base if unused, otherwise the first free collision
// suffix (base_2, base_3, ...).
func (r *videoRepo) AllocateID(ctx context.Context, base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		existing, err := r.GetByID(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = models.CollisionSuffix(base, n)
	}
}
