// Package models defines GORM database models for hlsvault entities.
package models

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// VideoStatus represents the lifecycle state of a stored video.
type VideoStatus string

const (
	// VideoStatusProcessing indicates ingest is in progress; segment rows may
	// be partial and the video is invisible to playlist generation.
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusActive indicates ingest committed; all invariants hold.
	VideoStatusActive VideoStatus = "active"
	// VideoStatusError indicates an unrecoverable ingest failure. Rows are
	// retained for diagnostics.
	VideoStatusError VideoStatus = "error"
)

// Video is the catalog entry for one stored video. It owns its segments and
// subtitle tracks; deleting a video cascades.
type Video struct {
	// ID is a stable textual identifier derived from the source filename.
	ID string `gorm:"primaryKey;size:255" json:"id"`

	Filename      string      `gorm:"not null;size:512" json:"filename"`
	Container     string      `gorm:"size:64" json:"container"`
	VideoCodec    string      `gorm:"size:64" json:"video_codec"`
	AudioCodec    string      `gorm:"size:64" json:"audio_codec"`
	Duration      float64     `gorm:"not null" json:"duration"`
	TotalSegments int         `gorm:"not null" json:"total_segments"`
	ByteSize      int64       `gorm:"not null" json:"byte_size"`
	Status        VideoStatus `gorm:"not null;size:20;index" json:"status"`

	// ErrorReason holds a short reason code when Status is error.
	ErrorReason string `gorm:"size:64" json:"error_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Segments       []Segment       `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE" json:"-"`
	SubtitleTracks []SubtitleTrack `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE" json:"-"`
}

// Validate checks required fields before persistence.
func (v *Video) Validate() error {
	if v.ID == "" {
		return E(KindConfigInvalid, "video id is required")
	}
	if v.Filename == "" {
		return E(KindConfigInvalid, "video filename is required")
	}
	switch v.Status {
	case VideoStatusProcessing, VideoStatusActive, VideoStatusError:
	default:
		return E(KindConfigInvalid, "invalid video status %q", v.Status)
	}
	return nil
}

// BeforeCreate runs model validation.
func (v *Video) BeforeCreate(_ *gorm.DB) error {
	return v.Validate()
}

var videoIDSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// VideoIDFromFilename derives a stable, URL-safe video identifier from a
// source filename. Collisions are resolved by the caller via CollisionSuffix.
func VideoIDFromFilename(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	id := strings.ToLower(stem)
	id = videoIDSanitizer.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if id == "" {
		id = "video"
	}
	return id
}

// CollisionSuffix appends a numeric suffix for the n-th collision of an id.
func CollisionSuffix(id string, n int) string {
	return fmt.Sprintf("%s_%d", id, n)
}
