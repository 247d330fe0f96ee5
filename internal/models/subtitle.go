package models

import (
	"time"

	"gorm.io/gorm"
)

// SubtitleTrack is one extracted subtitle stream of a video, stored remotely
// like a segment and served as a single HLS media entry.
type SubtitleTrack struct {
	VideoID    string `gorm:"primaryKey;size:255" json:"video_id"`
	TrackIndex int    `gorm:"primaryKey;autoIncrement:false" json:"track_index"`

	Language string `gorm:"not null;size:16" json:"language"`
	Title    string `gorm:"size:255" json:"title,omitempty"`
	Codec    string `gorm:"size:32" json:"codec"`

	IsDefault         bool `json:"is_default"`
	IsForced          bool `json:"is_forced"`
	IsHearingImpaired bool `json:"is_hearing_impaired"`

	Handle    string `gorm:"not null;size:512" json:"handle"`
	AccountID string `gorm:"not null;size:64" json:"account_id"`

	ByteSize  int64     `gorm:"not null" json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields before persistence.
func (s *SubtitleTrack) Validate() error {
	if s.VideoID == "" {
		return E(KindConfigInvalid, "subtitle video_id is required")
	}
	if s.Language == "" {
		return E(KindConfigInvalid, "subtitle language is required")
	}
	if s.Handle == "" {
		return E(KindConfigInvalid, "subtitle handle is required")
	}
	if s.AccountID == "" {
		return E(KindConfigInvalid, "subtitle account_id is required")
	}
	return nil
}

// BeforeCreate runs model validation.
func (s *SubtitleTrack) BeforeCreate(_ *gorm.DB) error {
	return s.Validate()
}

// MIMEType maps the stored codec to the subtitle content type served over
// HTTP.
func (s *SubtitleTrack) MIMEType() string {
	switch s.Codec {
	case "webvtt", "vtt":
		return "text/vtt"
	case "subrip", "srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}
