package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Segment is one uploaded media segment of a video. A row exists only after
// its upload committed; ordinals are dense starting at 0.
type Segment struct {
	VideoID string `gorm:"primaryKey;size:255" json:"video_id"`
	Ordinal int    `gorm:"primaryKey;autoIncrement:false" json:"ordinal"`

	Filename string  `gorm:"not null;size:255" json:"filename"`
	Duration float64 `gorm:"not null" json:"duration"`
	ByteSize int64   `gorm:"not null" json:"byte_size"`

	// Handle is the opaque file identifier returned by the blob platform.
	Handle string `gorm:"not null;size:512" json:"handle"`

	// AccountID records which account uploaded the segment. It is immutable
	// after insert; retrieval must use exactly this account.
	AccountID string `gorm:"not null;size:64" json:"account_id"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields before persistence.
func (s *Segment) Validate() error {
	if s.VideoID == "" {
		return E(KindConfigInvalid, "segment video_id is required")
	}
	if s.Ordinal < 0 {
		return E(KindConfigInvalid, "segment ordinal must not be negative")
	}
	if s.Handle == "" {
		return E(KindConfigInvalid, "segment handle is required")
	}
	if s.AccountID == "" {
		return E(KindConfigInvalid, "segment account_id is required")
	}
	return nil
}

// BeforeCreate runs model validation.
func (s *Segment) BeforeCreate(_ *gorm.DB) error {
	return s.Validate()
}

// SegmentFilename returns the canonical on-disk and playlist filename for an
// ordinal, zero-padded so lexical order matches ordinal order.
func SegmentFilename(ordinal int) string {
	return fmt.Sprintf("segment_%05d.ts", ordinal)
}
