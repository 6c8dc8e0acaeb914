package models

import (
	"path/filepath"
	"time"

	"gorm.io/gorm"
)

// MediaItem is a playable file known to the catalog. Codec fields are empty
// until the file has been probed once.
type MediaItem struct {
	BaseModel

	// MediaID is the external identifier clients use to request playback.
	MediaID string `gorm:"uniqueIndex;not null;size:255" json:"media_id"`
	Path    string `gorm:"not null;size:4096" json:"path"`

	VideoCodec string     `gorm:"size:50" json:"video_codec,omitempty"`
	AudioCodec string     `gorm:"size:50" json:"audio_codec,omitempty"`
	Container  string     `gorm:"size:100" json:"container,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	ProbedAt   *time.Time `json:"probed_at,omitempty"`
}

// TableName returns the table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_items"
}

// IsProbed reports whether codec information has been cached.
func (m *MediaItem) IsProbed() bool {
	return m.ProbedAt != nil
}

// Validate performs basic validation on the media item.
func (m *MediaItem) Validate() error {
	if m.MediaID == "" {
		return ErrMediaIDRequired
	}
	if m.Path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(m.Path) {
		return ErrPathNotAbsolute
	}
	return nil
}

// BeforeCreate is a GORM hook that assigns an ID and validates.
func (m *MediaItem) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (m *MediaItem) BeforeUpdate(_ *gorm.DB) error {
	return m.Validate()
}
