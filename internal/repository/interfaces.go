// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces.
package repository

import (
	"context"

	"github.com/jmylchreest/vodarr/internal/models"
)

// MediaItemRepository defines operations for media catalog persistence.
// Lookups return nil, nil when the item does not exist.
type MediaItemRepository interface {
	// Create creates a new media item.
	Create(ctx context.Context, item *models.MediaItem) error
	// GetByMediaID retrieves a media item by its external identifier.
	GetByMediaID(ctx context.Context, mediaID string) (*models.MediaItem, error)
	// List retrieves all media items ordered by media ID.
	List(ctx context.Context) ([]*models.MediaItem, error)
	// UpdateProbe stores probed codec information for a media item.
	UpdateProbe(ctx context.Context, item *models.MediaItem) error
	// DeleteByMediaID deletes a media item and reports whether it existed.
	DeleteByMediaID(ctx context.Context, mediaID string) (bool, error)
}

// KeyframeRepository persists per-media keyframe indexes. Timestamps are in
// milliseconds and are stored in ascending order.
type KeyframeRepository interface {
	// Replace atomically swaps the index of a media item for timestamps.
	// Readers never observe a partially written index.
	Replace(ctx context.Context, mediaID string, timestamps []int64) error
	// Exists reports whether any index has been persisted for the media item.
	Exists(ctx context.Context, mediaID string) (bool, error)
	// NearestBefore returns the greatest timestamp <= targetMs. found is false
	// when no stored timestamp satisfies the bound.
	NearestBefore(ctx context.Context, mediaID string, targetMs int64) (ts int64, found bool, err error)
	// Get returns the full index in ascending order, or nil if none exists.
	Get(ctx context.Context, mediaID string) ([]int64, error)
	// Delete removes the index of a media item.
	Delete(ctx context.Context, mediaID string) error
}
