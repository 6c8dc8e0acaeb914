package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

type mediaItemRepository struct {
	db *gorm.DB
}

// NewMediaItemRepository creates a new MediaItemRepository.
func NewMediaItemRepository(db *gorm.DB) MediaItemRepository {
	return &mediaItemRepository{db: db}
}

func (r *mediaItemRepository) Create(ctx context.Context, item *models.MediaItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validating media item: %w", err)
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *mediaItemRepository) GetByMediaID(ctx context.Context, mediaID string) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).First(&item, "media_id = ?", mediaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *mediaItemRepository) List(ctx context.Context) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	if err := r.db.WithContext(ctx).Order("media_id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *mediaItemRepository) UpdateProbe(ctx context.Context, item *models.MediaItem) error {
	if item.ID.IsZero() {
		return fmt.Errorf("updating probe data: media item %q has no id", item.MediaID)
	}
	// Model(item) keeps the BeforeUpdate validation running against real values.
	return r.db.WithContext(ctx).
		Model(item).
		Updates(map[string]any{
			"video_codec": item.VideoCodec,
			"audio_codec": item.AudioCodec,
			"container":   item.Container,
			"duration_ms": item.DurationMs,
			"probed_at":   item.ProbedAt,
		}).Error
}

func (r *mediaItemRepository) DeleteByMediaID(ctx context.Context, mediaID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("media_id = ?", mediaID).Delete(&models.MediaItem{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
