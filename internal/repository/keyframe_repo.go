package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// keyframeInsertBatch bounds rows per INSERT so long films stay under
// driver placeholder limits.
const keyframeInsertBatch = 500

type keyframeRepository struct {
	db *gorm.DB
}

// NewKeyframeRepository creates a new KeyframeRepository.
func NewKeyframeRepository(db *gorm.DB) KeyframeRepository {
	return &keyframeRepository{db: db}
}

func (r *keyframeRepository) Replace(ctx context.Context, mediaID string, timestamps []int64) error {
	if mediaID == "" {
		return models.ErrMediaIDRequired
	}

	rows := make([]models.Keyframe, len(timestamps))
	for i, ts := range timestamps {
		rows[i] = models.Keyframe{MediaID: mediaID, Position: i, TimestampMs: ts}
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("keyframe %d: %w", i, err)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_id = ?", mediaID).Delete(&models.Keyframe{}).Error; err != nil {
			return fmt.Errorf("deleting previous index: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, keyframeInsertBatch).Error; err != nil {
			return fmt.Errorf("inserting index: %w", err)
		}
		return nil
	})
}

func (r *keyframeRepository) Exists(ctx context.Context, mediaID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Keyframe{}).
		Where("media_id = ?", mediaID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *keyframeRepository) NearestBefore(ctx context.Context, mediaID string, targetMs int64) (int64, bool, error) {
	var kf models.Keyframe
	err := r.db.WithContext(ctx).
		Where("media_id = ? AND timestamp_ms <= ?", mediaID, targetMs).
		Order("timestamp_ms DESC").
		Take(&kf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return kf.TimestampMs, true, nil
}

func (r *keyframeRepository) Get(ctx context.Context, mediaID string) ([]int64, error) {
	var timestamps []int64
	err := r.db.WithContext(ctx).
		Model(&models.Keyframe{}).
		Where("media_id = ?", mediaID).
		Order("position ASC").
		Pluck("timestamp_ms", &timestamps).Error
	if err != nil {
		return nil, err
	}
	if len(timestamps) == 0 {
		return nil, nil
	}
	return timestamps, nil
}

func (r *keyframeRepository) Delete(ctx context.Context, mediaID string) error {
	return r.db.WithContext(ctx).Where("media_id = ?", mediaID).Delete(&models.Keyframe{}).Error
}
