package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
)

func TestMediaItemRepo_CreateAndGet(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	item := &models.MediaItem{MediaID: "m1", Path: "/media/m1.mkv"}
	require.NoError(t, repo.Create(ctx, item))
	assert.False(t, item.ID.IsZero())

	got, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "/media/m1.mkv", got.Path)
	assert.False(t, got.IsProbed())

	t.Run("missing_returns_nil", func(t *testing.T) {
		got, err := repo.GetByMediaID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate_media_id_fails", func(t *testing.T) {
		err := repo.Create(ctx, &models.MediaItem{MediaID: "m1", Path: "/media/other.mkv"})
		assert.Error(t, err)
	})

	t.Run("invalid_item_fails", func(t *testing.T) {
		err := repo.Create(ctx, &models.MediaItem{MediaID: "m2", Path: "relative.mkv"})
		assert.ErrorIs(t, err, models.ErrPathNotAbsolute)
	})
}

func TestMediaItemRepo_List(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, repo.Create(ctx, &models.MediaItem{MediaID: id, Path: "/media/" + id}))
	}

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].MediaID)
	assert.Equal(t, "c", items[2].MediaID)
}

func TestMediaItemRepo_UpdateProbe(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()

	item := &models.MediaItem{MediaID: "m1", Path: "/media/m1.mkv"}
	require.NoError(t, repo.Create(ctx, item))

	probedAt := time.Now().UTC().Truncate(time.Second)
	item.VideoCodec = "h264"
	item.AudioCodec = "aac"
	item.Container = "matroska,webm"
	item.DurationMs = 5_400_000
	item.ProbedAt = &probedAt
	require.NoError(t, repo.UpdateProbe(ctx, item))

	got, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h264", got.VideoCodec)
	assert.Equal(t, "aac", got.AudioCodec)
	assert.Equal(t, int64(5_400_000), got.DurationMs)
	assert.True(t, got.IsProbed())

	t.Run("requires_id", func(t *testing.T) {
		assert.Error(t, repo.UpdateProbe(ctx, &models.MediaItem{MediaID: "x"}))
	})
}

func TestMediaItemRepo_DeleteByMediaID(t *testing.T) {
	repo := NewMediaItemRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.MediaItem{MediaID: "m1", Path: "/media/m1.mkv"}))

	deleted, err := repo.DeleteByMediaID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteByMediaID(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, deleted)
}
