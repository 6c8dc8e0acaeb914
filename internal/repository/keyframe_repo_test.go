package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
)

func TestKeyframeRepo_Replace(t *testing.T) {
	repo := NewKeyframeRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("stores_index_in_order", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, "m1", []int64{0, 2000, 4000}))

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 2000, 4000}, got)
	})

	t.Run("replaces_previous_index", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, "m1", []int64{0, 5000}))

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 5000}, got)
	})

	t.Run("does_not_touch_other_media", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, "m2", []int64{100}))

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 5000}, got)
	})

	t.Run("rejects_negative_timestamp_without_partial_write", func(t *testing.T) {
		err := repo.Replace(ctx, "m1", []int64{0, -1})
		assert.ErrorIs(t, err, models.ErrNegativeTimestamp)

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 5000}, got)
	})

	t.Run("rejects_empty_media_id", func(t *testing.T) {
		assert.ErrorIs(t, repo.Replace(ctx, "", []int64{0}), models.ErrMediaIDRequired)
	})

	t.Run("large_index_spans_batches", func(t *testing.T) {
		ts := make([]int64, keyframeInsertBatch*2+7)
		for i := range ts {
			ts[i] = int64(i) * 2000
		}
		require.NoError(t, repo.Replace(ctx, "long", ts))

		got, err := repo.Get(ctx, "long")
		require.NoError(t, err)
		assert.Equal(t, ts, got)
	})
}

func TestKeyframeRepo_Exists(t *testing.T) {
	repo := NewKeyframeRepository(setupTestDB(t))
	ctx := context.Background()

	exists, err := repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Replace(ctx, "m1", []int64{0}))

	exists, err = repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Delete(ctx, "m1"))

	exists, err = repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestKeyframeRepo_NearestBefore(t *testing.T) {
	repo := NewKeyframeRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Replace(ctx, "m1", []int64{500, 2000, 4000, 6000}))

	tests := []struct {
		name      string
		target    int64
		wantTS    int64
		wantFound bool
	}{
		{"exact match", 4000, 4000, true},
		{"between keyframes", 5999, 4000, true},
		{"after last", 100000, 6000, true},
		{"before first", 100, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, found, err := repo.NearestBefore(ctx, "m1", tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantTS, ts)
		})
	}

	t.Run("unknown_media", func(t *testing.T) {
		_, found, err := repo.NearestBefore(ctx, "missing", 1000)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestKeyframeRepo_Get_Missing(t *testing.T) {
	repo := NewKeyframeRepository(setupTestDB(t))

	got, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
