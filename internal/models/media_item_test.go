package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    MediaItem
		wantErr error
	}{
		{"valid", MediaItem{MediaID: "m1", Path: "/media/m1.mkv"}, nil},
		{"missing media id", MediaItem{Path: "/media/m1.mkv"}, ErrMediaIDRequired},
		{"missing path", MediaItem{MediaID: "m1"}, ErrPathRequired},
		{"relative path", MediaItem{MediaID: "m1", Path: "media/m1.mkv"}, ErrPathNotAbsolute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.item.Validate(), tt.wantErr)
		})
	}
}

func TestMediaItem_BeforeCreate(t *testing.T) {
	item := &MediaItem{MediaID: "m1", Path: "/media/m1.mkv"}
	require.NoError(t, item.BeforeCreate(nil))
	assert.False(t, item.ID.IsZero())
	assert.False(t, item.IsProbed())
}

func TestKeyframe_Validate(t *testing.T) {
	assert.NoError(t, (&Keyframe{MediaID: "m1", TimestampMs: 0}).Validate())
	assert.ErrorIs(t, (&Keyframe{TimestampMs: 10}).Validate(), ErrMediaIDRequired)
	assert.ErrorIs(t, (&Keyframe{MediaID: "m1", TimestampMs: -1}).Validate(), ErrNegativeTimestamp)
}
