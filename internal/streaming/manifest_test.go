package streaming

import (
	"testing"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerWithSegments(segments []Segment, complete bool) *TranscodeWorker {
	v, _ := LookupVariant("720p")
	w := NewTranscodeWorker(WorkerConfig{SessionID: "s1", Source: testSource(), Variant: v}, WorkerDeps{Logger: discardLogger()})
	w.state = StateRunning
	w.segments = segments
	w.complete = complete
	return w
}

func TestSnapshot_IsImmutable(t *testing.T) {
	w := workerWithSegments([]Segment{{Sequence: 0, Duration: 4 * time.Second}}, false)
	m := Snapshot(w)

	w.appendSegment(SegmentOutput{Sequence: 1, Duration: 4 * time.Second})

	assert.Len(t, m.Segments, 1)
	assert.Len(t, Snapshot(w).Segments, 2)
	assert.Equal(t, "720p", m.Variant.Name)
}

func TestManifest_TargetDuration(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		expected int
	}{
		{"empty", nil, 1},
		{"whole_seconds", []Segment{{Duration: 4 * time.Second}}, 4},
		{"rounds_up", []Segment{{Duration: 4 * time.Second}, {Duration: 4100 * time.Millisecond}}, 5},
		{"sub_second", []Segment{{Duration: 200 * time.Millisecond}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Manifest{Segments: tt.segments}.TargetDuration())
		})
	}
}

func TestManifest_Render(t *testing.T) {
	segments := []Segment{
		{Sequence: 0, Duration: 4 * time.Second},
		{Sequence: 1, Duration: 4 * time.Second},
		{Sequence: 2, Duration: 3500 * time.Millisecond},
	}

	t.Run("in_progress", func(t *testing.T) {
		out, err := Snapshot(workerWithSegments(segments, false)).Render()
		require.NoError(t, err)

		text := string(out)
		assert.Contains(t, text, "#EXTM3U")
		assert.Contains(t, text, "#EXT-X-PLAYLIST-TYPE:EVENT")
		assert.Contains(t, text, "#EXT-X-TARGETDURATION:4")
		assert.Contains(t, text, "2.ts")
		assert.NotContains(t, text, "3.ts")
		assert.NotContains(t, text, "#EXT-X-ENDLIST")

		pl, err := playlist.Unmarshal(out)
		require.NoError(t, err)
		media, ok := pl.(*playlist.Media)
		require.True(t, ok)
		require.Len(t, media.Segments, 3)
		assert.Equal(t, "0.ts", media.Segments[0].URI)
		assert.Equal(t, 3500*time.Millisecond, media.Segments[2].Duration)
		assert.False(t, media.Endlist)
	})

	t.Run("complete_adds_endlist", func(t *testing.T) {
		out, err := Snapshot(workerWithSegments(segments, true)).Render()
		require.NoError(t, err)
		assert.Contains(t, string(out), "#EXT-X-ENDLIST")
	})

	t.Run("empty_playlist", func(t *testing.T) {
		out, err := Snapshot(workerWithSegments(nil, false)).Render()
		require.NoError(t, err)
		assert.Contains(t, string(out), "#EXT-X-TARGETDURATION:1")
		assert.NotContains(t, string(out), ".ts")
	})
}
