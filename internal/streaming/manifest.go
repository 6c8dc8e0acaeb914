package streaming

import (
	"fmt"
	"math"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

const manifestVersion = 3

// Segment is a finished MPEG-TS segment of a worker's output.
type Segment struct {
	Sequence int           `json:"sequence"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
	Path     string        `json:"-"`
	Size     int64         `json:"size"`
}

// Manifest is an immutable snapshot of a worker's completed segments.
type Manifest struct {
	Variant  Variant
	Offset   time.Duration
	Segments []Segment
	Complete bool
}

// Snapshot copies the completed segments of w. Segments still being written
// are never part of a worker's segment list, so they cannot appear here.
func Snapshot(w *TranscodeWorker) Manifest {
	w.mu.Lock()
	defer w.mu.Unlock()

	segments := make([]Segment, len(w.segments))
	copy(segments, w.segments)
	return Manifest{
		Variant:  w.cfg.Variant,
		Offset:   w.offset,
		Segments: segments,
		Complete: w.complete,
	}
}

// TargetDuration is the longest segment rounded up to whole seconds, at least 1.
func (m Manifest) TargetDuration() int {
	target := 1
	for _, seg := range m.Segments {
		target = max(target, int(math.Ceil(seg.Duration.Seconds())))
	}
	return target
}

// Render writes the snapshot as an HLS EVENT media playlist. Segment URIs
// are relative to the playlist, which is scoped to one worker generation, so
// a playlist only ever grows.
func (m Manifest) Render() ([]byte, error) {
	playlistType := playlist.MediaPlaylistTypeEvent
	media := playlist.Media{
		Version:        manifestVersion,
		TargetDuration: m.TargetDuration(),
		MediaSequence:  0,
		PlaylistType:   &playlistType,
		Endlist:        m.Complete,
	}
	for _, seg := range m.Segments {
		media.Segments = append(media.Segments, &playlist.MediaSegment{
			Duration: seg.Duration,
			URI:      SegmentURI(seg.Sequence),
		})
	}

	out, err := media.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rendering manifest: %w", err)
	}
	return out, nil
}

// SegmentURI returns the playlist URI of a segment.
func SegmentURI(sequence int) string {
	return fmt.Sprintf("%d.ts", sequence)
}
