package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeyframeStore persists keyframe indexes in milliseconds.
type KeyframeStore interface {
	Replace(ctx context.Context, mediaID string, timestamps []int64) error
	Exists(ctx context.Context, mediaID string) (bool, error)
	NearestBefore(ctx context.Context, mediaID string, targetMs int64) (int64, bool, error)
	Get(ctx context.Context, mediaID string) ([]int64, error)
}

// KeyframeProber returns keyframe presentation times in seconds.
type KeyframeProber interface {
	ProbeKeyframes(ctx context.Context, path string) ([]float64, error)
}

// buildAttempts is one build plus one local retry.
const buildAttempts = 2

// KeyframeIndex finds keyframe-aligned start offsets, building and
// persisting each media item's index the first time it is needed.
// Concurrent builds for the same media item share a single probe.
type KeyframeIndex struct {
	store   KeyframeStore
	prober  KeyframeProber
	catalog Catalog
	logger  *slog.Logger

	group singleflight.Group
}

// NewKeyframeIndex creates a keyframe index.
func NewKeyframeIndex(store KeyframeStore, prober KeyframeProber, catalog Catalog, logger *slog.Logger) *KeyframeIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyframeIndex{store: store, prober: prober, catalog: catalog, logger: logger}
}

// FindNearestBefore returns the greatest indexed keyframe at or before
// target. Negative targets are treated as zero. It fails with ErrNotIndexed
// when no index exists. When an index exists but holds nothing at or before
// target, the stream start is returned.
func (k *KeyframeIndex) FindNearestBefore(ctx context.Context, mediaID string, target time.Duration) (time.Duration, error) {
	targetMs := max(target.Milliseconds(), 0)

	ts, found, err := k.store.NearestBefore(ctx, mediaID, targetMs)
	if err != nil {
		return 0, fmt.Errorf("reading keyframe index: %w", err)
	}
	if found {
		return time.Duration(ts) * time.Millisecond, nil
	}

	exists, err := k.store.Exists(ctx, mediaID)
	if err != nil {
		return 0, fmt.Errorf("reading keyframe index: %w", err)
	}
	if !exists {
		return 0, ErrNotIndexed
	}
	return 0, nil
}

// BuildIndex probes the media file, normalizes the keyframe list and
// replaces any persisted index with it.
func (k *KeyframeIndex) BuildIndex(ctx context.Context, mediaID string) ([]int64, error) {
	return k.do(ctx, mediaID, true)
}

// Resolve returns the keyframe-aligned offset for target, building the index
// first if it does not exist yet.
func (k *KeyframeIndex) Resolve(ctx context.Context, mediaID string, target time.Duration) (time.Duration, error) {
	offset, err := k.FindNearestBefore(ctx, mediaID, target)
	if !errors.Is(err, ErrNotIndexed) {
		return offset, err
	}

	timestamps, err := k.do(ctx, mediaID, false)
	if err != nil {
		return 0, err
	}
	return nearestIn(timestamps, max(target.Milliseconds(), 0)), nil
}

// do runs a build through the singleflight group. Unless force is set, an
// index persisted by an earlier flight is reused instead of probing again.
// The build outlives a cancelled caller so joined callers still get a result.
func (k *KeyframeIndex) do(ctx context.Context, mediaID string, force bool) ([]int64, error) {
	ch := k.group.DoChan(mediaID, func() (any, error) {
		return k.build(context.WithoutCancel(ctx), mediaID, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]int64), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *KeyframeIndex) build(ctx context.Context, mediaID string, force bool) ([]int64, error) {
	if !force {
		existing, err := k.store.Get(ctx, mediaID)
		if err != nil {
			return nil, fmt.Errorf("reading keyframe index: %w", err)
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}

	source, err := k.catalog.Lookup(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	logger := k.logger.With(slog.String("media_id", mediaID))
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= buildAttempts; attempt++ {
		timestamps, err := k.probe(ctx, source.Path)
		if err == nil {
			if err := k.store.Replace(ctx, mediaID, timestamps); err != nil {
				return nil, fmt.Errorf("persisting keyframe index: %w", err)
			}
			logger.InfoContext(ctx, "keyframe index built",
				slog.Int("keyframes", len(timestamps)),
				slog.Duration("duration", time.Since(start)),
			)
			return timestamps, nil
		}
		lastErr = err
		logger.WarnContext(ctx, "keyframe probe failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("%w: building keyframe index for %q: %w", ErrCorrupt, mediaID, lastErr)
}

func (k *KeyframeIndex) probe(ctx context.Context, path string) ([]int64, error) {
	seconds, err := k.prober.ProbeKeyframes(ctx, path)
	if err != nil {
		return nil, err
	}
	timestamps := Normalize(secondsToMillis(seconds))
	if len(timestamps) == 0 {
		return nil, errors.New("no keyframes found")
	}
	return timestamps, nil
}

// Normalize returns timestamps sorted ascending with duplicates removed and
// negative values clamped to zero. The input is not modified.
func Normalize(timestamps []int64) []int64 {
	out := make([]int64, len(timestamps))
	for i, ts := range timestamps {
		out[i] = max(ts, 0)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// secondsToMillis converts probe output, dropping NaN and saturating at the
// int64 range.
func secondsToMillis(seconds []float64) []int64 {
	out := make([]int64, 0, len(seconds))
	for _, s := range seconds {
		if math.IsNaN(s) {
			continue
		}
		ms := math.Round(s * 1000)
		switch {
		case ms <= 0:
			out = append(out, 0)
		case ms >= math.MaxInt64:
			out = append(out, math.MaxInt64)
		default:
			out = append(out, int64(ms))
		}
	}
	return out
}

// nearestIn returns the greatest value <= targetMs in sorted, as a duration.
func nearestIn(sorted []int64, targetMs int64) time.Duration {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] > targetMs })
	if i == 0 {
		return 0
	}
	return time.Duration(sorted[i-1]) * time.Millisecond
}
