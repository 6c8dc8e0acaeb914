package streaming

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// MediaSource is a cataloged file ready for playback. Codec fields are empty
// when the file could not be probed.
type MediaSource struct {
	MediaID    string `json:"media_id"`
	Path       string `json:"path"`
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	Container  string `json:"container,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Catalog resolves a media id to its source file.
type Catalog interface {
	Lookup(ctx context.Context, mediaID string) (MediaSource, error)
}

// MediaProber reads codec information from a file.
type MediaProber interface {
	ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// RepositoryCatalog serves lookups from the media_items table and caches
// probe results on first use.
type RepositoryCatalog struct {
	repo   repository.MediaItemRepository
	prober MediaProber
	logger *slog.Logger
}

// NewRepositoryCatalog creates a catalog. prober may be nil to skip probing.
func NewRepositoryCatalog(repo repository.MediaItemRepository, prober MediaProber, logger *slog.Logger) *RepositoryCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryCatalog{repo: repo, prober: prober, logger: logger}
}

// Lookup returns the source for mediaID or ErrNotFound.
func (c *RepositoryCatalog) Lookup(ctx context.Context, mediaID string) (MediaSource, error) {
	item, err := c.repo.GetByMediaID(ctx, mediaID)
	if err != nil {
		return MediaSource{}, fmt.Errorf("looking up media %q: %w", mediaID, err)
	}
	if item == nil {
		return MediaSource{}, fmt.Errorf("%w: media %q", ErrNotFound, mediaID)
	}

	if !item.IsProbed() && c.prober != nil {
		if err := c.probe(ctx, item); err != nil {
			c.logger.WarnContext(ctx, "probing media failed, codecs unknown",
				slog.String("media_id", mediaID),
				slog.String("error", err.Error()),
			)
		}
	}

	return sourceFromItem(item), nil
}

func (c *RepositoryCatalog) probe(ctx context.Context, item *models.MediaItem) error {
	info, err := c.prober.ProbeMedia(ctx, item.Path)
	if err != nil {
		return err
	}
	probedAt := models.Now()
	item.VideoCodec = info.VideoCodec
	item.AudioCodec = info.AudioCodec
	item.Container = info.Container
	item.DurationMs = info.DurationMs
	item.ProbedAt = &probedAt
	if err := c.repo.UpdateProbe(ctx, item); err != nil {
		return fmt.Errorf("caching probe result: %w", err)
	}
	return nil
}

func sourceFromItem(item *models.MediaItem) MediaSource {
	return MediaSource{
		MediaID:    item.MediaID,
		Path:       item.Path,
		VideoCodec: item.VideoCodec,
		AudioCodec: item.AudioCodec,
		Container:  item.Container,
		DurationMs: item.DurationMs,
	}
}
