package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/database/migrations"
	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

// store is the migrated database and its repositories.
type store struct {
	db        *database.DB
	items     repository.MediaItemRepository
	keyframes repository.KeyframeRepository
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	migrator := migrations.NewMigrator(db.DB, logger, migrations.AllMigrations()...)
	if err := migrator.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &store{
		db:        db,
		items:     repository.NewMediaItemRepository(db.DB),
		keyframes: repository.NewKeyframeRepository(db.DB),
	}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// toolchain is the detected ffmpeg installation.
type toolchain struct {
	binary *ffmpeg.BinaryInfo
	prober *ffmpeg.Prober
}

// detectToolchain locates ffmpeg and ffprobe. Hardware acceleration is not
// probed here; the encoder profile selector does that once.
func detectToolchain(ctx context.Context, cfg *config.Config) (*toolchain, error) {
	info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).
		WithoutHWAccel().
		Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	return &toolchain{
		binary: info,
		prober: ffmpeg.NewProber(info.FFprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout),
	}, nil
}

// newProfileSelector returns an unselected encoder profile selector.
func newProfileSelector(cfg *config.Config, tc *toolchain, logger *slog.Logger) *streaming.EncoderProfileSelector {
	return streaming.NewEncoderProfileSelector(
		ffmpeg.NewHWAccelDetector(tc.binary.FFmpegPath),
		streaming.ProfileConfig{
			HWAccel:              cfg.FFmpeg.HWAccel,
			Priority:             cfg.FFmpeg.HWAccelPriority,
			MaxConcurrentEncodes: cfg.Streaming.MaxConcurrentEncodes,
		},
		logger,
	)
}

// newKeyframeIndex wires the keyframe index over the store and prober.
func newKeyframeIndex(st *store, tc *toolchain, logger *slog.Logger) (*streaming.RepositoryCatalog, *streaming.KeyframeIndex) {
	catalog := streaming.NewRepositoryCatalog(st.items, tc.prober, logger)
	return catalog, streaming.NewKeyframeIndex(st.keyframes, tc.prober, catalog, logger)
}
