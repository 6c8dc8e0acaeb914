package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/scheduler"
	"github.com/jmylchreest/vodarr/internal/startup"
	"github.com/jmylchreest/vodarr/internal/streaming"
	"github.com/jmylchreest/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server.

The server provides:
- Session API under /api/v1/sessions
- HLS playlists and segments under /stream/{sessionId}/
- Media catalog API under /api/v1/media
- Health probes at /health, /livez and /readyz
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "vodarr.db", "Database DSN")
	serveCmd.Flags().Int("max-encodes", 0, "Maximum concurrent encodes (0 uses the encoder's hint)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("streaming.max_concurrent_encodes", serveCmd.Flags().Lookup("max-encodes"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workDir := cfg.Storage.WorkPath()
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	removed, err := startup.CleanupOrphanedSessionDirs(logger, workDir, cfg.Storage.OrphanMaxAge)
	if err != nil {
		logger.Warn("failed to clean orphaned session directories", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("cleaned orphaned session directories on startup", slog.Int("removed_count", removed))
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tc, err := detectToolchain(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("ffmpeg detected",
		slog.String("ffmpeg", tc.binary.FFmpegPath),
		slog.String("version", tc.binary.Version),
	)

	profiles := newProfileSelector(cfg, tc, logger)
	profiles.Select(ctx)
	catalog, keyframes := newKeyframeIndex(st, tc, logger)

	svc := streaming.NewService(streaming.ServiceConfig{
		Manager: streaming.ManagerConfig{
			WorkDir:             workDir,
			SegmentDuration:     cfg.Streaming.SegmentDuration,
			AdmissionTimeout:    cfg.Streaming.AdmissionTimeout,
			FirstSegmentTimeout: cfg.Streaming.FirstSegmentTimeout,
			IdleTTL:             cfg.Streaming.IdleTTL,
			SeekEpsilon:         cfg.Streaming.SeekEpsilon,
			VerifySegments:      cfg.Streaming.VerifySegments,
		},
		SegmentWait: cfg.Streaming.SegmentWait,
	}, streaming.ServiceDeps{
		Profiles:  profiles,
		Keyframes: keyframes,
		Catalog:   catalog,
		Encoder:   ffmpeg.NewSegmentEncoder(tc.binary.FFmpegPath, observability.WithComponent(logger, "encoder")),
		Logger:    logger,
	})

	sched := scheduler.NewScheduler().WithLogger(observability.WithComponent(logger, "scheduler"))
	if err := sched.Add(scheduler.TaskSweepIdleSessions, cfg.Streaming.SweepSchedule, scheduler.SweepIdleSessionsTask(svc, logger)); err != nil {
		return fmt.Errorf("scheduling idle sweep: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	api := server.API()
	handlers.NewHealthHandler(version.Version).WithDB(st.db.DB).WithStreaming(svc).Register(api)
	handlers.NewSessionHandler(svc).Register(api)
	handlers.NewEncoderHandler(svc).Register(api)
	handlers.NewMediaHandler(st.items, st.keyframes, svc).Register(api)
	handlers.NewStreamHandler(svc).RegisterChiRoutes(server.Router())

	logger.Info("starting vodarr server",
		slog.String("address", cfg.Server.Address()),
		slog.String("work_dir", workDir),
		slog.Int("max_concurrent_encodes", svc.AdmissionStats().Max),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	sched.Stop()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		logger.Warn("stopping sessions", slog.String("error", err.Error()))
	}

	return serveErr
}
