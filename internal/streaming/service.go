package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/observability"
)

// ServiceConfig configures the streaming service.
type ServiceConfig struct {
	Manager ManagerConfig
	// SegmentWait bounds how long manifest and segment requests wait for
	// the encoder to catch up.
	SegmentWait time.Duration
}

// ServiceDeps are the components the service orchestrates. Profiles must
// have completed Select before NewService is called.
type ServiceDeps struct {
	Profiles  *EncoderProfileSelector
	Keyframes *KeyframeIndex
	Catalog   Catalog
	Encoder   Encoder
	Logger    *slog.Logger
}

// SegmentFile locates a completed segment on disk.
type SegmentFile struct {
	Sequence int
	Path     string
	Size     int64
	Duration time.Duration
}

// Service is the entry point for the serving layer.
type Service struct {
	manager     *SessionManager
	profiles    *EncoderProfileSelector
	keyframes   *KeyframeIndex
	gate        *AdmissionGate
	segmentWait time.Duration
	logger      *slog.Logger
}

// NewService wires the admission gate and session manager. The gate is
// sized from the frozen encoder profile.
func NewService(cfg ServiceConfig, deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := NewAdmissionGate(deps.Profiles.Profile().ConcurrencyHint)
	manager := NewSessionManager(cfg.Manager, WorkerDeps{
		Gate:      gate,
		Keyframes: deps.Keyframes,
		Profile:   deps.Profiles,
		Encoder:   deps.Encoder,
		Logger:    logger,
	}, deps.Catalog)

	return &Service{
		manager:     manager,
		profiles:    deps.Profiles,
		keyframes:   deps.Keyframes,
		gate:        gate,
		segmentWait: cfg.SegmentWait,
		logger:      observability.WithComponent(logger, "streaming"),
	}
}

// StartOrResumeSession returns the session streaming mediaID at variant from
// start, creating or seeking one as needed.
func (s *Service) StartOrResumeSession(ctx context.Context, mediaID, variant string, start time.Duration) (SessionInfo, error) {
	v, err := LookupVariant(variant)
	if err != nil {
		return SessionInfo{}, err
	}
	session, err := s.manager.GetOrCreate(ctx, mediaID, v, start)
	if session == nil {
		return SessionInfo{}, err
	}
	return s.manager.Info(ctx, session), err
}

// Session returns the snapshot of one session.
func (s *Service) Session(ctx context.Context, id string) (SessionInfo, error) {
	session, err := s.lookup(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.manager.Info(ctx, session), nil
}

// GetManifest renders the playlist of generation gen of a session. It waits
// up to the segment wait for the first segment so players do not poll an
// empty list. A superseded generation is ErrNotFound.
func (s *Service) GetManifest(ctx context.Context, id string, gen int) ([]byte, error) {
	w, err := s.worker(id, gen)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := s.waitContext(ctx)
	defer cancel()
	if err := w.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return Snapshot(w).Render()
}

// GetSegment returns a completed segment of generation gen, waiting up to the
// segment wait for the next one to finish.
func (s *Service) GetSegment(ctx context.Context, id string, gen, seq int) (*SegmentFile, error) {
	w, err := s.worker(id, gen)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := s.waitContext(ctx)
	defer cancel()
	seg, err := w.WaitForSegment(waitCtx, seq)
	if err != nil {
		return nil, err
	}
	return &SegmentFile{Sequence: seg.Sequence, Path: seg.Path, Size: seg.Size, Duration: seg.Duration}, nil
}

// StopSession tears a session down.
func (s *Service) StopSession(ctx context.Context, id string) error {
	sid, err := parseSessionID(id)
	if err != nil {
		return err
	}
	return s.manager.Stop(ctx, sid)
}

// ListSessions returns every registered session.
func (s *Service) ListSessions(ctx context.Context) []SessionInfo {
	return s.manager.List(ctx)
}

// SessionCount returns the number of registered sessions.
func (s *Service) SessionCount() int {
	return s.manager.Len()
}

// SweepIdle evicts idle sessions.
func (s *Service) SweepIdle(ctx context.Context) int {
	return s.manager.SweepIdle(ctx, time.Now())
}

// RebuildKeyframes forces a keyframe index rebuild for mediaID.
func (s *Service) RebuildKeyframes(ctx context.Context, mediaID string) ([]int64, error) {
	return s.keyframes.BuildIndex(ctx, mediaID)
}

// CanPassthroughAudio reports whether codec is copied without re-encoding.
func (s *Service) CanPassthroughAudio(codec string) bool {
	return s.profiles.CanPassthroughAudio(codec)
}

// Profile returns the frozen encoder profile.
func (s *Service) Profile() EncoderProfile {
	return s.profiles.Profile()
}

// AdmissionStats returns the admission gate counters.
func (s *Service) AdmissionStats() AdmissionStats {
	return s.gate.Stats()
}

// Close stops every session and fails pending admission waiters.
func (s *Service) Close(ctx context.Context) error {
	err := s.manager.Close(ctx)
	s.gate.Close()
	s.logger.InfoContext(ctx, "streaming service closed")
	return err
}

func (s *Service) lookup(id string) (*Session, error) {
	sid, err := parseSessionID(id)
	if err != nil {
		return nil, err
	}
	return s.manager.Get(sid)
}

// worker returns the session's worker if it encodes generation gen. A session
// whose first worker is not installed yet has nothing to serve.
func (s *Service) worker(id string, gen int) (*TranscodeWorker, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	w := session.Worker()
	if w == nil {
		return nil, fmt.Errorf("%w: session %s has no encode", ErrNotFound, id)
	}
	if w.Generation() != gen {
		return nil, fmt.Errorf("%w: session %s generation %d (current %d)", ErrNotFound, id, gen, w.Generation())
	}
	return w, nil
}

func (s *Service) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.segmentWait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.segmentWait)
}

func parseSessionID(id string) (uuid.UUID, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return sid, nil
}
