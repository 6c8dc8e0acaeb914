package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vodarr/internal/observability"
)

// SessionDirPrefix prefixes every session work directory.
const SessionDirPrefix = "vodarr-session-"

// ManagerConfig holds session lifecycle settings.
type ManagerConfig struct {
	WorkDir             string
	SegmentDuration     time.Duration
	AdmissionTimeout    time.Duration
	FirstSegmentTimeout time.Duration
	IdleTTL             time.Duration
	SeekEpsilon         time.Duration
	VerifySegments      bool
}

// Session is one client's stream of a media item at a variant. A seek
// replaces its worker but keeps its id.
type Session struct {
	ID        uuid.UUID
	MediaID   string
	Variant   Variant
	Profile   EncoderProfile
	CreatedAt time.Time

	source MediaSource
	dir    string

	// opMu serializes start and restart of this session only.
	opMu sync.Mutex

	mu         sync.Mutex
	worker     *TranscodeWorker
	start      time.Duration
	generation int
	stopped    bool

	lastAccess atomic.Int64
}

// Worker returns the session's current worker.
func (s *Session) Worker() *TranscodeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// LastAccessed returns when the session was last requested.
func (s *Session) LastAccessed() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
}

// replaceWorker installs w unless the session has been stopped.
func (s *Session) replaceWorker(w *TranscodeWorker, start time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("%w: session %s was stopped", ErrConflict, s.ID)
	}
	s.worker = w
	s.start = start
	return nil
}

// markStopped flags the session and returns the worker to tear down.
func (s *Session) markStopped() *TranscodeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.worker
}

// SessionInfo is an introspection snapshot of a session.
type SessionInfo struct {
	ID             string        `json:"id"`
	MediaID        string        `json:"media_id"`
	Variant        string        `json:"variant"`
	Generation     int           `json:"generation"`
	RequestedStart time.Duration `json:"requested_start"`
	Profile        string        `json:"profile"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	WorkerStats
}

// SessionManager is the registry of live sessions. The registry lock guards
// only the map; worker starts and stops run outside it.
type SessionManager struct {
	cfg     ManagerConfig
	deps    WorkerDeps
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewSessionManager creates an empty session registry.
func NewSessionManager(cfg ManagerConfig, deps WorkerDeps, catalog Catalog) *SessionManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		cfg:      cfg,
		deps:     deps,
		catalog:  catalog,
		logger:   observability.WithComponent(logger, "session_manager"),
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// GetOrCreate returns the live session for mediaID at variant, seeking it to
// start when it has moved further than the seek epsilon, or creates a new one.
func (m *SessionManager) GetOrCreate(ctx context.Context, mediaID string, variant Variant, start time.Duration) (*Session, error) {
	start = max(start, 0)

	if s, err := m.findLive(mediaID, variant); err != nil {
		return nil, err
	} else if s != nil {
		return s, m.seek(ctx, s, start)
	}

	source, err := m.catalog.Lookup(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s := m.findLiveLocked(mediaID, variant); s != nil {
		m.mu.Unlock()
		return s, m.seek(ctx, s, start)
	}
	s := m.newSession(source, variant)
	s.opMu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	defer s.opMu.Unlock()

	m.logger.InfoContext(ctx, "session created",
		slog.String("session_id", s.ID.String()),
		slog.String("media_id", mediaID),
		slog.String("variant", variant.Name),
		slog.Duration("start", start),
	)
	return s, m.startWorker(ctx, s, start)
}

func (m *SessionManager) newSession(source MediaSource, variant Variant) *Session {
	id := uuid.New()
	s := &Session{
		ID:        id,
		MediaID:   source.MediaID,
		Variant:   variant,
		Profile:   m.deps.Profile.Profile(),
		CreatedAt: m.now(),
		source:    source,
		dir:       filepath.Join(m.cfg.WorkDir, SessionDirPrefix+id.String()),
	}
	s.touch(s.CreatedAt)
	return s
}

func (m *SessionManager) findLive(mediaID string, variant Variant) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.findLiveLocked(mediaID, variant), nil
}

// findLiveLocked returns the most recently used non-terminal session.
func (m *SessionManager) findLiveLocked(mediaID string, variant Variant) *Session {
	var found *Session
	for _, s := range m.sessions {
		if s.MediaID != mediaID || s.Variant.Name != variant.Name {
			continue
		}
		if w := s.Worker(); w == nil || w.State().Terminal() {
			continue
		}
		if found == nil || s.LastAccessed().After(found.LastAccessed()) {
			found = s
		}
	}
	return found
}

// seek restarts s at start unless it is already close enough.
func (m *SessionManager) seek(ctx context.Context, s *Session, start time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.touch(m.now())

	s.mu.Lock()
	stopped, current, w := s.stopped, s.start, s.worker
	s.mu.Unlock()
	if stopped {
		return fmt.Errorf("%w: session %s was stopped", ErrConflict, s.ID)
	}
	if w != nil && !w.State().Terminal() && absDuration(start-current) <= m.cfg.SeekEpsilon {
		return nil
	}

	m.logger.InfoContext(ctx, "session seek",
		slog.String("session_id", s.ID.String()),
		slog.Duration("from", current),
		slog.Duration("to", start),
	)
	if w != nil {
		if err := w.Stop(ctx); err != nil {
			return fmt.Errorf("stopping worker for seek: %w", err)
		}
	}
	return m.startWorker(ctx, s, start)
}

// startWorker installs and starts a fresh worker. Callers hold s.opMu.
func (m *SessionManager) startWorker(ctx context.Context, s *Session, start time.Duration) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	w := NewTranscodeWorker(WorkerConfig{
		SessionID:           s.ID.String(),
		Generation:          gen,
		Source:              s.source,
		Variant:             s.Variant,
		Start:               start,
		WorkDir:             filepath.Join(s.dir, strconv.Itoa(gen)),
		SegmentDuration:     m.cfg.SegmentDuration,
		AdmissionTimeout:    m.cfg.AdmissionTimeout,
		FirstSegmentTimeout: m.cfg.FirstSegmentTimeout,
		VerifySegments:      m.cfg.VerifySegments,
	}, m.deps)

	if err := s.replaceWorker(w, start); err != nil {
		return err
	}
	return w.Start(ctx)
}

// Get returns a registered session and marks it accessed.
func (m *SessionManager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	s.touch(m.now())
	return s, nil
}

// Stop tears a session down and removes it from the registry.
func (m *SessionManager) Stop(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return m.teardown(ctx, s, "stopped")
}

func (m *SessionManager) teardown(ctx context.Context, s *Session, reason string) error {
	if w := s.markStopped(); w != nil {
		if err := w.Stop(ctx); err != nil {
			return fmt.Errorf("stopping session %s: %w", s.ID, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		m.logger.Warn("removing session dir",
			slog.String("session_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	m.logger.InfoContext(ctx, "session "+reason,
		slog.String("session_id", s.ID.String()),
		slog.String("media_id", s.MediaID),
	)
	return nil
}

// SweepIdle tears down every session not accessed within the idle TTL,
// including failed and rejected ones. It returns the number evicted.
func (m *SessionManager) SweepIdle(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastAccessed().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := m.teardown(ctx, s, "evicted"); err != nil {
			m.logger.Warn("evicting idle session", slog.String("error", err.Error()))
		}
	}
	return len(idle)
}

// Info returns the introspection snapshot of s.
func (m *SessionManager) Info(ctx context.Context, s *Session) SessionInfo {
	s.mu.Lock()
	w, start := s.worker, s.start
	s.mu.Unlock()

	info := SessionInfo{
		ID:             s.ID.String(),
		MediaID:        s.MediaID,
		Variant:        s.Variant.Name,
		RequestedStart: start,
		Profile:        s.Profile.VideoEncoder,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessed(),
	}
	if w != nil {
		info.Generation = w.Generation()
		info.WorkerStats = w.Stats(ctx)
	}
	return info
}

// List returns a snapshot of every registered session.
func (m *SessionManager) List(ctx context.Context) []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, m.Info(ctx, s))
	}
	return infos
}

// Len returns the number of registered sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops every session. Later calls to GetOrCreate fail with ErrClosed.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return m.teardown(ctx, s, "closed")
		})
	}
	return g.Wait()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
