package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/observability"
)

// WorkerState is a TranscodeWorker lifecycle state.
type WorkerState string

const (
	StateCreated    WorkerState = "created"
	StateStarting   WorkerState = "starting"
	StateRunning    WorkerState = "running"
	StateStopping   WorkerState = "stopping"
	StateTerminated WorkerState = "terminated"
	StateRejected   WorkerState = "rejected"
	StateFailed     WorkerState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s WorkerState) Terminal() bool {
	switch s {
	case StateTerminated, StateRejected, StateFailed:
		return true
	default:
		return false
	}
}

// Encode process types are defined next to the ffmpeg implementation.
type (
	EncodeRequest = ffmpeg.EncodeRequest
	EncodeProcess = ffmpeg.EncodeProcess
	SegmentOutput = ffmpeg.SegmentOutput
)

// Encoder starts segmenting encode processes.
type Encoder interface {
	Start(ctx context.Context, req EncodeRequest) (EncodeProcess, error)
}

// OffsetResolver maps a requested start time to a keyframe-aligned offset.
type OffsetResolver interface {
	Resolve(ctx context.Context, mediaID string, target time.Duration) (time.Duration, error)
}

// WorkerConfig describes one encode run.
type WorkerConfig struct {
	SessionID string
	// Generation numbers the encodes of one session from 1; a seek starts
	// the next one.
	Generation          int
	Source              MediaSource
	Variant             Variant
	Start               time.Duration
	WorkDir             string
	SegmentDuration     time.Duration
	AdmissionTimeout    time.Duration
	FirstSegmentTimeout time.Duration
	VerifySegments      bool
}

// WorkerDeps are the shared collaborators of every worker.
type WorkerDeps struct {
	Gate      *AdmissionGate
	Keyframes OffsetResolver
	Profile   *EncoderProfileSelector
	Encoder   Encoder
	Logger    *slog.Logger
}

// WorkerStats is a point-in-time view of a worker.
type WorkerStats struct {
	State      WorkerState   `json:"state"`
	Offset     time.Duration `json:"offset"`
	Segments   int           `json:"segments"`
	Complete   bool          `json:"complete"`
	Error      string        `json:"error,omitempty"`
	PID        int           `json:"pid,omitempty"`
	CPUPercent float64       `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64        `json:"memory_rss_bytes,omitempty"`
}

// TranscodeWorker drives one encode process for a session. It holds at most
// one admission slot and one process, and releases both exactly once on
// every exit path.
type TranscodeWorker struct {
	cfg    WorkerConfig
	deps   WorkerDeps
	logger *slog.Logger

	// ctx ends when Stop is called; it bounds the start sequence and the process.
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	state    WorkerState
	offset   time.Duration
	segments []Segment
	complete bool
	err      error
	monitor  *ffmpeg.ProcessMonitor
	changed  chan struct{}
}

// NewTranscodeWorker creates a worker in the Created state.
func NewTranscodeWorker(cfg WorkerConfig, deps WorkerDeps) *TranscodeWorker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TranscodeWorker{
		cfg:     cfg,
		deps:    deps,
		logger:  observability.WithSession(logger, cfg.SessionID, cfg.Source.MediaID),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateCreated,
		changed: make(chan struct{}),
	}
}

// Start resolves the aligned offset, acquires an admission slot and launches
// the encoder. It returns once the process is running; segments arrive
// asynchronously. A Stop that lands while starting makes Start fail with
// ErrConflict.
func (w *TranscodeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateCreated {
		w.mu.Unlock()
		return fmt.Errorf("%w: worker already started", ErrConflict)
	}
	w.setStateLocked(StateStarting)
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(w.ctx, cancel)
	defer stopWatch()

	offset, err := w.deps.Keyframes.Resolve(ctx, w.cfg.Source.MediaID, w.cfg.Start)
	if err != nil {
		return w.abort(StateFailed, "resolve start offset", err)
	}

	slot, err := w.deps.Gate.Acquire(ctx, w.cfg.AdmissionTimeout)
	if err != nil {
		return w.abort(StateRejected, "acquire encode slot", err)
	}

	req := w.encodeRequest(offset)
	proc, err := w.deps.Encoder.Start(w.ctx, req)
	if err != nil {
		slot.Release()
		return w.abort(StateFailed, "start encoder", fmt.Errorf("%w: %w", ErrUpstreamFailure, err))
	}

	w.mu.Lock()
	if w.state == StateStopping {
		w.mu.Unlock()
		reap(proc)
		slot.Release()
		return w.abort(StateTerminated, "start encoder", nil)
	}
	w.offset = offset
	w.monitor = ffmpeg.NewProcessMonitor(proc.PID())
	w.setStateLocked(StateRunning)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "transcode started",
		slog.String("variant", w.cfg.Variant.Name),
		slog.Duration("requested", w.cfg.Start),
		slog.Duration("offset", offset),
		slog.String("video_encoder", req.VideoEncoder),
		slog.String("audio_encoder", req.AudioEncoder),
		slog.Int("pid", proc.PID()),
	)

	go w.run(proc, slot)
	return nil
}

func (w *TranscodeWorker) encodeRequest(offset time.Duration) EncodeRequest {
	profile := w.deps.Profile.Profile()
	src, variant := w.cfg.Source, w.cfg.Variant

	req := EncodeRequest{
		Input:           src.Path,
		WorkDir:         w.cfg.WorkDir,
		StartOffset:     offset,
		SegmentDuration: w.cfg.SegmentDuration,
		Height:          variant.Height,
		VideoBitrate:    variant.VideoBitrate,
		AudioBitrate:    variant.AudioBitrate,
		VideoEncoder:    profile.VideoEncoder,
		AudioEncoder:    profile.AudioEncoder,
		HWAccel:         profile.Accel,
		Device:          profile.Device,
	}
	if w.deps.Profile.CanRemuxVideo(src.VideoCodec, variant) {
		req.VideoEncoder = ffmpeg.CodecCopy
	}
	if w.deps.Profile.CanPassthroughAudio(src.AudioCodec) {
		req.AudioEncoder = ffmpeg.CodecCopy
	}
	return req
}

// abort ends a start attempt that never reached Running.
func (w *TranscodeWorker) abort(state WorkerState, op string, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.closeDone()

	if w.state == StateStopping || state == StateTerminated {
		w.setStateLocked(StateTerminated)
		return fmt.Errorf("%w: session stopped while starting", ErrConflict)
	}

	kind := kindOf(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	werr := &WorkerError{Kind: kind, Op: op, Err: err}
	w.err = werr
	w.setStateLocked(state)

	w.logger.Warn("transcode not started",
		slog.String("state", string(state)),
		slog.String("error", werr.Error()),
	)
	return werr
}

// run consumes segments until the process ends, then releases the slot.
func (w *TranscodeWorker) run(proc EncodeProcess, slot *Slot) {
	defer w.closeDone()

	var firstSegment <-chan time.Time
	if w.cfg.FirstSegmentTimeout > 0 {
		timer := time.NewTimer(w.cfg.FirstSegmentTimeout)
		defer timer.Stop()
		firstSegment = timer.C
	}

	segments := proc.Segments()
	var failure error

loop:
	for {
		select {
		case out, ok := <-segments:
			if !ok {
				break loop
			}
			if w.cfg.VerifySegments {
				if err := VerifySegment(w.ctx, out.Path); err != nil {
					failure = &WorkerError{Kind: ErrUpstreamFailure, Op: "verify segment", Err: err}
					_ = proc.Kill()
					break loop
				}
			}
			w.appendSegment(out)
			firstSegment = nil
		case <-firstSegment:
			failure = &WorkerError{
				Kind: ErrTimeout,
				Op:   "wait for first segment",
				Err:  fmt.Errorf("no segment within %s", w.cfg.FirstSegmentTimeout),
			}
			_ = proc.Kill()
			break loop
		case <-w.ctx.Done():
			_ = proc.Kill()
			break loop
		}
	}

	go drain(segments)
	exitErr := proc.Wait()
	slot.Release()
	w.finish(failure, exitErr)
}

func (w *TranscodeWorker) appendSegment(out SegmentOutput) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.segments = append(w.segments, Segment{
		Sequence: out.Sequence,
		Start:    w.offset + out.Start,
		Duration: out.Duration,
		Path:     out.Path,
		Size:     out.Size,
	})
	w.broadcastLocked()
}

func (w *TranscodeWorker) finish(failure, exitErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.state == StateStopping:
		w.setStateLocked(StateTerminated)
	case failure != nil:
		w.failLocked(failure)
	case exitErr != nil:
		w.failLocked(&WorkerError{Kind: ErrUpstreamFailure, Op: "encode", Err: exitErr})
	case len(w.segments) == 0:
		w.failLocked(&WorkerError{Kind: ErrUpstreamFailure, Op: "encode", Err: errors.New("encoder exited without producing segments")})
	default:
		w.complete = true
		w.broadcastLocked()
		w.logger.Info("transcode complete", slog.Int("segments", len(w.segments)))
	}
}

// failLocked discards every segment produced so far and records err.
func (w *TranscodeWorker) failLocked(err error) {
	for _, seg := range w.segments {
		if rmErr := os.Remove(seg.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			w.logger.Warn("removing discarded segment", slog.String("path", seg.Path), slog.String("error", rmErr.Error()))
		}
	}
	w.segments = nil
	w.err = err
	w.setStateLocked(StateFailed)
	w.logger.Error("transcode failed", slog.String("error", err.Error()))
}

// Stop kills the process, releases the slot and removes the work directory.
// It blocks until teardown has finished or ctx ends. Stopping a stopped
// worker is a no-op.
func (w *TranscodeWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateCreated:
		w.setStateLocked(StateTerminated)
		w.mu.Unlock()
		w.cancel()
		w.closeDone()
		return nil
	case StateStarting, StateRunning:
		w.setStateLocked(StateStopping)
	}
	w.mu.Unlock()

	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	if w.state == StateStopping {
		w.setStateLocked(StateTerminated)
	}
	w.mu.Unlock()

	if err := os.RemoveAll(w.cfg.WorkDir); err != nil {
		w.logger.Warn("removing work dir", slog.String("error", err.Error()))
	}
	return nil
}

// Wait blocks until the worker has a segment, has completed or has ended.
// It returns the failure of a failed or rejected worker.
func (w *TranscodeWorker) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		ready, err := w.readyLocked()
		changed := w.changed
		w.mu.Unlock()
		if ready {
			return err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *TranscodeWorker) readyLocked() (bool, error) {
	switch w.state {
	case StateFailed, StateRejected:
		return true, w.err
	case StateStopping, StateTerminated:
		return true, fmt.Errorf("%w: session stopped", ErrNotFound)
	case StateRunning:
		return len(w.segments) > 0 || w.complete, nil
	default:
		return false, nil
	}
}

// WaitForSegment returns segment seq once it is complete. It fails with
// ErrNotFound if ctx ends first or the segment will never exist.
func (w *TranscodeWorker) WaitForSegment(ctx context.Context, seq int) (Segment, error) {
	for {
		w.mu.Lock()
		seg, ok := w.segmentLocked(seq)
		state, complete, werr, changed := w.state, w.complete, w.err, w.changed
		w.mu.Unlock()

		switch {
		case ok:
			return seg, nil
		case seq < 0:
			return Segment{}, fmt.Errorf("%w: segment %d", ErrNotFound, seq)
		case state == StateFailed || state == StateRejected:
			return Segment{}, werr
		case state.Terminal() || state == StateStopping || complete:
			return Segment{}, fmt.Errorf("%w: segment %d", ErrNotFound, seq)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Segment{}, fmt.Errorf("%w: segment %d not ready", ErrNotFound, seq)
		}
	}
}

func (w *TranscodeWorker) segmentLocked(seq int) (Segment, bool) {
	if seq >= 0 && seq < len(w.segments) && w.segments[seq].Sequence == seq {
		return w.segments[seq], true
	}
	for _, seg := range w.segments {
		if seg.Sequence == seq {
			return seg, true
		}
	}
	return Segment{}, false
}

// Generation returns the session generation this worker encodes.
func (w *TranscodeWorker) Generation() int {
	return w.cfg.Generation
}

// State returns the current lifecycle state.
func (w *TranscodeWorker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the recorded failure, if any.
func (w *TranscodeWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats returns the worker state plus process resource usage while it runs.
func (w *TranscodeWorker) Stats(ctx context.Context) WorkerStats {
	w.mu.Lock()
	stats := WorkerStats{
		State:    w.state,
		Offset:   w.offset,
		Segments: len(w.segments),
		Complete: w.complete,
	}
	if w.err != nil {
		stats.Error = w.err.Error()
	}
	monitor := w.monitor
	live := w.state == StateRunning && !w.complete
	w.mu.Unlock()

	if monitor != nil && live {
		ps := monitor.Sample(ctx)
		if ps.Running {
			stats.PID = ps.PID
			stats.CPUPercent = ps.CPUPercent
			stats.MemoryRSS = ps.MemoryRSS
		}
	}
	return stats
}

func (w *TranscodeWorker) setStateLocked(state WorkerState) {
	w.state = state
	w.broadcastLocked()
}

// broadcastLocked wakes every Wait and WaitForSegment caller.
func (w *TranscodeWorker) broadcastLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *TranscodeWorker) closeDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

// reap kills a process and waits for it to exit.
func reap(proc EncodeProcess) {
	_ = proc.Kill()
	go drain(proc.Segments())
	_ = proc.Wait()
}

func drain(segments <-chan SegmentOutput) {
	for range segments { //nolint:revive // discard
	}
}
