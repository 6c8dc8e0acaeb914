package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.MediaItem{}, &models.Keyframe{}))
	return db
}

// testCatalog is a catalog backed by an in-memory database.
func testCatalog(t *testing.T, db *gorm.DB, items map[string]string) *RepositoryCatalog {
	t.Helper()

	repo := repository.NewMediaItemRepository(db)
	for mediaID, path := range items {
		require.NoError(t, repo.Create(context.Background(), &models.MediaItem{MediaID: mediaID, Path: path}))
	}
	return NewRepositoryCatalog(repo, nil, discardLogger())
}

// fakeKeyframeProber returns fixed keyframe times and counts probes.
type fakeKeyframeProber struct {
	seconds []float64
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (p *fakeKeyframeProber) ProbeKeyframes(_ context.Context, _ string) ([]float64, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.seconds, nil
}

// fakeProcess is an encode process driven by the test.
type fakeProcess struct {
	req      EncodeRequest
	segments chan SegmentOutput
	ended    chan struct{}
	endOnce  sync.Once
	exitErr  error
	kills    atomic.Int32
}

func newFakeProcess(req EncodeRequest) *fakeProcess {
	return &fakeProcess{
		req:      req,
		segments: make(chan SegmentOutput, 16),
		ended:    make(chan struct{}),
	}
}

func (p *fakeProcess) Segments() <-chan SegmentOutput { return p.segments }

func (p *fakeProcess) Wait() error {
	<-p.ended
	return p.exitErr
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) PID() int { return 0 }

// emit writes segment seq to disk and publishes it.
func (p *fakeProcess) emit(t *testing.T, seq int) string {
	t.Helper()

	path := filepath.Join(p.req.WorkDir, fmt.Sprintf("segment_%05d.ts", seq))
	require.NoError(t, os.WriteFile(path, []byte("segment"), 0o600))
	p.segments <- SegmentOutput{
		Sequence: seq,
		Path:     path,
		Start:    time.Duration(seq) * 4 * time.Second,
		Duration: 4 * time.Second,
		Size:     int64(len("segment")),
	}
	return path
}

// exit ends the process with err. Only the first call has an effect.
func (p *fakeProcess) exit(err error) {
	p.endOnce.Do(func() {
		p.exitErr = err
		close(p.segments)
		close(p.ended)
	})
}

// fakeEncoder starts fakeProcesses and hands them to the test.
type fakeEncoder struct {
	startErr error
	started  chan *fakeProcess

	mu       sync.Mutex
	requests []EncodeRequest
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{started: make(chan *fakeProcess, 8)}
}

func (e *fakeEncoder) Start(_ context.Context, req EncodeRequest) (EncodeProcess, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.startErr != nil {
		return nil, e.startErr
	}
	if err := os.MkdirAll(req.WorkDir, 0o750); err != nil {
		return nil, err
	}
	proc := newFakeProcess(req)
	e.started <- proc
	return proc, nil
}

func (e *fakeEncoder) Requests() []EncodeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EncodeRequest(nil), e.requests...)
}

func (e *fakeEncoder) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-e.started:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("encoder was not started")
		return nil
	}
}

// fixedOffsets resolves every target to offset.
type fixedOffsets struct {
	offset time.Duration
	err    error
}

func (f fixedOffsets) Resolve(context.Context, string, time.Duration) (time.Duration, error) {
	return f.offset, f.err
}

func softwareProfile() EncoderProfile {
	return EncoderProfile{
		Kind:            EncoderSoftware,
		Accel:           ffmpeg.HWAccelNone,
		VideoEncoder:    "libx264",
		AudioEncoder:    "aac",
		Codecs:          []string{"h264", "aac"},
		ConcurrencyHint: 2,
	}
}

func testSource() MediaSource {
	return MediaSource{MediaID: "m1", Path: "/media/m1.mkv", VideoCodec: "hevc", AudioCodec: "aac"}
}
