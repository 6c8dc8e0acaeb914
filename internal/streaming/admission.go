package streaming

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// AdmissionStats is a point-in-time view of the gate.
type AdmissionStats struct {
	Max     int `json:"max"`
	InUse   int `json:"in_use"`
	Waiting int `json:"waiting"`
}

// Slot is a granted admission. Release is idempotent.
type Slot struct {
	gate *AdmissionGate
	once sync.Once
}

// Release returns the slot to the gate. Calls after the first are no-ops.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.gate.release)
}

type admissionWaiter struct {
	ready chan error
}

// AdmissionGate bounds how many encode processes run at once. Waiters are
// served strictly in arrival order: a released slot is handed directly to
// the oldest waiter.
type AdmissionGate struct {
	max int

	mu      sync.Mutex
	inUse   int
	waiters []*admissionWaiter
	closed  bool
}

// NewAdmissionGate creates a gate admitting at most limit concurrent holders.
// Values below 1 are raised to 1.
func NewAdmissionGate(limit int) *AdmissionGate {
	return &AdmissionGate{max: max(1, limit)}
}

// Acquire waits up to timeout for a slot. It fails with ErrResourceExhausted
// when the timeout elapses and with the context error when ctx ends first.
// A non-positive timeout only succeeds if a slot is free right now.
func (g *AdmissionGate) Acquire(ctx context.Context, timeout time.Duration) (*Slot, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, ErrClosed)
	}
	if g.inUse < g.max && len(g.waiters) == 0 {
		g.inUse++
		g.mu.Unlock()
		return &Slot{gate: g}, nil
	}
	if timeout <= 0 {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: all %d encode slots busy", ErrResourceExhausted, g.max)
	}
	w := &admissionWaiter{ready: make(chan error, 1)}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.ready:
		if err != nil {
			return nil, err
		}
		return &Slot{gate: g}, nil
	case <-timer.C:
		if g.abandon(w) {
			return nil, fmt.Errorf("%w: no encode slot within %s", ErrResourceExhausted, timeout)
		}
	case <-ctx.Done():
		if g.abandon(w) {
			return nil, ctx.Err()
		}
	}

	// The slot was handed over while we were giving up.
	if err := <-w.ready; err != nil {
		return nil, err
	}
	slot := &Slot{gate: g}
	if ctx.Err() != nil {
		slot.Release()
		return nil, ctx.Err()
	}
	return slot, nil
}

// abandon removes w from the queue, reporting false if it was already served.
func (g *AdmissionGate) abandon(w *admissionWaiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := slices.Index(g.waiters, w)
	if i < 0 {
		return false
	}
	g.waiters = slices.Delete(g.waiters, i, i+1)
	return true
}

func (g *AdmissionGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) > 0 && !g.closed {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		next.ready <- nil
		return
	}
	if g.inUse > 0 {
		g.inUse--
	}
}

// Stats returns current usage.
func (g *AdmissionGate) Stats() AdmissionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return AdmissionStats{Max: g.max, InUse: g.inUse, Waiting: len(g.waiters)}
}

// Close fails all current and future waiters. Held slots may still be released.
func (g *AdmissionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	err := fmt.Errorf("%w: %w", ErrResourceExhausted, ErrClosed)
	for _, w := range g.waiters {
		w.ready <- err
	}
	g.waiters = nil
}
