// Package lifecycle owns the per-tier backend slots and the loader that fills
// them. Slots are published as immutable snapshots through an atomic pointer:
// readers never observe a half-updated slot, and only the loader in this
// package writes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/tier"
	"golang.org/x/sync/semaphore"
)

// Status is the lifecycle position of a slot.
type Status int

const (
	// StatusIdle means no load has been attempted yet, or the slot was retired.
	StatusIdle Status = iota
	// StatusLoading means a load is in flight.
	StatusLoading
	// StatusReady means the backend handle is usable.
	StatusReady
	// StatusFailed means the last load attempt failed.
	StatusFailed
)

var statusNames = map[Status]string{
	StatusIdle:    "idle",
	StatusLoading: "loading",
	StatusReady:   "ready",
	StatusFailed:  "failed",
}

// ErrSlotClosed is returned when acquiring a slot that has been shut down.
var ErrSlotClosed = errors.New("backend slot closed")

// String returns the lower-case status name.
func (s Status) String() string {
	name, ok := statusNames[s]
	if !ok {
		return fmt.Sprintf("status(%d)", int(s))
	}

	return name
}

// State is an immutable snapshot of a slot. Backend is non-nil exactly when
// Status is StatusReady.
type State struct {
	Status    Status
	Backend   core.Backend
	LastError string
	Since     time.Time
}

// Available reports whether the snapshot carries a usable backend.
func (s State) Available() bool {
	return s.Status == StatusReady && s.Backend != nil
}

// Loading reports whether a load is in flight.
func (s State) Loading() bool {
	return s.Status == StatusLoading
}

// Slot holds the backend for one tier.
type Slot struct {
	tier     tier.Tier
	enabled  bool
	capacity int64
	state    atomic.Pointer[State]
	gate     *semaphore.Weighted
	closed   atomic.Bool
}

func newSlot(which tier.Tier, enabled bool, maxConcurrent int) *Slot {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	slot := &Slot{
		tier:     which,
		enabled:  enabled,
		capacity: int64(maxConcurrent),
		gate:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
	slot.state.Store(&State{Status: StatusIdle, Backend: nil, LastError: "", Since: time.Now()})

	return slot
}

// Tier returns the tier this slot serves.
func (s *Slot) Tier() tier.Tier {
	return s.tier
}

// Enabled reports whether the tier is configured to load at all.
func (s *Slot) Enabled() bool {
	return s.enabled
}

// Snapshot returns the current state. The returned value never changes.
func (s *Slot) Snapshot() State {
	return *s.state.Load()
}

// Acquire waits for a synthesis permit on this tier. The returned function
// must be called exactly once to release it.
func (s *Slot) Acquire(ctx context.Context) (func(), error) {
	if s.closed.Load() {
		return nil, ErrSlotClosed
	}

	err := s.gate.Acquire(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s backend: %w", s.tier, err)
	}

	if s.closed.Load() {
		s.gate.Release(1)

		return nil, ErrSlotClosed
	}

	return func() { s.gate.Release(1) }, nil
}

// beginLoad moves an idle or failed slot to loading. It returns the loading
// snapshot that publish/fail must present, or nil if a load may not start.
func (s *Slot) beginLoad() (*State, Status) {
	for {
		current := s.state.Load()
		if s.closed.Load() {
			return nil, current.Status
		}

		if current.Status == StatusLoading || current.Status == StatusReady {
			return nil, current.Status
		}

		next := &State{Status: StatusLoading, Backend: nil, LastError: "", Since: time.Now()}
		if s.state.CompareAndSwap(current, next) {
			return next, StatusLoading
		}
	}
}

// publish installs a loaded backend if the slot is still in the loading
// state this load started from. It reports false when the slot moved on
// (for example it was retired), in which case the caller owns the backend.
func (s *Slot) publish(from *State, backend core.Backend) bool {
	next := &State{Status: StatusReady, Backend: backend, LastError: "", Since: time.Now()}

	return s.state.CompareAndSwap(from, next)
}

// fail records a load failure unless the slot moved on.
func (s *Slot) fail(from *State, loadErr error) bool {
	next := &State{Status: StatusFailed, Backend: nil, LastError: loadErr.Error(), Since: time.Now()}

	return s.state.CompareAndSwap(from, next)
}

// retire makes the slot unavailable first, then waits for in-flight
// synthesis to drain, then closes the backend. No reader can obtain the
// handle once the swap has happened.
func (s *Slot) retire(ctx context.Context) error {
	s.closed.Store(true)

	previous := s.state.Swap(&State{Status: StatusIdle, Backend: nil, LastError: "", Since: time.Now()})
	if previous.Backend == nil {
		return nil
	}

	err := s.gate.Acquire(ctx, s.capacity)
	if err != nil {
		return fmt.Errorf("draining %s backend: %w", s.tier, err)
	}
	defer s.gate.Release(s.capacity)

	closeErr := previous.Backend.Close()
	if closeErr != nil {
		return fmt.Errorf("closing %s backend: %w", s.tier, closeErr)
	}

	return nil
}
