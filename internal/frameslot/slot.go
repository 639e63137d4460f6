// Package frameslot provides the single-slot, overwrite-on-write frame cell
// shared between one camera pipeline and its publishers.
//
// Core philosophy: "Drop frames, never queue. Latency > Completeness."
//
// A Slot holds at most one frame. Publish always overwrites and never blocks,
// regardless of how slow the readers are. Readers observe a strictly
// increasing version counter and may skip intermediate versions — only the
// latest frame is guaranteed observable.
package frameslot

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/visiona/camfeed/internal/frame"
)

// ErrSlotClosed is returned by Publish after Close.
var ErrSlotClosed = errors.New("frameslot: slot is closed")

// Slot is a versioned single-frame cell with broadcast change notification.
//
// Exactly one writer (the camera worker) and any number of readers are
// expected. The writer never waits on readers.
type Slot struct {
	mu      sync.RWMutex
	cond    *sync.Cond
	current *frame.FormattedFrame
	version uint64
	closed  bool

	published uint64 // atomic, lifetime publish count
}

// New creates an empty slot.
func New() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(s.mu.RLocker())
	return s
}

// Publish replaces the current frame, increments the version counter and
// wakes all subscribers. It never blocks. The previous frame is discarded.
func (s *Slot) Publish(f frame.FormattedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSlotClosed
	}

	s.current = &f
	s.version++
	atomic.AddUint64(&s.published, 1)
	s.cond.Broadcast()
	return nil
}

// Current returns a snapshot of the most recent completed publish.
// ok is false while the slot is still empty.
func (s *Slot) Current() (f frame.FormattedFrame, version uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return frame.FormattedFrame{}, 0, false
	}
	return *s.current, s.version, true
}

// Published returns the lifetime publish count.
func (s *Slot) Published() uint64 {
	return atomic.LoadUint64(&s.published)
}

// Close wakes all blocked subscribers and rejects further publishes.
// Idempotent. The held frame is released.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.current = nil
	s.cond.Broadcast()
}

// Subscribe registers a new reader positioned before the current version,
// so the first Next returns the current frame if one exists.
func (s *Slot) Subscribe() *Subscription {
	return &Subscription{slot: s}
}

// Subscription is a single reader's cursor into a slot.
//
// Next must not be called concurrently from multiple goroutines.
type Subscription struct {
	slot *Slot
	seen uint64
}

// Next blocks until a version newer than the last one seen is published,
// then returns the latest frame and its version. Intermediate versions the
// reader was too slow to observe are skipped. Returns ok=false once the slot
// is closed.
func (sub *Subscription) Next() (f frame.FormattedFrame, version uint64, ok bool) {
	s := sub.slot
	s.mu.RLock()
	defer s.mu.RUnlock()

	for s.version <= sub.seen && !s.closed {
		s.cond.Wait()
	}

	if s.closed {
		return frame.FormattedFrame{}, 0, false
	}

	sub.seen = s.version
	return *s.current, s.version, true
}

// TryNext returns the latest frame without blocking. ok is false if nothing
// newer than the last seen version has been published or the slot is closed.
func (sub *Subscription) TryNext() (f frame.FormattedFrame, version uint64, ok bool) {
	s := sub.slot
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.current == nil || s.version <= sub.seen {
		return frame.FormattedFrame{}, 0, false
	}
	sub.seen = s.version
	return *s.current, s.version, true
}
