// Package worker drives one camera's pipeline: connect, demux, decode,
// convert, publish to the camera's frame slot. It owns the reconnect and
// backoff policy and never touches another camera's state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/visiona/camfeed/internal/decode"
	"github.com/visiona/camfeed/internal/frame"
	"github.com/visiona/camfeed/internal/frameslot"
	"github.com/visiona/camfeed/internal/source"
)

// State is the connection state of one camera pipeline.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	// StateErrored is terminal: the camera is misconfigured and will not be
	// retried. Surfaced for operator visibility, never crashes siblings.
	StateErrored
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	default:
		return "disconnected"
	}
}

// Config assembles one camera worker.
type Config struct {
	// Label identifies the camera in logs (credentials-free)
	Label string
	// Source establishes sessions to the camera (required)
	Source source.Source
	// NewDecoder builds a fresh decoder per session (required)
	NewDecoder decode.Factory
	// Slot receives every successfully converted frame (required)
	Slot *frameslot.Slot
	// Format is the output pixel format for published frames
	Format frame.PixelFormat
	// Backoff is the reconnect schedule; zero value uses defaults
	Backoff BackoffConfig
	// MaxFrameErrors is the consecutive per-frame failure count that forces
	// a reconnect (sustained corruption vs. isolated glitches). 0 disables.
	MaxFrameErrors int
}

// Stats is a point-in-time snapshot of one worker's counters.
type Stats struct {
	State           string    `json:"state"`
	FramesPublished uint64    `json:"frames_published"`
	FramesSkipped   uint64    `json:"frames_skipped"`
	Reconnects      uint64    `json:"reconnects"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	LastError       string    `json:"last_error,omitempty"`
}

// CameraWorker runs the pipeline state machine for a single camera:
//
//	Disconnected → Connecting → Streaming → (Disconnected | Errored)
//
// Transient failures loop back through Connecting after backoff; a fatal
// misconfiguration parks the worker in Errored permanently.
type CameraWorker struct {
	cfg Config

	state atomic.Int32

	mu          sync.Mutex
	lastErr     error
	lastFrameAt time.Time

	framesPublished uint64
	framesSkipped   uint64
	reconnects      uint64

	// sleep is swappable so tests can observe backoff delays without
	// actually waiting
	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// New creates a camera worker with fail-fast validation.
func New(cfg Config) (*CameraWorker, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("worker: source is required")
	}
	if cfg.NewDecoder == nil {
		return nil, fmt.Errorf("worker: decoder factory is required")
	}
	if cfg.Slot == nil {
		return nil, fmt.Errorf("worker: frame slot is required")
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}

	return &CameraWorker{
		cfg: cfg,
		sleep: func(ctx context.Context, d time.Duration) bool {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return true
			case <-ctx.Done():
				return false
			}
		},
		now: time.Now,
	}, nil
}

// State returns the current connection state.
func (w *CameraWorker) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the worker's counters.
func (w *CameraWorker) Stats() Stats {
	w.mu.Lock()
	lastErr := w.lastErr
	lastFrameAt := w.lastFrameAt
	w.mu.Unlock()

	s := Stats{
		State:           w.State().String(),
		FramesPublished: atomic.LoadUint64(&w.framesPublished),
		FramesSkipped:   atomic.LoadUint64(&w.framesSkipped),
		Reconnects:      atomic.LoadUint64(&w.reconnects),
		LastFrameAt:     lastFrameAt,
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

// Run executes the state machine until the context is cancelled or the
// camera reaches the terminal Errored state. The returned error is nil on
// cancellation and the fatal error otherwise.
func (w *CameraWorker) Run(ctx context.Context) error {
	attempt := 0

	for {
		if ctx.Err() != nil {
			w.state.Store(int32(StateDisconnected))
			return nil
		}

		w.state.Store(int32(StateConnecting))

		sess, err := w.cfg.Source.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.state.Store(int32(StateDisconnected))
				return nil
			}
			if source.IsFatal(err) {
				return w.enterErrored(err)
			}

			attempt++
			atomic.AddUint64(&w.reconnects, 1)
			delay := w.cfg.Backoff.Delay(attempt)
			w.setLastErr(err)
			slog.Warn("worker: connect failed, backing off",
				"camera", w.cfg.Label,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			if !w.sleep(ctx, delay) {
				w.state.Store(int32(StateDisconnected))
				return nil
			}
			continue
		}

		streamErr := w.stream(ctx, sess, &attempt)
		sess.Close()
		w.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(streamErr, source.ErrInvalidStreamIndex) {
			return w.enterErrored(streamErr)
		}

		// Everything else mid-stream reconnects: transient network errors,
		// protocol violations, unrecoverable decoder state
		attempt++
		atomic.AddUint64(&w.reconnects, 1)
		delay := w.cfg.Backoff.Delay(attempt)
		w.setLastErr(streamErr)
		slog.Warn("worker: session ended, reconnecting",
			"camera", w.cfg.Label,
			"attempt", attempt,
			"delay", delay,
			"error", streamErr,
		)
		if !w.sleep(ctx, delay) {
			return nil
		}
	}
}

// stream pumps packets through decode and conversion into the slot until
// the session dies. attempt is reset once the first packet arrives, so
// backoff starts over after a healthy connection.
func (w *CameraWorker) stream(ctx context.Context, sess source.Session, attempt *int) error {
	dec, err := w.cfg.NewDecoder()
	if err != nil {
		// Engine unavailable is environmental, retry with backoff
		return source.Transient(fmt.Errorf("worker: decoder unavailable: %w", err))
	}
	defer dec.Close()

	streaming := false
	frameErrors := 0

	for {
		pkt, err := sess.NextPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				// Orderly end: drain the engine's buffered frames before
				// tearing down, then reconnect
				w.emit(dec.Flush(), &frameErrors)
				return source.Transient(errors.New("worker: stream ended"))
			}
			return err
		}

		if !streaming {
			streaming = true
			*attempt = 0
			w.state.Store(int32(StateStreaming))
			slog.Info("worker: streaming", "camera", w.cfg.Label, "stream_index", pkt.StreamIndex)
		}

		frames, derr := dec.Feed(pkt)
		if derr != nil {
			if errors.Is(derr, decode.ErrEngineFatal) {
				w.emit(frames, &frameErrors)
				return source.Transient(derr)
			}
			// Per-packet decode error: skip and continue the session
			atomic.AddUint64(&w.framesSkipped, 1)
			frameErrors++
			slog.Warn("worker: decode error, skipping packet",
				"camera", w.cfg.Label, "error", derr)
		}

		w.emit(frames, &frameErrors)

		if w.cfg.MaxFrameErrors > 0 && frameErrors >= w.cfg.MaxFrameErrors {
			return source.Transient(fmt.Errorf(
				"worker: %d consecutive frame errors, forcing reconnect", frameErrors))
		}
	}
}

// emit converts and publishes decoded frames. Conversion failures are
// logged per frame and never change connection state.
func (w *CameraWorker) emit(frames []frame.RawFrame, frameErrors *int) {
	for _, raw := range frames {
		f, err := frame.Convert(raw, w.cfg.Format)
		if err != nil {
			atomic.AddUint64(&w.framesSkipped, 1)
			*frameErrors++
			slog.Warn("worker: conversion failed, skipping frame",
				"camera", w.cfg.Label,
				"layout", raw.Layout.String(),
				"error", err,
			)
			continue
		}

		f.CapturedAt = w.now()
		f.TraceID = uuid.New().String()

		if err := w.cfg.Slot.Publish(f); err != nil {
			// Slot closed mid-teardown; nothing left to do with this frame
			return
		}

		atomic.AddUint64(&w.framesPublished, 1)
		*frameErrors = 0
		w.mu.Lock()
		w.lastFrameAt = f.CapturedAt
		w.mu.Unlock()
	}
}

// enterErrored parks the worker in the terminal state.
func (w *CameraWorker) enterErrored(err error) error {
	w.setLastErr(err)
	w.state.Store(int32(StateErrored))
	slog.Error("worker: camera halted permanently",
		"camera", w.cfg.Label,
		"error", err,
	)
	return err
}

func (w *CameraWorker) setLastErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}
