// Package supervisor composes and runs the per-camera pipelines. Each camera
// gets its own slot, worker and publisher; a failure, panic or permanent
// error in one camera never disturbs its siblings.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/visiona/camfeed/internal/config"
	"github.com/visiona/camfeed/internal/decode"
	"github.com/visiona/camfeed/internal/frameslot"
	"github.com/visiona/camfeed/internal/publish"
	"github.com/visiona/camfeed/internal/source"
	"github.com/visiona/camfeed/internal/worker"
)

// pipeline holds one camera's wired components.
type pipeline struct {
	camera    config.Camera
	slot      *frameslot.Slot
	worker    *worker.CameraWorker
	publisher *publish.Publisher
}

// Supervisor owns the camera pipelines and their lifecycle.
type Supervisor struct {
	cfg       *config.Config
	emitter   publish.Emitter
	pipelines []*pipeline
	started   time.Time

	// restartDelay paces worker restarts after a panic
	restartDelay time.Duration

	// newDecoder is swappable so tests can run without a media engine
	newDecoder func(label string) decode.Factory
}

// New wires one pipeline per configured camera. Construction is fail-fast:
// a camera that cannot even be assembled is a configuration error, caught
// before the service starts.
func New(cfg *config.Config, emitter publish.Emitter) (*Supervisor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("supervisor: config is required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("supervisor: emitter is required")
	}

	s := &Supervisor{
		cfg:          cfg,
		emitter:      emitter,
		started:      time.Now(),
		restartDelay: time.Second,
		newDecoder: func(label string) decode.Factory {
			return func() (decode.Decoder, error) {
				return decode.NewGstDecoder(label)
			}
		},
	}

	backoff := worker.BackoffConfig{
		InitialDelay: cfg.ReconnectInitialDelay(),
		MaxDelay:     cfg.ReconnectMaxDelay(),
		Multiplier:   2.0,
		Jitter:       0.2,
	}

	for _, cam := range cfg.Cameras {
		src, err := source.NewRTSPSource(source.RTSPConfig{
			URL:         cam.RTSPURL(),
			StreamIndex: cam.StreamIndex,
			ReadTimeout: cfg.ReadTimeout(),
			Label:       cam.Label(),
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: camera %s: %w", cam.Label(), err)
		}

		slot := frameslot.New()

		w, err := worker.New(worker.Config{
			Label:          cam.Label(),
			Source:         src,
			NewDecoder:     s.newDecoder(cam.Label()),
			Slot:           slot,
			Format:         cam.PixelFormat(cfg.ImageFormat),
			Backoff:        backoff,
			MaxFrameErrors: cfg.Stream.MaxFrameErrors,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: camera %s: %w", cam.Label(), err)
		}

		pub, err := publish.NewPublisher(slot, emitter, cfg.MQTT.TopicPrefix, cam.EntityPath(), cam.Label())
		if err != nil {
			return nil, fmt.Errorf("supervisor: camera %s: %w", cam.Label(), err)
		}

		s.pipelines = append(s.pipelines, &pipeline{
			camera:    cam,
			slot:      slot,
			worker:    w,
			publisher: pub,
		})
	}

	return s, nil
}

// Run starts every pipeline and blocks until the context is cancelled and
// all pipelines have drained. A camera that reaches its terminal error
// state stays down; everything else keeps running.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, p := range s.pipelines {
		wg.Add(2)

		go func(p *pipeline) {
			defer wg.Done()
			s.runWorker(ctx, p)
			// Worker is done for good: closing the slot releases the
			// publisher and any other readers
			p.slot.Close()
		}(p)

		go func(p *pipeline) {
			defer wg.Done()
			p.publisher.Run(ctx)
		}(p)
	}

	slog.Info("supervisor: pipelines started", "cameras", len(s.pipelines))

	<-ctx.Done()
	slog.Info("supervisor: shutting down pipelines")
	wg.Wait()
	return nil
}

// runWorker runs one camera worker until cancellation or terminal error,
// restarting it after a panic. A panic is a software defect, not a camera
// fault, and is logged as such before the restart.
func (s *Supervisor) runWorker(ctx context.Context, p *pipeline) {
	for ctx.Err() == nil {
		panicked := s.runWorkerOnce(ctx, p)
		if !panicked {
			// Clean exit: cancelled, or parked in the terminal error state
			return
		}

		timer := time.NewTimer(s.restartDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		slog.Info("supervisor: restarting worker after panic", "camera", p.camera.Label())
	}
}

func (s *Supervisor) runWorkerOnce(ctx context.Context, p *pipeline) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			slog.Error("supervisor: worker panicked, this is a software defect",
				"camera", p.camera.Label(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := p.worker.Run(ctx); err != nil {
		slog.Error("supervisor: camera permanently down, siblings unaffected",
			"camera", p.camera.Label(),
			"error", err,
		)
	}
	return false
}
