package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/visiona/camfeed/internal/frameslot"
)

// Publisher follows one camera's frame slot and emits each observed frame
// version as exactly one broker message. A publisher that falls behind
// skips straight to the latest version; it never queues and never sends
// the same version twice.
type Publisher struct {
	slot       *frameslot.Slot
	emitter    Emitter
	topic      string
	entityPath string
	label      string

	published uint64
	failed    uint64
}

// NewPublisher creates a publisher for one camera's slot. The topic is the
// prefix joined with the camera's entity path.
func NewPublisher(slot *frameslot.Slot, emitter Emitter, topicPrefix, entityPath, label string) (*Publisher, error) {
	if slot == nil {
		return nil, fmt.Errorf("publish: frame slot is required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("publish: emitter is required")
	}
	if entityPath == "" {
		return nil, fmt.Errorf("publish: entity path is required")
	}

	return &Publisher{
		slot:       slot,
		emitter:    emitter,
		topic:      strings.TrimSuffix(topicPrefix, "/") + entityPath,
		entityPath: entityPath,
		label:      label,
	}, nil
}

// Run drains the slot until it is closed or the context is cancelled.
// Emit failures are logged and the frame dropped; the next frame always
// supersedes a lost one.
func (p *Publisher) Run(ctx context.Context) {
	sub := p.slot.Subscribe()

	for {
		f, version, ok := sub.Next()
		if !ok {
			slog.Info("publish: slot closed, publisher stopping",
				"camera", p.label, "published", atomic.LoadUint64(&p.published))
			return
		}
		if ctx.Err() != nil {
			return
		}

		msg := NewImage(p.entityPath, f)
		payload, err := msg.ToJSON()
		if err != nil {
			atomic.AddUint64(&p.failed, 1)
			slog.Warn("publish: message encode failed, dropping frame",
				"camera", p.label, "trace_id", f.TraceID, "error", err)
			continue
		}

		if err := p.emitter.Emit(p.topic, payload); err != nil {
			atomic.AddUint64(&p.failed, 1)
			slog.Warn("publish: emit failed, dropping frame",
				"camera", p.label,
				"topic", p.topic,
				"trace_id", f.TraceID,
				"error", err,
			)
			continue
		}

		atomic.AddUint64(&p.published, 1)
		slog.Debug("publish: frame emitted",
			"camera", p.label,
			"topic", p.topic,
			"version", version,
			"trace_id", f.TraceID,
			"size", len(payload),
		)
	}
}

// PublisherStats is a snapshot of one publisher's counters.
type PublisherStats struct {
	Topic     string `json:"topic"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// Stats returns a snapshot of the publisher's counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Topic:     p.topic,
		Published: atomic.LoadUint64(&p.published),
		Failed:    atomic.LoadUint64(&p.failed),
	}
}
