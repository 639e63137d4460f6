package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/camfeed/internal/config"
)

// Emitter sends an encoded message to a topic. Implemented by MQTTEmitter
// in production and by fakes in tests.
type Emitter interface {
	Emit(topic string, payload []byte) error
}

// MQTTEmitter publishes image messages to an MQTT broker. It is shared by
// all camera publishers; paho's client is safe for concurrent use.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter for the configured broker.
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection. Auto-reconnect is enabled, so
// a connection lost after this call heals without intervention; publishes
// in the gap fail and are counted.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("publish: mqtt connected",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("publish: mqtt connection lost, auto-reconnecting",
			"broker", e.cfg.Broker,
			"error", err,
		)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("publish: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// Emit publishes one payload. Failures are returned to the caller, which
// logs and drops; image frames are never retried, the next frame supersedes.
func (e *MQTTEmitter) Emit(topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("publish: mqtt not connected")
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish: mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish: mqtt publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the broker connection with a short grace period.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("publish: mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// EmitterStats is a snapshot of the emitter's counters.
type EmitterStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Stats returns a snapshot of the emitter's counters.
func (e *MQTTEmitter) Stats() EmitterStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EmitterStats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
