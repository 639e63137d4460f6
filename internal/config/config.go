// Package config loads and validates the camfeed configuration.
//
// Cameras can be declared in the YAML file or through comma-separated
// environment variable lists (one position per camera). Environment lists
// take precedence over the file when CAMERA_IP is set.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/visiona/camfeed/internal/frame"
)

// Config is the complete service configuration.
type Config struct {
	ImageFormat      string       `yaml:"image_format"` // RGB888 | YUV420, applies to cameras without an override
	HealthPort       string       `yaml:"health_port"`
	ShutdownTimeoutS int          `yaml:"shutdown_timeout_s"`
	MQTT             MQTTConfig   `yaml:"mqtt"`
	Stream           StreamConfig `yaml:"stream"`
	Cameras          []Camera     `yaml:"cameras"`
}

// MQTTConfig contains broker settings for the outbound image topic.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// StreamConfig contains knobs shared by all camera pipelines.
type StreamConfig struct {
	ReadTimeoutS            int `yaml:"read_timeout_s"`
	ReconnectInitialDelayMS int `yaml:"reconnect_initial_delay_ms"`
	ReconnectMaxDelayS      int `yaml:"reconnect_max_delay_s"`
	// MaxFrameErrors is the consecutive decode/convert failure count that
	// forces a reconnect. 0 disables the breaker.
	MaxFrameErrors int `yaml:"max_frame_errors"`
}

// Camera is the identity of one camera. Immutable after load.
type Camera struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	URISuffix   string `yaml:"uri_suffix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"` // sensitive: never logged, escaped in URLs
	StreamIndex int    `yaml:"stream_index"`
	Format      string `yaml:"format"` // optional per-camera override of image_format
}

// PixelFormat returns the camera's effective output format given the global
// default.
func (c Camera) PixelFormat(global string) frame.PixelFormat {
	if c.Format != "" {
		return frame.ParsePixelFormat(c.Format)
	}
	return frame.ParsePixelFormat(global)
}

// RTSPURL composes the connection URL. Credentials are percent-escaped so
// that passwords with URL metacharacters survive the trip.
func (c Camera) RTSPURL() string {
	u := url.URL{
		Scheme: "rtsp",
		Host:   fmt.Sprintf("%s:%d", c.Address, c.Port),
		Path:   "/" + c.URISuffix,
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u.String()
}

// EntityPath returns the stable identifier `/camera/<address>/<uri_suffix>`
// used to route the camera's outbound messages.
func (c Camera) EntityPath() string {
	return "/camera/" + c.Address + "/" + c.URISuffix
}

// Label returns a credentials-free identifier for logs.
func (c Camera) Label() string {
	return fmt.Sprintf("%s:%d/%s", c.Address, c.Port, c.URISuffix)
}

// ReadTimeout returns the bounded network read timeout.
func (c Config) ReadTimeout() time.Duration {
	if c.Stream.ReadTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Stream.ReadTimeoutS) * time.Second
}

// ReconnectInitialDelay returns the first backoff delay.
func (c Config) ReconnectInitialDelay() time.Duration {
	if c.Stream.ReconnectInitialDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Stream.ReconnectInitialDelayMS) * time.Millisecond
}

// ReconnectMaxDelay returns the backoff cap.
func (c Config) ReconnectMaxDelay() time.Duration {
	if c.Stream.ReconnectMaxDelayS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Stream.ReconnectMaxDelayS) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Load reads the YAML file, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the assembled configuration and fills defaults.
func Validate(cfg *Config) error {
	if len(cfg.Cameras) == 0 {
		return fmt.Errorf("at least one camera is required (cameras list or CAMERA_IP)")
	}

	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if cam.Address == "" {
			return fmt.Errorf("camera %d: address is required", i)
		}
		if cam.Port == 0 {
			cam.Port = 554
		}
		if cam.Port < 1 || cam.Port > 65535 {
			return fmt.Errorf("camera %d: invalid port %d", i, cam.Port)
		}
		if cam.StreamIndex < 0 {
			return fmt.Errorf("camera %d: negative stream index %d", i, cam.StreamIndex)
		}
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "camfeed"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "camfeed/images"
	}
	if cfg.HealthPort == "" {
		cfg.HealthPort = "8080"
	}
	return nil
}
