package supervisor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/visiona/camfeed/internal/publish"
	"github.com/visiona/camfeed/internal/worker"
)

// CameraHealth is one camera's slice of the health report.
type CameraHealth struct {
	State     string                 `json:"state"`
	Worker    worker.Stats           `json:"worker"`
	Publisher publish.PublisherStats `json:"publisher"`
}

// HealthStatus is the service-wide health report.
type HealthStatus struct {
	Status        string                  `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64                   `json:"uptime_seconds"`
	CamerasUp     int                     `json:"cameras_up"`
	CamerasTotal  int                     `json:"cameras_total"`
	MQTTConnected bool                    `json:"mqtt_connected"`
	Cameras       map[string]CameraHealth `json:"cameras,omitempty"`
}

// emitterHealth is implemented by emitters that track their connection.
type emitterHealth interface {
	Stats() publish.EmitterStats
}

// HealthCheck assembles the current health report. A camera counts as up
// while it is streaming; degraded means some cameras or the broker are
// down, unhealthy means no camera delivers frames at all.
func (s *Supervisor) HealthCheck() HealthStatus {
	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		CamerasTotal:  len(s.pipelines),
		Cameras:       make(map[string]CameraHealth),
	}

	if eh, ok := s.emitter.(emitterHealth); ok {
		status.MQTTConnected = eh.Stats().Connected
	} else {
		status.MQTTConnected = true
	}

	for _, p := range s.pipelines {
		ws := p.worker.Stats()
		if p.worker.State() == worker.StateStreaming {
			status.CamerasUp++
		}
		status.Cameras[p.camera.Label()] = CameraHealth{
			State:     ws.State,
			Worker:    ws,
			Publisher: p.publisher.Stats(),
		}
	}

	switch {
	case status.CamerasTotal > 0 && status.CamerasUp == 0:
		status.Status = "unhealthy"
	case status.CamerasUp < status.CamerasTotal || !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler serves /health: the process is alive.
func (s *Supervisor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler serves /readiness: the full health report. Unhealthy
// maps to 503; degraded still answers 200.
func (s *Supervisor) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StartHealthServer serves the health endpoints on the given port. It does
// not block.
func (s *Supervisor) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("supervisor: health server listening",
		"port", port,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("supervisor: health server failed", "error", err)
		}
	}()

	return nil
}
