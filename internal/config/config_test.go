package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/visiona/camfeed/internal/frame"
)

func clearCameraEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envIP, envPort, envURISuffix, envUsername, envPassword, envStreamIdx, envFormat} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camfeed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	clearCameraEnv(t)
	path := writeConfig(t, `
image_format: YUV420
mqtt:
  broker: broker.local:1883
cameras:
  - address: 192.168.1.10
    uri_suffix: h264/ch1/main
    username: admin
    password: "p@ss/word"
  - address: 192.168.1.11
    port: 8554
    stream_index: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cfg.Cameras))
	}
	if cfg.Cameras[0].Port != 554 {
		t.Errorf("Default port not applied: %d", cfg.Cameras[0].Port)
	}
	if cfg.Cameras[1].Port != 8554 {
		t.Errorf("Explicit port lost: %d", cfg.Cameras[1].Port)
	}
	if got := cfg.Cameras[0].PixelFormat(cfg.ImageFormat); got != frame.FormatYUV420 {
		t.Errorf("Global image format not applied: %v", got)
	}
}

func TestCamerasFromEnvZip(t *testing.T) {
	clearCameraEnv(t)
	t.Setenv(envIP, "10.0.0.1, 10.0.0.2, 10.0.0.3")
	t.Setenv(envPort, "554")
	t.Setenv(envURISuffix, "a, b, c")
	t.Setenv(envStreamIdx, "0, 1, 0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Cameras) != 3 {
		t.Fatalf("Expected 3 cameras, got %d", len(cfg.Cameras))
	}
	if cfg.Cameras[1].Address != "10.0.0.2" || cfg.Cameras[1].URISuffix != "b" || cfg.Cameras[1].StreamIndex != 1 {
		t.Errorf("Camera 1 mis-zipped: %+v", cfg.Cameras[1])
	}
	// Single-value port broadcast across all cameras
	for i, cam := range cfg.Cameras {
		if cam.Port != 554 {
			t.Errorf("Camera %d: port not broadcast, got %d", i, cam.Port)
		}
	}
}

func TestCamerasFromEnvLengthMismatch(t *testing.T) {
	clearCameraEnv(t)
	t.Setenv(envIP, "10.0.0.1,10.0.0.2")
	t.Setenv(envURISuffix, "a,b,c")

	_, err := Load("")
	if err == nil {
		t.Fatal("Expected length mismatch error")
	}
	if !strings.Contains(err.Error(), envURISuffix) || !strings.Contains(err.Error(), envIP) {
		t.Errorf("Mismatch error does not name field lengths: %v", err)
	}
}

func TestEnvOverridesFileCameras(t *testing.T) {
	clearCameraEnv(t)
	path := writeConfig(t, `
cameras:
  - address: 1.1.1.1
`)
	t.Setenv(envIP, "2.2.2.2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Cameras) != 1 || cfg.Cameras[0].Address != "2.2.2.2" {
		t.Errorf("Env cameras did not replace file cameras: %+v", cfg.Cameras)
	}
}

func TestNoCameras(t *testing.T) {
	clearCameraEnv(t)
	if _, err := Load(""); err == nil {
		t.Error("Expected error with no cameras configured")
	}
}

func TestRTSPURLEscapesCredentials(t *testing.T) {
	cam := Camera{
		Address:   "192.168.1.10",
		Port:      554,
		URISuffix: "h264/ch1/main",
		Username:  "admin",
		Password:  "p@ss/wo:rd",
	}
	url := cam.RTSPURL()

	if strings.Contains(url, "p@ss/wo:rd") {
		t.Errorf("Password not escaped in URL: %s", url)
	}
	if !strings.HasPrefix(url, "rtsp://admin:") {
		t.Errorf("Unexpected URL shape: %s", url)
	}
	if !strings.HasSuffix(url, "@192.168.1.10:554/h264/ch1/main") {
		t.Errorf("Host/path wrong: %s", url)
	}
}

func TestRTSPURLWithoutCredentials(t *testing.T) {
	cam := Camera{Address: "cam.local", Port: 554, URISuffix: "live"}
	if got := cam.RTSPURL(); got != "rtsp://cam.local:554/live" {
		t.Errorf("Unexpected URL: %s", got)
	}
}

func TestEntityPath(t *testing.T) {
	cam := Camera{Address: "192.168.1.10", URISuffix: "h264/ch1/main"}
	want := "/camera/192.168.1.10/h264/ch1/main"
	if got := cam.EntityPath(); got != want {
		t.Errorf("EntityPath = %q, want %q", got, want)
	}

	// Empty suffix keeps the trailing slash, matching the URL path
	cam.URISuffix = ""
	if got := cam.EntityPath(); got != "/camera/192.168.1.10/" {
		t.Errorf("EntityPath with empty suffix = %q", got)
	}
}

func TestLabelOmitsCredentials(t *testing.T) {
	cam := Camera{Address: "h", Port: 554, URISuffix: "p", Username: "u", Password: "secret"}
	if strings.Contains(cam.Label(), "secret") {
		t.Error("Label leaks the password")
	}
}
