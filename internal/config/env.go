package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables mirroring the camera fields. Each holds a
// comma-separated list with one position per camera; a single value is
// broadcast across all cameras.
const (
	envIP        = "CAMERA_IP"
	envPort      = "CAMERA_PORT"
	envURISuffix = "CAMERA_URI_SUFFIX"
	envUsername  = "CAMERA_USERNAME"
	envPassword  = "CAMERA_PASSWORD"
	envStreamIdx = "STREAM_INDEX"
	envFormat    = "IMAGE_FORMAT"
)

// applyEnv overlays environment configuration. When CAMERA_IP is set, the
// environment camera lists replace the file's cameras entirely.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(envFormat); v != "" {
		cfg.ImageFormat = v
	}

	if os.Getenv(envIP) == "" {
		return nil
	}

	cams, err := camerasFromEnv()
	if err != nil {
		return err
	}
	cfg.Cameras = cams
	return nil
}

// camerasFromEnv zips the parallel CSV lists into one Camera per position.
//
// All lists must have the same length; a length-1 list is broadcast. A
// mismatch is a configuration error and names every field's length so the
// operator can see which list is off.
func camerasFromEnv() ([]Camera, error) {
	ips := splitCSV(os.Getenv(envIP))
	ports := splitCSV(os.Getenv(envPort))
	suffixes := splitCSV(os.Getenv(envURISuffix))
	usernames := splitCSV(os.Getenv(envUsername))
	passwords := splitCSV(os.Getenv(envPassword))
	indices := splitCSV(os.Getenv(envStreamIdx))

	fields := []struct {
		name string
		vals []string
	}{
		{envIP, ips},
		{envPort, ports},
		{envURISuffix, suffixes},
		{envUsername, usernames},
		{envPassword, passwords},
		{envStreamIdx, indices},
	}

	n := 0
	for _, f := range fields {
		if len(f.vals) > n {
			n = len(f.vals)
		}
	}

	for _, f := range fields {
		if len(f.vals) > 1 && len(f.vals) != n {
			details := make([]string, 0, len(fields))
			for _, g := range fields {
				details = append(details, fmt.Sprintf("%s: %d", g.name, len(g.vals)))
			}
			return nil, fmt.Errorf(
				"config: camera env lists must have the same number of comma-separated values (expected %d): %s",
				n, strings.Join(details, ", "))
		}
	}

	cams := make([]Camera, n)
	for i := range cams {
		cams[i].Address = pick(ips, i)

		if p := pick(ports, i); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("config: invalid value in %s: %q", envPort, p)
			}
			cams[i].Port = port
		}

		cams[i].URISuffix = pick(suffixes, i)
		cams[i].Username = pick(usernames, i)
		cams[i].Password = pick(passwords, i)

		if s := pick(indices, i); s != "" {
			idx, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("config: invalid value in %s: %q", envStreamIdx, s)
			}
			cams[i].StreamIndex = idx
		}
	}
	return cams, nil
}

// splitCSV splits a comma-separated list, trimming whitespace. An empty
// input yields nil, not [""].
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// pick returns list[i], broadcasting a single value and defaulting to empty.
func pick(list []string, i int) string {
	switch {
	case len(list) == 0:
		return ""
	case len(list) == 1:
		return list[0]
	default:
		return list[i]
	}
}
