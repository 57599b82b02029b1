package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
camera:
  driver: sim
  capturesDirectory: /var/lib/astrocam/captures
  monitorInterval: 5s
  autoStartCapture: true
  sim:
    name: Bench Camera
    width: 1280
    height: 960
  defaults:
    exposure: 250000
    gain: 120
    binning: 2
    format: mono16
    bandwidth: min
    roiX: 0
    roiY: 0
    roiWidth: 1
    roiHeight: 1
    maxRecordingFPS: 2
scheduler:
  pollInterval: 10s
  startTolerance: 2m
storage:
  dataDirectory: /var/lib/astrocam
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	level, err := config.Settings.Level()
	if err != nil {
		t.Fatalf("Failed to parse log level: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", level)
	}

	if config.Camera.Driver != "sim" {
		t.Errorf("Expected sim driver, got %q", config.Camera.Driver)
	}
	if time.Duration(config.Camera.MonitorInterval) != 5*time.Second {
		t.Errorf("Expected 5s monitor interval, got %v", time.Duration(config.Camera.MonitorInterval))
	}
	if config.Camera.Sim == nil || config.Camera.Sim.Width != 1280 {
		t.Errorf("Expected sim geometry to parse, got %+v", config.Camera.Sim)
	}
	if config.Camera.Defaults == nil || config.Camera.Defaults.Exposure != 250000 {
		t.Errorf("Expected camera defaults to parse, got %+v", config.Camera.Defaults)
	}
	if time.Duration(config.Scheduler.StartTolerance) != 2*time.Minute {
		t.Errorf("Expected 2m start tolerance, got %v", time.Duration(config.Scheduler.StartTolerance))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
camera:
  driver: sim
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Camera.CapturesDirectory != defaultCapturesDir {
		t.Errorf("Expected default captures directory, got %q", config.Camera.CapturesDirectory)
	}
	if config.Storage.DataDirectory != defaultDataDir {
		t.Errorf("Expected default data directory, got %q", config.Storage.DataDirectory)
	}

	level, err := config.Settings.Level()
	if err != nil {
		t.Fatalf("Failed to parse log level: %v", err)
	}
	if level != slog.LevelInfo {
		t.Errorf("Expected info level by default, got %v", level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"missing driver", "storage:\n  dataDirectory: data\n"},
		{"bad log level", "settings:\n  logLevel: loud\ncamera:\n  driver: sim\n"},
		{"bad duration", "camera:\n  driver: sim\n  monitorInterval: soon\n"},
		{"bad defaults", "camera:\n  driver: sim\n  defaults:\n    exposure: -1\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected config to be rejected")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
