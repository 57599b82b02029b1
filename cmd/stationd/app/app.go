package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/astrocam/internal/camera"
	"github.com/roman-kulish/astrocam/internal/camera/sim"
	"github.com/roman-kulish/astrocam/internal/schedule"
)

const scheduleDBFile = "schedules.sqlite"

// Run wires the store, the camera session and the schedule runner together
// and blocks until ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, err := createStore(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create schedule store: %w", err)
	}
	defer store.Close()

	binding, err := createBinding(&config.Camera)
	if err != nil {
		return fmt.Errorf("failed to create camera binding: %w", err)
	}

	if err = os.MkdirAll(config.Camera.CapturesDirectory, 0o755); err != nil {
		return fmt.Errorf("failed to create captures directory: %w", err)
	}

	options := []func(*camera.Session){camera.WithLogger(logger)}
	if config.Camera.MonitorInterval > 0 {
		options = append(options, camera.WithMonitorInterval(time.Duration(config.Camera.MonitorInterval)))
	}
	if config.Camera.Defaults != nil {
		options = append(options, camera.WithSettings(*config.Camera.Defaults))
	}

	session := camera.NewSession(binding, config.Camera.CapturesDirectory, options...)
	session.Start(ctx)
	defer session.Close()

	if config.Camera.AutoStartCapture {
		if err = session.StartCapture(); err != nil {
			logger.Warn("capture not started: " + err.Error())
		}
	}

	runnerOptions := []schedule.RunnerOption{schedule.WithLogger(logger)}
	if config.Scheduler.PollInterval > 0 {
		runnerOptions = append(runnerOptions, schedule.WithPollInterval(time.Duration(config.Scheduler.PollInterval)))
	}
	if config.Scheduler.StartTolerance > 0 {
		runnerOptions = append(runnerOptions, schedule.WithStartTolerance(time.Duration(config.Scheduler.StartTolerance)))
	}

	runner := schedule.NewRunner(store, session, runnerOptions...)
	runner.Run(ctx)

	return nil
}

func createBinding(config *CameraConfig) (camera.Binding, error) {
	switch config.Driver {
	case sim.Driver:
		cfg := config.Sim
		if cfg == nil {
			cfg = &sim.Config{}
		}
		binding, err := sim.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating simulated camera: %w", err)
		}
		return binding, nil

	default:
		return nil, fmt.Errorf("creating camera: unknown driver '%s'", config.Driver)
	}
}

func createStore(config *StorageConfig) (*schedule.Store, error) {
	if err := os.MkdirAll(config.DataDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return schedule.NewStore(filepath.Join(config.DataDirectory, scheduleDBFile)), nil
}
