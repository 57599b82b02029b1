package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/astrocam/internal/camera"
	"github.com/roman-kulish/astrocam/internal/camera/sim"
)

const (
	defaultCapturesDir = "captures"
	defaultDataDir     = "data"
)

type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d *TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(*d).String(), nil
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Camera    CameraConfig    `yaml:"camera"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level, defaulting to info.
func (s *Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("app.Settings: invalid log level '%s'", s.LogLevel)
	}
	return level, nil
}

// CameraConfig selects and configures the sensor driver.
type CameraConfig struct {
	Driver            string           `yaml:"driver"`
	CapturesDirectory string           `yaml:"capturesDirectory"`
	MonitorInterval   TimeDuration     `yaml:"monitorInterval"`
	AutoStartCapture  bool             `yaml:"autoStartCapture"`
	Sim               *sim.Config      `yaml:"sim"`
	Defaults          *camera.Settings `yaml:"defaults"`
}

// SchedulerConfig tunes the schedule runner.
type SchedulerConfig struct {
	PollInterval   TimeDuration `yaml:"pollInterval"`
	StartTolerance TimeDuration `yaml:"startTolerance"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

func (c *Config) Validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return err
	}

	if c.Camera.Driver == "" {
		return fmt.Errorf("app.Config: no camera driver specified")
	}
	if c.Camera.MonitorInterval < 0 {
		return fmt.Errorf("app.Config: monitor interval must not be negative")
	}
	if c.Camera.Defaults != nil {
		if err := c.Camera.Defaults.Validate(); err != nil {
			return fmt.Errorf("app.Config: invalid camera defaults: %w", err)
		}
	}

	if c.Scheduler.PollInterval < 0 {
		return fmt.Errorf("app.Config: poll interval must not be negative")
	}
	if c.Scheduler.StartTolerance < 0 {
		return fmt.Errorf("app.Config: start tolerance must not be negative")
	}

	return nil
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Camera.CapturesDirectory == "" {
		config.Camera.CapturesDirectory = defaultCapturesDir
	}
	if config.Storage.DataDirectory == "" {
		config.Storage.DataDirectory = defaultDataDir
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
