package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Detector DetectorConfig    `yaml:"detector"`
	Camera   CameraConfig      `yaml:"camera"`
	Stream   StreamConfig      `yaml:"stream"`
	Health   HealthConfig      `yaml:"health"`
	Videos   map[string]string `yaml:"videos"`
	Log      LogConfig         `yaml:"log,omitempty"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxUploadSizeMB int           `yaml:"max_upload_size_mb" validate:"gte=0"`
}

// DetectorConfig contains inference service configuration
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url" validate:"required,url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	ModelName           string        `yaml:"model_name"`
	JPEGQuality         int           `yaml:"jpeg_quality" validate:"gte=0,lte=100"`
}

// CameraConfig contains capture loop configuration
type CameraConfig struct {
	Driver             string        `yaml:"driver" validate:"omitempty,oneof=ffmpeg v4l2"`
	Device             string        `yaml:"device"`
	InputFormat        string        `yaml:"input_format"`
	DeviceDir          string        `yaml:"device_dir"`
	DiscoveryInterval  time.Duration `yaml:"discovery_interval"`
	Width              int           `yaml:"width" validate:"gte=0"`
	Height             int           `yaml:"height" validate:"gte=0"`
	CapturePeriod      time.Duration `yaml:"capture_period"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	MaxTransientErrors int           `yaml:"max_transient_errors" validate:"gte=0"`
	AutoStart          bool          `yaml:"auto_start"`
}

// StreamConfig contains viewer session configuration
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxFPS       float64       `yaml:"max_fps" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HealthConfig contains the liveness/readiness server configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
	Format     string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file. A missing file is not an
// error when no explicit path was given; defaults are enough to run against
// a local camera.
func Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = getDefaultConfigPath()
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/tri-dechet/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.MaxUploadSizeMB == 0 {
		c.Server.MaxUploadSizeMB = 20
	}

	if c.Detector.ServiceURL == "" {
		c.Detector.ServiceURL = "http://localhost:8081"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 10 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.5
	}
	if c.Detector.ModelName == "" {
		c.Detector.ModelName = "YOLOv8 Waste Classification"
	}
	if c.Detector.JPEGQuality == 0 {
		c.Detector.JPEGQuality = 85
	}

	if c.Camera.Driver == "" {
		c.Camera.Driver = "ffmpeg"
	}
	if c.Camera.Device == "" {
		c.Camera.Device = "/dev/video0"
	}
	if c.Camera.DeviceDir == "" {
		c.Camera.DeviceDir = "/dev"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.CapturePeriod == 0 {
		c.Camera.CapturePeriod = 100 * time.Millisecond
	}
	if c.Camera.ReadTimeout == 0 {
		c.Camera.ReadTimeout = 5 * time.Second
	}
	if c.Camera.MaxTransientErrors == 0 {
		c.Camera.MaxTransientErrors = 3
	}
	if c.Camera.DiscoveryInterval == 0 {
		c.Camera.DiscoveryInterval = 30 * time.Second
	}

	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = 100 * time.Millisecond
	}
	if c.Stream.MaxFPS == 0 {
		c.Stream.MaxFPS = 10
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = 5 * time.Second
	}

	if c.Health.Host == "" {
		c.Health.Host = "0.0.0.0"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}

	if c.Videos == nil {
		c.Videos = make(map[string]string)
	}
}
