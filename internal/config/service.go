package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := loadEffective(configPath)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// loadEffective loads the file, applies .env and environment overrides,
// and validates the result.
func loadEffective(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetLogger replaces the bootstrap logger once logging is configured
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	newConfig, err := loadEffective(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	oldConfig := s.config
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	log := s.logger
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies TRIDECHET_* environment variable overrides.
// Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server
	if val := os.Getenv("TRIDECHET_HOST"); val != "" {
		cfg.Server.Host = val
	}
	cfg.Server.Port = GetEnvInt("TRIDECHET_PORT", cfg.Server.Port)

	// Detector
	if val := os.Getenv("TRIDECHET_DETECTOR_URL"); val != "" {
		cfg.Detector.ServiceURL = val
	}
	cfg.Detector.Timeout = GetEnvDuration("TRIDECHET_DETECTOR_TIMEOUT", cfg.Detector.Timeout)
	cfg.Detector.ConfidenceThreshold = GetEnvFloat64("TRIDECHET_CONFIDENCE", cfg.Detector.ConfidenceThreshold)

	// Camera
	if val := os.Getenv("TRIDECHET_CAMERA_DEVICE"); val != "" {
		cfg.Camera.Device = val
	}
	if val := os.Getenv("TRIDECHET_CAMERA_DRIVER"); val != "" {
		cfg.Camera.Driver = val
	}
	cfg.Camera.CapturePeriod = GetEnvDuration("TRIDECHET_CAPTURE_PERIOD", cfg.Camera.CapturePeriod)
	cfg.Camera.AutoStart = GetEnvBool("TRIDECHET_CAMERA_AUTOSTART", cfg.Camera.AutoStart)

	// Stream
	cfg.Stream.MaxFPS = GetEnvFloat64("TRIDECHET_STREAM_MAX_FPS", cfg.Stream.MaxFPS)

	// Health
	cfg.Health.Enabled = GetEnvBool("TRIDECHET_HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Port = GetEnvInt("TRIDECHET_HEALTH_PORT", cfg.Health.Port)

	// Log
	if val := os.Getenv("TRIDECHET_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("TRIDECHET_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("TRIDECHET_LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return result
}
