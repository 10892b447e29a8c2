package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

var validate = validator.New()

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var err error

	if verr := validate.Struct(c); verr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(verr, &fieldErrs) {
			for _, fe := range fieldErrs {
				err = multierr.Append(err, fmt.Errorf("%s failed '%s' (value: %v)", fieldPath(fe), fe.Tag(), fe.Value()))
			}
		} else {
			err = multierr.Append(err, verr)
		}
	}

	if c.Camera.Device == "" {
		err = multierr.Append(err, errors.New("camera.device is required"))
	}

	if c.Camera.CapturePeriod <= 0 {
		err = multierr.Append(err, fmt.Errorf("camera.capture_period must be > 0, got: %v", c.Camera.CapturePeriod))
	}

	if c.Stream.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("stream.poll_interval must be > 0, got: %v", c.Stream.PollInterval))
	}

	if c.Health.Enabled && c.Health.Port == c.Server.Port && c.Health.Host == c.Server.Host {
		err = multierr.Append(err, fmt.Errorf("health.port (%d) conflicts with server.port", c.Health.Port))
	}

	for name, path := range c.Videos {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			err = multierr.Append(err, fmt.Errorf("videos entry %q must have a name and a path", name))
		}
	}

	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// fieldPath turns "Config.Detector.ServiceURL" into "detector.service_url"-ish
// lowercase dotted paths for readable errors.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
