package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by StartCapture when a loop exists.
	// It is informational, not a failure.
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrNotActive is returned when a frame is requested while stopped
	ErrNotActive = errors.New("webcam not active")
	// ErrNoFrameYet is returned while running but before the first publish
	ErrNoFrameYet = errors.New("no frame available")
)

// DeviceReadError ends a capture run: the source stopped producing data.
type DeviceReadError struct {
	Device string
	Err    error
}

func (e *DeviceReadError) Error() string {
	return fmt.Sprintf("read from %s failed: %v", e.Device, e.Err)
}

func (e *DeviceReadError) Unwrap() error {
	return e.Err
}
