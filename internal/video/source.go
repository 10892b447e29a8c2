package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

var (
	// ErrDeviceBusy is a transient read failure: no frame was ready in time
	// but the device is still there. Callers may retry.
	ErrDeviceBusy = errors.New("device busy")
	// ErrSourceClosed is returned once a source has ended or was closed
	ErrSourceClosed = errors.New("frame source closed")
	// ErrUnsupportedDriver is returned for an unknown camera driver
	ErrUnsupportedDriver = errors.New("unsupported camera driver")
)

// FrameSource produces raw frames on demand. A source is owned by a
// single goroutine: Open, ReadFrame and Close are not called concurrently.
type FrameSource interface {
	// Open acquires the device
	Open(ctx context.Context) error
	// ReadFrame blocks until the next frame is available. It returns
	// ErrDeviceBusy on a transient failure and another error when the
	// device is gone.
	ReadFrame(ctx context.Context) (*Frame, error)
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// SourceConfig describes which device to open and how
type SourceConfig struct {
	Driver      string // "ffmpeg" or "v4l2"
	Device      string // /dev/video0, a file, or an rtsp:// / http:// URL
	InputFormat string // ffmpeg demuxer input_format, e.g. "mjpeg"
	Width       int
	Height      int
	FPS         float64
	ReadTimeout time.Duration
}

// SourceFactory builds a fresh FrameSource for each capture run
type SourceFactory func(cfg SourceConfig) (FrameSource, error)

// NewSourceFactory returns a factory that picks the implementation from
// cfg.Driver. ffmpeg may be nil when only the v4l2 driver is used.
func NewSourceFactory(ff *FFmpegWrapper, log *logger.Logger) SourceFactory {
	return func(cfg SourceConfig) (FrameSource, error) {
		if cfg.ReadTimeout <= 0 {
			cfg.ReadTimeout = 5 * time.Second
		}
		switch cfg.Driver {
		case "", "ffmpeg":
			if ff == nil {
				return nil, fmt.Errorf("ffmpeg driver selected: %w", ErrFFmpegNotFound)
			}
			return NewFFmpegSource(ff, cfg, log), nil
		case "v4l2":
			return NewV4L2Source(cfg, log), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
		}
	}
}
