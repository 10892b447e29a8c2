//go:build !linux

package video

import (
	"context"
	"errors"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

var errV4L2Unsupported = errors.New("v4l2 capture is only available on linux")

type unsupportedV4L2Source struct{}

// NewV4L2Source returns a source that always fails to open
func NewV4L2Source(cfg SourceConfig, log *logger.Logger) FrameSource {
	return unsupportedV4L2Source{}
}

func (unsupportedV4L2Source) Open(ctx context.Context) error { return errV4L2Unsupported }

func (unsupportedV4L2Source) ReadFrame(ctx context.Context) (*Frame, error) {
	return nil, ErrSourceClosed
}

func (unsupportedV4L2Source) Close() error { return nil }
