package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// fakeSource yields decoded frames. After failAfter frames (when > 0)
// it returns failErr; the first busy reads return ErrDeviceBusy.
type fakeSource struct {
	mu        sync.Mutex
	reads     int
	busy      int
	failAfter int
	failErr   error
	openErr   error

	opened atomic.Int32
	closed atomic.Int32
}

func (s *fakeSource) Open(ctx context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened.Add(1)
	return nil
}

func (s *fakeSource) ReadFrame(ctx context.Context) (*video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy > 0 {
		s.busy--
		return nil, video.ErrDeviceBusy
	}
	if s.failAfter > 0 && s.reads >= s.failAfter {
		if s.failErr == nil {
			return nil, video.ErrSourceClosed
		}
		return nil, s.failErr
	}
	s.reads++
	return &video.Frame{
		Image:     solidImage(32, 24, color.RGBA{R: uint8(s.reads), A: 255}),
		Timestamp: time.Now(),
		DeviceID:  "fake",
	}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeDetector finds one object per frame unless confidence is above 0.8
type fakeDetector struct {
	notReady bool
	inferErr error
	calls    atomic.Int32
}

func (d *fakeDetector) Infer(ctx context.Context, img image.Image, confidence float64) ([]ai.Detection, error) {
	d.calls.Add(1)
	if d.inferErr != nil {
		return nil, d.inferErr
	}
	if confidence > 0.8 {
		return []ai.Detection{}, nil
	}
	return []ai.Detection{{
		Class:      "plastic",
		ClassID:    1,
		Confidence: 0.8,
		BBox:       []float64{0.5, 0.5, 0.2, 0.2},
		BBoxPixels: []float64{10, 10, 20, 20},
	}}, nil
}

func (d *fakeDetector) Annotate(img image.Image, detections []ai.Detection) image.Image {
	return img
}

func (d *fakeDetector) Info() (*ai.ModelInfo, error) {
	if d.notReady {
		return nil, ai.ErrModelUnavailable
	}
	return &ai.ModelInfo{ModelName: "fake", Classes: map[int]string{1: "plastic"}, InputSize: 640}, nil
}

func (d *fakeDetector) Ready() bool {
	return !d.notReady
}

// sourceFactory hands out src and counts calls
type sourceFactory struct {
	src   video.FrameSource
	err   error
	calls atomic.Int32
}

func (f *sourceFactory) New(cfg video.SourceConfig) (video.FrameSource, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

func testConfig() Config {
	return Config{
		Source:             video.SourceConfig{Driver: "fake", Device: "/dev/video9"},
		Width:              64,
		Height:             48,
		Period:             10 * time.Millisecond,
		MaxTransientErrors: 2,
		Stream: SessionConfig{
			PollInterval: 10 * time.Millisecond,
		},
	}
}

func setupTestController(t *testing.T, src video.FrameSource, det ai.Detector) (*Controller, *sourceFactory) {
	t.Helper()
	factory := &sourceFactory{src: src}
	ctrl := NewController(testConfig(), det, factory.New, logger.NewNopLogger())
	t.Cleanup(func() {
		ctrl.StopCapture()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Wait(ctx)
	})
	return ctrl, factory
}

func waitStopped(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx))
	require.Equal(t, StateStopped, ctrl.State())
}

var errUnplugged = errors.New("no such device")
