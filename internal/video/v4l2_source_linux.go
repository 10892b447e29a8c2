//go:build linux

package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/blackjack/webcam"
	"go.uber.org/multierr"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

func fourcc(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

var (
	pixelFormatMJPEG = fourcc("MJPG")
	pixelFormatYUYV  = fourcc("YUYV")
)

// V4L2Source captures straight from a V4L2 device with mmap buffers.
// MJPEG is preferred; YUYV is converted to YCbCr in process.
type V4L2Source struct {
	cfg    SourceConfig
	logger *logger.Logger

	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int
}

// NewV4L2Source creates a source; the device is opened by Open
func NewV4L2Source(cfg SourceConfig, log *logger.Logger) FrameSource {
	return &V4L2Source{cfg: cfg, logger: log}
}

// Open opens the device, negotiates a format and starts streaming
func (s *V4L2Source) Open(ctx context.Context) error {
	if s.cam != nil {
		return errors.New("v4l2 source already open")
	}

	cam, err := webcam.Open(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Device, err)
	}

	format, err := pickFormat(cam.GetSupportedFormats())
	if err != nil {
		return multierr.Append(fmt.Errorf("%s: %w", s.cfg.Device, err), cam.Close())
	}

	gotFormat, w, h, err := cam.SetImageFormat(format, uint32(s.cfg.Width), uint32(s.cfg.Height))
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to set image format on %s: %w", s.cfg.Device, err), cam.Close())
	}

	if err := cam.SetBufferCount(2); err != nil {
		s.logger.Warn("Failed to set v4l2 buffer count", "device", s.cfg.Device, "error", err)
	}
	if err := cam.StartStreaming(); err != nil {
		return multierr.Append(fmt.Errorf("failed to start streaming on %s: %w", s.cfg.Device, err), cam.Close())
	}

	s.cam = cam
	s.format = gotFormat
	s.width, s.height = int(w), int(h)

	s.logger.Info("V4L2 capture started",
		"device", s.cfg.Device,
		"format", formatName(gotFormat),
		"width", s.width,
		"height", s.height,
	)
	return nil
}

// pickFormat prefers MJPEG, then YUYV
func pickFormat(supported map[webcam.PixelFormat]string) (webcam.PixelFormat, error) {
	if _, ok := supported[pixelFormatMJPEG]; ok {
		return pixelFormatMJPEG, nil
	}
	if _, ok := supported[pixelFormatYUYV]; ok {
		return pixelFormatYUYV, nil
	}

	names := make([]string, 0, len(supported))
	for _, name := range supported {
		names = append(names, name)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("no supported pixel format (device offers %v)", names)
}

func formatName(f webcam.PixelFormat) string {
	switch f {
	case pixelFormatMJPEG:
		return "MJPG"
	case pixelFormatYUYV:
		return "YUYV"
	default:
		return fmt.Sprintf("0x%08x", uint32(f))
	}
}

// ReadFrame waits for the next buffer and copies it out
func (s *V4L2Source) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.cam == nil {
		return nil, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := uint32(s.cfg.ReadTimeout / time.Second)
	if timeout == 0 {
		timeout = 1
	}

	err := s.cam.WaitForFrame(timeout)
	var timeoutErr *webcam.Timeout
	switch {
	case errors.As(err, &timeoutErr):
		return nil, fmt.Errorf("%w: %s timed out", ErrDeviceBusy, s.cfg.Device)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrSourceClosed, err)
	}

	buf, index, err := s.cam.GetFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceClosed, err)
	}
	if len(buf) == 0 {
		_ = s.cam.ReleaseFrame(index)
		return nil, fmt.Errorf("%w: empty buffer from %s", ErrDeviceBusy, s.cfg.Device)
	}

	// the mmap buffer is reused by the driver once released
	data := make([]byte, len(buf))
	copy(data, buf)
	if err := s.cam.ReleaseFrame(index); err != nil {
		return nil, fmt.Errorf("%w: release frame: %v", ErrSourceClosed, err)
	}

	frame := &Frame{
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		DeviceID:  s.cfg.Device,
	}
	if s.format == pixelFormatYUYV {
		img, err := yuyvToYCbCr(data, s.width, s.height)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceBusy, err)
		}
		frame.Image = img
	} else {
		frame.Data = data
	}
	return frame, nil
}

// Close stops streaming and releases the device
func (s *V4L2Source) Close() error {
	if s.cam == nil {
		return nil
	}
	err := multierr.Combine(s.cam.StopStreaming(), s.cam.Close())
	s.cam = nil
	s.logger.Info("V4L2 capture stopped", "device", s.cfg.Device)
	return err
}

// yuyvToYCbCr repacks a YUYV 4:2:2 buffer into an image.YCbCr
func yuyvToYCbCr(data []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*2 {
		return nil, fmt.Errorf("short yuyv buffer: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*width*2 : (y+1)*width*2]
		for x := 0; x+1 < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}
