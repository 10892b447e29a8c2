package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// FFmpegSource reads a device through a long-running ffmpeg process that
// writes MJPEG to stdout. A pump goroutine keeps only the newest frame so
// a slow consumer never makes ffmpeg back up.
type FFmpegSource struct {
	ffmpeg *FFmpegWrapper
	cfg    SourceConfig
	logger *logger.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *syncBuffer
	cancel context.CancelFunc

	latest chan []byte
	done   chan struct{}
	errMu  sync.Mutex
	err    error

	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegSource creates a source; nothing is started until Open
func NewFFmpegSource(ff *FFmpegWrapper, cfg SourceConfig, log *logger.Logger) *FFmpegSource {
	return &FFmpegSource{
		ffmpeg: ff,
		cfg:    cfg,
		logger: log,
	}
}

// buildStream composes the ffmpeg input/output graph for cfg
func buildStream(cfg SourceConfig) *ffmpeg.Stream {
	in := ffmpeg.KwArgs{"loglevel": "error"}
	if strings.HasPrefix(cfg.Device, "/dev/video") {
		in["f"] = "v4l2"
		if cfg.Width > 0 && cfg.Height > 0 {
			in["video_size"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
		}
		if cfg.InputFormat != "" {
			in["input_format"] = cfg.InputFormat
		}
	} else if strings.HasPrefix(cfg.Device, "rtsp://") {
		in["rtsp_transport"] = "tcp"
	}

	out := ffmpeg.KwArgs{
		"f":      "image2pipe",
		"vcodec": "mjpeg",
		"q:v":    5,
	}
	if cfg.FPS > 0 {
		out["r"] = cfg.FPS
	}

	return ffmpeg.Input(cfg.Device, in).Output("pipe:", out)
}

// Open starts ffmpeg and the frame pump
func (s *FFmpegSource) Open(ctx context.Context) error {
	if s.cmd != nil {
		return errors.New("ffmpeg source already open")
	}

	// the process outlives Open's ctx; Close cancels it
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := s.ffmpeg.CommandFor(procCtx, buildStream(s.cfg))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to attach ffmpeg stdout: %w", err)
	}
	s.stderr = &syncBuffer{}
	cmd.Stderr = s.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg for %s: %w", s.cfg.Device, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.cancel = cancel
	s.latest = make(chan []byte, 1)
	s.done = make(chan struct{})

	go s.pump()

	s.logger.Info("FFmpeg capture started",
		"device", s.cfg.Device,
		"args", strings.Join(cmd.Args[1:], " "),
	)
	return nil
}

// pump splits stdout into frames and keeps the newest one
func (s *FFmpegSource) pump() {
	defer close(s.done)

	reader := NewMJPEGReader(s.stdout)
	for {
		data, err := reader.Next()
		if err != nil {
			s.setErr(err)
			return
		}

		select {
		case s.latest <- data:
		default:
			// replace the stale frame
			select {
			case <-s.latest:
			default:
			}
			s.latest <- data
		}
	}
}

func (s *FFmpegSource) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *FFmpegSource) pumpErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// ReadFrame waits for the next frame from ffmpeg
func (s *FFmpegSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.cmd == nil {
		return nil, ErrSourceClosed
	}

	timer := time.NewTimer(s.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case data := <-s.latest:
		return &Frame{Data: data, Timestamp: time.Now(), DeviceID: s.cfg.Device}, nil
	case <-s.done:
		// drain a frame that raced with the end of stream
		select {
		case data := <-s.latest:
			return &Frame{Data: data, Timestamp: time.Now(), DeviceID: s.cfg.Device}, nil
		default:
		}
		return nil, s.exitError()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame from %s within %s", ErrDeviceBusy, s.cfg.Device, s.cfg.ReadTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exitError describes why the ffmpeg stream ended
func (s *FFmpegSource) exitError() error {
	msg := strings.TrimSpace(s.stderr.String())
	err := s.pumpErr()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if msg != "" {
		return multierr.Append(fmt.Errorf("%w: ffmpeg: %s", ErrSourceClosed, msg), err)
	}
	return multierr.Append(ErrSourceClosed, err)
}

// Close stops ffmpeg and waits for the pump to exit
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd == nil {
			return
		}
		s.cancel()
		closeErr := s.stdout.Close()
		waitErr := s.cmd.Wait()
		<-s.done

		// a killed process reports "signal: killed"; that is the normal path
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			waitErr = nil
		}
		if errors.Is(closeErr, os.ErrClosed) {
			closeErr = nil
		}
		s.closeErr = multierr.Combine(closeErr, waitErr)
		s.logger.Info("FFmpeg capture stopped", "device", s.cfg.Device)
	})
	return s.closeErr
}

// syncBuffer collects ffmpeg stderr; exec copies into it from its own
// goroutine while ReadFrame may read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// keep the tail only
	if b.buf.Len() > 8<<10 {
		b.buf.Reset()
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
