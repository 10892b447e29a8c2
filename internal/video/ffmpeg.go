package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// ErrFFmpegNotFound is returned when no ffmpeg executable can be located
var ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH or common locations")

// FFmpegWrapper locates the ffmpeg binary and builds commands for it.
// Argument lists are composed with ffmpeg-go; execution stays on
// exec.CommandContext so callers own stdout and cancellation.
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
	version    string
	mu         sync.RWMutex
}

// NewFFmpegWrapper creates a new FFmpeg wrapper
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{logger: log}

	ffmpegPath, err := detectFFmpeg()
	if err != nil {
		return nil, err
	}
	wrapper.ffmpegPath = ffmpegPath

	version, err := wrapper.GetVersion()
	if err != nil {
		log.Warn("Failed to read ffmpeg version", "error", err)
	}
	wrapper.version = version

	log.Info("FFmpeg wrapper initialized", "path", ffmpegPath, "version", version)
	return wrapper, nil
}

// detectFFmpeg finds the FFmpeg executable
func detectFFmpeg() (string, error) {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}

	for _, path := range []string{"/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"} {
		if err := exec.Command(path, "-version").Run(); err == nil {
			return path, nil
		}
	}

	return "", ErrFFmpegNotFound
}

// Path returns the resolved ffmpeg executable
func (f *FFmpegWrapper) Path() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ffmpegPath
}

// BuildCommand builds an FFmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.Path(), args...)
}

// CommandFor turns an ffmpeg-go stream graph into a command bound to ctx
func (f *FFmpegWrapper) CommandFor(ctx context.Context, stream *ffmpeg.Stream) *exec.Cmd {
	return f.BuildCommand(ctx, stream.GetArgs())
}

// GetVersion returns the first line of `ffmpeg -version`
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.Path(), "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// Version returns the version string captured at startup
func (f *FFmpegWrapper) Version() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// ExtractFirstFrame decodes the first video frame of input (a file path,
// device or URL) and returns it as a JPEG.
func (f *FFmpegWrapper) ExtractFirstFrame(ctx context.Context, input string, quality int) ([]byte, error) {
	stream := ffmpeg.Input(input).
		Output("pipe:", ffmpeg.KwArgs{
			"frames:v": 1,
			"f":        "image2pipe",
			"vcodec":   "mjpeg",
			"q:v":      jpegQualityToQScale(quality),
			"loglevel": "error",
		})

	var stdout, stderr bytes.Buffer
	cmd := f.CommandFor(ctx, stream)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	frameData := stdout.Bytes()
	if !isCompleteJPEG(frameData) {
		return nil, fmt.Errorf("%w: ffmpeg produced no frame for %s", ErrInvalidImage, input)
	}
	return frameData, nil
}

// jpegQualityToQScale maps a 1..100 JPEG quality to ffmpeg's 2..31 mjpeg
// qscale, where lower is better.
func jpegQualityToQScale(quality int) int {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	q := 31 - (quality*29)/100
	if q < 2 {
		q = 2
	}
	return q
}
