package video

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	assert.NotEmpty(t, ffmpeg.Path())
	assert.True(t, strings.HasPrefix(strings.ToLower(ffmpeg.Version()), "ffmpeg"))
}

func TestBuildStream_V4L2Device(t *testing.T) {
	args := buildStream(SourceConfig{
		Device:      "/dev/video0",
		Width:       640,
		Height:      480,
		InputFormat: "mjpeg",
		FPS:         10,
	}).GetArgs()
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f v4l2")
	assert.Contains(t, joined, "-video_size 640x480")
	assert.Contains(t, joined, "-input_format mjpeg")
	assert.Contains(t, joined, "-i /dev/video0")
	assert.Contains(t, joined, "-f image2pipe")
	assert.Contains(t, joined, "-vcodec mjpeg")
	assert.Equal(t, "pipe:", args[len(args)-1])
}

func TestBuildStream_RTSP(t *testing.T) {
	joined := strings.Join(buildStream(SourceConfig{Device: "rtsp://cam.local/stream"}).GetArgs(), " ")

	assert.Contains(t, joined, "-rtsp_transport tcp")
	assert.NotContains(t, joined, "v4l2")
}

func TestJPEGQualityToQScale(t *testing.T) {
	assert.Equal(t, 2, jpegQualityToQScale(100))
	assert.Equal(t, 31, jpegQualityToQScale(1))
	assert.Equal(t, jpegQualityToQScale(DefaultJPEGQuality), jpegQualityToQScale(0))
}

func TestExtractFirstFrame(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	path := filepath.Join(t.TempDir(), "still.jpg")
	require.NoError(t, os.WriteFile(path, testJPEG(t, 64, 48), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := ffmpeg.ExtractFirstFrame(ctx, path, 85)
	require.NoError(t, err)

	img, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestExtractFirstFrame_MissingFile(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	_, err := ffmpeg.ExtractFirstFrame(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), 85)
	assert.Error(t, err)
}

func TestFFmpegSource_ReadsFramesFromFile(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	path := filepath.Join(t.TempDir(), "still.jpg")
	require.NoError(t, os.WriteFile(path, testJPEG(t, 64, 48), 0644))

	src := NewFFmpegSource(ffmpeg, SourceConfig{Device: path, ReadTimeout: 5 * time.Second}, logger.NewNopLogger())
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	frame, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.True(t, isCompleteJPEG(frame.Data))
	assert.Equal(t, path, frame.DeviceID)

	// a single still ends the stream
	_, err = src.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)

	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestSourceFactory(t *testing.T) {
	factory := NewSourceFactory(nil, logger.NewNopLogger())

	_, err := factory(SourceConfig{Driver: "gstreamer"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = factory(SourceConfig{Driver: "ffmpeg"})
	assert.ErrorIs(t, err, ErrFFmpegNotFound)

	src, err := factory(SourceConfig{Driver: "v4l2", Device: "/dev/video-missing"})
	require.NoError(t, err)
	assert.Error(t, src.Open(context.Background()))
}
