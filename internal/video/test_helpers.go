package video

import (
	"image"
	"image/color"
	"testing"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	t.Helper()
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// testImage returns a w x h image split into a red left half and a blue
// right half.
func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 220, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 220, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := EncodeJPEG(testImage(w, h), 90)
	if err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return data
}
