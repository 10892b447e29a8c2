package ai

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 128, G: 128, B: 128, A: 255}}, image.Point{}, draw.Src)
	return img
}

func TestAnnotator_DrawsBoxWithoutTouchingInput(t *testing.T) {
	a, err := NewAnnotator(12)
	require.NoError(t, err)

	src := grayImage(200, 200)
	out := a.Annotate(src, []Detection{{
		Class:      "plastique",
		ClassID:    0,
		Confidence: 0.91,
		BBoxPixels: []float64{50, 60, 150, 160},
	}})

	require.Equal(t, src.Bounds(), out.Bounds())

	// left edge of the box takes the class colour
	want := ClassColor(0)
	r, g, b, _ := out.At(50, 110).RGBA()
	assert.InDelta(t, float64(want.R), float64(r>>8), 3)
	assert.InDelta(t, float64(want.G), float64(g>>8), 3)
	assert.InDelta(t, float64(want.B), float64(b>>8), 3)

	// the source stays untouched
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, src.RGBAAt(50, 110))

	// box interior is not filled
	r, _, _, _ = out.At(100, 110).RGBA()
	assert.Equal(t, uint32(128), r>>8)
}

func TestAnnotator_NoDetections(t *testing.T) {
	a, err := NewAnnotator(0)
	require.NoError(t, err)

	src := grayImage(10, 10)
	out := a.Annotate(src, nil)
	assert.Equal(t, src.Bounds(), out.Bounds())
}

func TestAnnotator_SkipsMalformedBoxes(t *testing.T) {
	a, err := NewAnnotator(12)
	require.NoError(t, err)

	out := a.Annotate(grayImage(20, 20), []Detection{{Class: "x", BBoxPixels: []float64{1, 2}}})
	r, _, _, _ := out.At(1, 2).RGBA()
	assert.Equal(t, uint32(128), r>>8)
}

func TestClassColorCycles(t *testing.T) {
	assert.Equal(t, ClassColor(0), ClassColor(len(palette)))
	assert.Equal(t, ClassColor(3), ClassColor(-3))
}
