package video

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJPEG(t *testing.T) {
	data := testJPEG(t, 64, 48)
	assert.True(t, isCompleteJPEG(data))

	img, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	r, _, b, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r, b, "left half should stay red")
}

func TestDecodeImage_Invalid(t *testing.T) {
	_, err := DecodeImage(nil)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = DecodeImage([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestEncodeJPEG_NilImage(t *testing.T) {
	_, err := EncodeJPEG(nil, 80)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestEncodeJPEG_QualityFallsBack(t *testing.T) {
	data, err := EncodeJPEG(testImage(8, 8), 500)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestResize(t *testing.T) {
	src := testImage(1280, 960)

	out := Resize(src, 640, 480)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 480, out.Bounds().Dy())

	keep := Resize(src, 320, 0)
	assert.Equal(t, 320, keep.Bounds().Dx())
	assert.Equal(t, 240, keep.Bounds().Dy())

	same := testImage(640, 480)
	assert.Same(t, same, Resize(same, 640, 480).(*image.RGBA))
	assert.Same(t, same, Resize(same, 0, 0).(*image.RGBA))
}

func TestFrameDecode(t *testing.T) {
	f := &Frame{Data: testJPEG(t, 32, 16)}
	img, err := f.Decode()
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width)
	assert.Equal(t, 16, f.Height)

	again, err := f.Decode()
	require.NoError(t, err)
	assert.Equal(t, img, again)
}
