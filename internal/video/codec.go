package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// DefaultJPEGQuality is used when callers pass a quality outside 1..100
const DefaultJPEGQuality = 85

var (
	// ErrInvalidImage is returned when bytes cannot be decoded as an image
	ErrInvalidImage = errors.New("invalid image data")
	// ErrEncoding is returned when an image cannot be encoded
	ErrEncoding = errors.New("image encoding failed")
)

// DecodeImage decodes JPEG, PNG, GIF, BMP or TIFF bytes. EXIF orientation
// is applied so phone uploads come out upright.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// EncodeJPEG encodes img as a JPEG
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrEncoding)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Resize scales img to exactly width x height. A zero dimension keeps the
// aspect ratio; an image already at the target size is returned as is.
func Resize(img image.Image, width, height int) image.Image {
	if width <= 0 && height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(max(width, 0)), uint(max(height, 0)), img, resize.Bilinear)
}
