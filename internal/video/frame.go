package video

import (
	"image"
	"time"
)

// Frame represents a single raw frame read from a source. Sources fill
// either Data (a JPEG, for MJPEG-producing devices) or Image (already
// decoded pixels, for raw formats such as YUYV).
type Frame struct {
	Data      []byte      // JPEG-encoded frame data
	Image     image.Image // decoded pixels, nil until decoded
	Timestamp time.Time   // capture time
	Width     int
	Height    int
	DeviceID  string // device path or URL the frame came from
}

// Decode returns the frame pixels, decoding Data on first use.
func (f *Frame) Decode() (image.Image, error) {
	if f.Image != nil {
		return f.Image, nil
	}
	img, err := DecodeImage(f.Data)
	if err != nil {
		return nil, err
	}
	f.Image = img
	b := img.Bounds()
	f.Width, f.Height = b.Dx(), b.Dy()
	return img, nil
}
