package ai

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// palette holds one box colour per class id, cycling
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
}

// ClassColor returns the box colour for a class id
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

func regularFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	return fontTTF, fontErr
}

// Annotator draws detection boxes and "class confidence" labels. It is
// safe for concurrent use; each call gets its own font face since faces
// cache glyphs without locking.
type Annotator struct {
	lineWidth float64
	font      *truetype.Font
	fontSize  float64
}

// NewAnnotator creates an annotator with labels of fontSize points
func NewAnnotator(fontSize float64) (*Annotator, error) {
	if fontSize <= 0 {
		fontSize = 14
	}
	f, err := regularFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}
	return &Annotator{
		lineWidth: 2,
		font:      f,
		fontSize:  fontSize,
	}, nil
}

// Annotate returns a copy of img with detections drawn on it. img is
// never modified.
func (a *Annotator) Annotate(img image.Image, detections []Detection) image.Image {
	dc := gg.NewContextForImage(img)
	if len(detections) == 0 {
		return dc.Image()
	}
	face := truetype.NewFace(a.font, &truetype.Options{Size: a.fontSize})
	defer face.Close()
	dc.SetFontFace(face)

	for _, d := range detections {
		if len(d.BBoxPixels) != 4 {
			continue
		}
		x1, y1, x2, y2 := d.BBoxPixels[0], d.BBoxPixels[1], d.BBoxPixels[2], d.BBoxPixels[3]
		c := ClassColor(d.ClassID)

		dc.SetColor(c)
		dc.SetLineWidth(a.lineWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		tw, th := dc.MeasureString(label)
		ty := y1 - th - 4
		if ty < 0 {
			// no room above the box, draw inside it
			ty = y1
		}
		dc.DrawRectangle(x1, ty, tw+6, th+4)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(label, x1+3, ty+th+1)
	}

	return dc.Image()
}
