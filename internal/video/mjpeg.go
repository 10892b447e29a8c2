package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxMJPEGFrameSize bounds a single frame so a corrupt stream without an
// end marker cannot grow the buffer forever.
const maxMJPEGFrameSize = 16 << 20

// ErrFrameTooLarge is returned when no end-of-image marker is found within
// maxMJPEGFrameSize bytes.
var ErrFrameTooLarge = errors.New("mjpeg frame exceeds size limit")

// MJPEGReader splits a concatenated stream of JPEG images (ffmpeg
// image2pipe output, raw MJPEG) into individual frames.
type MJPEGReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewMJPEGReader creates a reader over r
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{r: bufio.NewReaderSize(r, 64<<10), maxSize: maxMJPEGFrameSize}
}

// Next returns the next complete JPEG, from SOI to EOI inclusive. Bytes
// before the first SOI are discarded. io.EOF is returned once the stream
// ends between frames; a stream cut mid-frame yields io.ErrUnexpectedEOF.
func (m *MJPEGReader) Next() ([]byte, error) {
	if err := m.seekSOI(); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 64<<10)
	frame = append(frame, jpegSOI...)

	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b
		if len(frame) > m.maxSize {
			return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, m.maxSize)
		}
	}
}

// seekSOI consumes input up to and including the next start-of-image marker
func (m *MJPEGReader) seekSOI() error {
	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == jpegSOI[0] && b == jpegSOI[1] {
			return nil
		}
		prev = b
	}
}

// isCompleteJPEG reports whether data starts with SOI and ends with EOI
func isCompleteJPEG(data []byte) bool {
	return len(data) >= 4 && bytes.HasPrefix(data, jpegSOI) && bytes.HasSuffix(data, jpegEOI)
}
