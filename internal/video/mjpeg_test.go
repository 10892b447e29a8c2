package video

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMJPEGReader_SplitsConcatenatedFrames(t *testing.T) {
	a := testJPEG(t, 16, 16)
	b := testJPEG(t, 32, 8)

	var stream bytes.Buffer
	stream.WriteString("garbage before the first frame")
	stream.Write(a)
	stream.Write(b)

	r := NewMJPEGReader(&stream)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGReader_TruncatedFrame(t *testing.T) {
	a := testJPEG(t, 16, 16)
	r := NewMJPEGReader(bytes.NewReader(a[:len(a)/2]))

	_, err := r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMJPEGReader_FrameTooLarge(t *testing.T) {
	data := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x11}, 128)...)
	r := NewMJPEGReader(bytes.NewReader(data))
	r.maxSize = 64

	_, err := r.Next()
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestIsCompleteJPEG(t *testing.T) {
	assert.True(t, isCompleteJPEG([]byte{0xFF, 0xD8, 0xFF, 0xD9}))
	assert.False(t, isCompleteJPEG([]byte{0xFF, 0xD8}))
	assert.False(t, isCompleteJPEG(nil))
}
