package pipeline

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

// PublishedFrame is an annotated frame handed from the capture loop to
// viewers. It is immutable once published; the JPEG encoding is computed
// on first request and shared by every reader.
type PublishedFrame struct {
	Image      image.Image
	Generation uint64
	CapturedAt time.Time
	Detections int

	quality int
	once    sync.Once
	jpeg    []byte
	err     error
}

// JPEG returns the encoded frame, encoding it at most once
func (f *PublishedFrame) JPEG() ([]byte, error) {
	f.once.Do(func() {
		f.jpeg, f.err = video.EncodeJPEG(f.Image, f.quality)
	})
	return f.jpeg, f.err
}

// snapshot is one immutable slot value. changed is closed when the
// snapshot is replaced.
type snapshot struct {
	frame      *PublishedFrame
	generation uint64
	changed    chan struct{}
}

// Slot holds the latest published frame. Reads are lock-free and never
// block the producer; a reader always sees a whole snapshot.
type Slot struct {
	mu      sync.Mutex // serializes writers
	cur     atomic.Pointer[snapshot]
	quality int
}

// NewSlot creates an empty slot; published frames encode at jpegQuality
func NewSlot(jpegQuality int) *Slot {
	s := &Slot{quality: jpegQuality}
	s.cur.Store(&snapshot{changed: make(chan struct{})})
	return s
}

// Publish replaces the current frame and advances the generation
func (s *Slot) Publish(img image.Image, capturedAt time.Time, detections int) *PublishedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	frame := &PublishedFrame{
		Image:      img,
		Generation: old.generation + 1,
		CapturedAt: capturedAt,
		Detections: detections,
		quality:    s.quality,
	}
	s.cur.Store(&snapshot{
		frame:      frame,
		generation: frame.Generation,
		changed:    make(chan struct{}),
	})
	close(old.changed)
	return frame
}

// Clear drops the current frame. The generation is kept so it never
// goes backwards.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	s.cur.Store(&snapshot{
		generation: old.generation,
		changed:    make(chan struct{}),
	})
	close(old.changed)
}

// Read returns the current frame (nil when absent) and generation
func (s *Slot) Read() (*PublishedFrame, uint64) {
	snap := s.cur.Load()
	return snap.frame, snap.generation
}

// Changed returns a channel closed on the next Publish or Clear
func (s *Slot) Changed() <-chan struct{} {
	return s.cur.Load().changed
}

// latest returns the frame together with the channel that signals its
// replacement, from the same snapshot.
func (s *Slot) latest() (*PublishedFrame, <-chan struct{}) {
	snap := s.cur.Load()
	return snap.frame, snap.changed
}
