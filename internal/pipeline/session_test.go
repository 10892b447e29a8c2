package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// slotFeed exposes a slot with a switchable active flag
type slotFeed struct {
	slot   *Slot
	active atomic.Bool
}

func newSlotFeed() *slotFeed {
	f := &slotFeed{slot: NewSlot(80)}
	f.active.Store(true)
	return f
}

func (f *slotFeed) Active() bool { return f.active.Load() }

func (f *slotFeed) Latest() (*PublishedFrame, <-chan struct{}) { return f.slot.latest() }

// recorder collects the frames a session writes
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) WriteFrame(jpeg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, jpeg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestSession_EmitsEachGenerationOnce(t *testing.T) {
	feed := newSlotFeed()
	session := NewSession(feed, SessionConfig{PollInterval: 5 * time.Millisecond}, logger.NewNopLogger())
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, rec) }()

	for i := 0; i < 5; i++ {
		feed.slot.Publish(solidImage(8, 8, color.RGBA{R: uint8(40 * i), A: 255}), time.Now(), 0)
		time.Sleep(20 * time.Millisecond)
	}
	// no new publish: nothing more should be written
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.frames)
	assert.LessOrEqual(t, len(rec.frames), 5)
	for i := 1; i < len(rec.frames); i++ {
		assert.False(t, bytes.Equal(rec.frames[i-1], rec.frames[i]), "frame re-emitted")
	}
	assert.Equal(t, uint64(len(rec.frames)), session.Sent())
}

func TestSession_EndsWhenPipelineStops(t *testing.T) {
	feed := newSlotFeed()
	session := NewSession(feed, SessionConfig{PollInterval: 5 * time.Millisecond}, logger.NewNopLogger())
	rec := &recorder{}

	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background(), rec) }()

	feed.slot.Publish(solidImage(8, 8, color.White), time.Now(), 0)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 2*time.Millisecond)

	feed.active.Store(false)
	feed.slot.Clear()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not end after stop")
	}
}

func TestSession_WriteErrorEndsSession(t *testing.T) {
	feed := newSlotFeed()
	feed.slot.Publish(solidImage(8, 8, color.White), time.Now(), 0)

	gone := errors.New("broken pipe")
	session := NewSession(feed, SessionConfig{}, logger.NewNopLogger())
	err := session.Run(context.Background(), FrameWriterFunc(func([]byte) error { return gone }))
	assert.ErrorIs(t, err, gone)
	assert.Zero(t, session.Sent())
}

func TestSession_WaitsForFirstFrame(t *testing.T) {
	feed := newSlotFeed()
	session := NewSession(feed, SessionConfig{PollInterval: time.Second}, logger.NewNopLogger())
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx, rec) }()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())

	// changed wakes the session well before the poll interval
	feed.slot.Publish(solidImage(8, 8, color.White), time.Now(), 0)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 500*time.Millisecond, 2*time.Millisecond)
}

func TestSession_RateCap(t *testing.T) {
	feed := newSlotFeed()
	img := solidImage(8, 8, color.White)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			feed.slot.Publish(img, time.Now(), 0)
			time.Sleep(time.Millisecond)
		}
	}()

	session := NewSession(feed, SessionConfig{PollInterval: time.Millisecond, MaxFPS: 20}, logger.NewNopLogger())
	rec := &recorder{}

	runCtx, stop := context.WithTimeout(ctx, 250*time.Millisecond)
	defer stop()
	require.NoError(t, session.Run(runCtx, rec))

	// one burst token plus 20/s over 250ms
	assert.LessOrEqual(t, rec.count(), 7)
	assert.GreaterOrEqual(t, rec.count(), 2)
}

func TestSession_IDsAreUnique(t *testing.T) {
	feed := newSlotFeed()
	a := NewSession(feed, SessionConfig{}, nil)
	b := NewSession(feed, SessionConfig{}, nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
