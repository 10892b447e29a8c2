package pipeline

import (
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

func TestSlot_PublishAndRead(t *testing.T) {
	slot := NewSlot(80)

	frame, gen := slot.Read()
	assert.Nil(t, frame)
	assert.Equal(t, uint64(0), gen)

	img := solidImage(8, 8, color.White)
	published := slot.Publish(img, time.Now(), 3)
	assert.Equal(t, uint64(1), published.Generation)

	frame, gen = slot.Read()
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, 3, frame.Detections)
	assert.Same(t, published, frame)

	slot.Publish(img, time.Now(), 0)
	_, gen = slot.Read()
	assert.Equal(t, uint64(2), gen)
}

func TestSlot_ClearKeepsGeneration(t *testing.T) {
	slot := NewSlot(80)
	img := solidImage(8, 8, color.White)
	slot.Publish(img, time.Now(), 0)
	slot.Publish(img, time.Now(), 0)

	slot.Clear()
	frame, gen := slot.Read()
	assert.Nil(t, frame)
	assert.Equal(t, uint64(2), gen)

	next := slot.Publish(img, time.Now(), 0)
	assert.Equal(t, uint64(3), next.Generation)
}

func TestSlot_ChangedClosesOnPublishAndClear(t *testing.T) {
	slot := NewSlot(80)

	changed := slot.Changed()
	select {
	case <-changed:
		t.Fatal("changed closed before publish")
	default:
	}

	slot.Publish(solidImage(4, 4, color.Black), time.Now(), 0)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed not closed after publish")
	}

	changed = slot.Changed()
	slot.Clear()
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed not closed after clear")
	}
}

func TestSlot_JPEGEncodedOnce(t *testing.T) {
	slot := NewSlot(80)
	frame := slot.Publish(solidImage(16, 16, color.RGBA{G: 200, A: 255}), time.Now(), 0)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := frame.JPEG()
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}
	wg.Wait()

	for _, data := range results[1:] {
		require.NotEmpty(t, data)
		assert.Same(t, &results[0][0], &data[0])
	}

	img, err := video.DecodeImage(results[0])
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestSlot_ConcurrentReadersSeeNonDecreasingGenerations(t *testing.T) {
	slot := NewSlot(80)
	img := solidImage(4, 4, color.White)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-done:
					return
				default:
				}
				frame, gen := slot.Read()
				if gen < last {
					t.Errorf("generation went backwards: %d after %d", gen, last)
					return
				}
				if frame != nil && frame.Generation != gen {
					t.Errorf("torn read: frame %d, slot %d", frame.Generation, gen)
					return
				}
				last = gen
			}
		}()
	}

	for i := 0; i < 500; i++ {
		slot.Publish(img, time.Now(), 0)
		if i%100 == 0 {
			slot.Clear()
		}
	}
	close(done)
	wg.Wait()
}
