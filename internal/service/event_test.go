package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not received within timeout")
	}
	return Event{}
}

func TestNewEventBus_DefaultBuffer(t *testing.T) {
	bus := NewEventBus(0)
	assert.Equal(t, 100, bus.bufferSize)
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeCaptureStarted)

	bus.Publish(Event{Type: EventTypeCaptureStopped, Source: "webcam"})
	bus.Publish(Event{
		Type:   EventTypeCaptureStarted,
		Source: "webcam",
		Data:   map[string]interface{}{"confidence": 0.5},
	})

	ev := receive(t, ch)
	assert.Equal(t, EventTypeCaptureStarted, ev.Type)
	assert.Equal(t, "webcam", ev.Source)
	assert.Equal(t, 0.5, ev.Data["confidence"])
	assert.False(t, ev.Timestamp.IsZero(), "timestamp should be filled in")
}

func TestEventBus_SubscribeAll_SeesLaterTypes(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeStreamOpened, Source: "stream"})
	bus.Publish(Event{Type: EventTypeDetection, Source: "detection"})

	assert.Equal(t, EventTypeStreamOpened, receive(t, ch).Type)
	assert.Equal(t, EventTypeDetection, receive(t, ch).Type)
}

func TestEventBus_PublishKeepsTimestamp(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeCaptureError)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(Event{Type: EventTypeCaptureError, Timestamp: ts})

	assert.Equal(t, ts, receive(t, ch).Timestamp)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	specific := bus.Subscribe(EventTypeCaptureStarted)
	all := bus.SubscribeAll()

	bus.Unsubscribe(specific)
	bus.Unsubscribe(all)

	_, ok := <-specific
	assert.False(t, ok, "specific channel should be closed")
	_, ok = <-all
	assert.False(t, ok, "catch-all channel should be closed")

	// publishing after unsubscribe must not panic
	bus.Publish(Event{Type: EventTypeCaptureStarted})
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeCaptureStarted)

	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(Event{Type: EventTypeCaptureStarted})

	late := bus.Subscribe(EventTypeCaptureStarted)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus returns a closed channel")
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled, failed atomic.Int32
	bus.SubscribeWithHandler(ctx, EventTypeDetection, func(ctx context.Context, event Event) error {
		handled.Add(1)
		if event.Source == "bad" {
			return errors.New("handler failed")
		}
		return nil
	}, func(err error) {
		failed.Add(1)
	})

	bus.Publish(Event{Type: EventTypeDetection, Source: "good"})
	bus.Publish(Event{Type: EventTypeDetection, Source: "bad"})

	assert.Eventually(t, func() bool {
		return handled.Load() == 2 && failed.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(1)
	_ = bus.Subscribe(EventTypeCaptureError)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeCaptureError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
