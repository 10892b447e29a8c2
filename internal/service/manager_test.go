package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

type mockService struct {
	name       string
	startError error
	stopError  error
	stopDelay  time.Duration
	onStop     func(name string)

	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	if m.onStop != nil {
		m.onStop(m.name)
	}
	if m.stopError != nil {
		return m.stopError
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

type mockServiceWithEvents struct {
	mockService
	eventBus *EventBus
}

func (m *mockServiceWithEvents) SetEventBus(bus *EventBus) { m.eventBus = bus }

func TestManager_Register(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	require.NotNil(t, mgr.GetEventBus())

	mgr.Register(&mockService{name: "webcam"})
	withEvents := &mockServiceWithEvents{mockService: mockService{name: "web"}}
	mgr.Register(withEvents)

	assert.Equal(t, 2, mgr.GetServiceCount())
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("webcam").GetStatus())
	assert.Same(t, mgr.GetEventBus(), withEvents.eventBus)
	assert.Len(t, mgr.GetAllStatuses(), 2)
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var mu sync.Mutex
	var stopOrder []string
	record := func(name string) {
		mu.Lock()
		stopOrder = append(stopOrder, name)
		mu.Unlock()
	}

	svcs := []*mockService{
		{name: "detector", onStop: record},
		{name: "webcam", onStop: record},
		{name: "web", onStop: record},
	}
	for _, s := range svcs {
		mgr.Register(s)
	}

	events := mgr.GetEventBus().Subscribe(EventTypeServiceStarted)

	require.NoError(t, mgr.Start(context.Background()))
	for _, s := range svcs {
		assert.True(t, s.started)
		assert.True(t, mgr.GetServiceStatus(s.name).IsRunning())
	}
	assert.Equal(t, "detector", (<-events).Data["service"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.Equal(t, []string{"web", "webcam", "detector"}, stopOrder)
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("webcam").GetStatus())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "detector"}
	broken := &mockService{name: "webcam", startError: errors.New("no device")}
	never := &mockService{name: "web"}
	mgr.Register(first)
	mgr.Register(broken)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")

	assert.True(t, first.stopped, "already started services are stopped")
	assert.False(t, never.started)
	assert.Equal(t, StatusError, mgr.GetServiceStatus("webcam").GetStatus())
}

func TestManager_ShutdownStopError(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "webcam", stopError: errors.New("stuck")})

	require.NoError(t, mgr.Start(context.Background()))

	err := mgr.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, mgr.GetServiceStatus("webcam").GetStatus())
}

func TestManager_ShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "slow", stopDelay: 500 * time.Millisecond})

	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := mgr.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
