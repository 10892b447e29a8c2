package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceStatus_Lifecycle(t *testing.T) {
	status := NewServiceStatus("webcam")
	assert.Equal(t, "webcam", status.Name)
	assert.Equal(t, StatusStopped, status.GetStatus())
	assert.False(t, status.IsRunning())
	assert.Zero(t, status.GetUptime())

	status.SetError(errors.New("device gone"))
	assert.Equal(t, StatusError, status.GetStatus())
	assert.EqualError(t, status.GetError(), "device gone")

	status.SetStatus(StatusRunning)
	assert.True(t, status.IsRunning())
	assert.NoError(t, status.GetError(), "running clears the error")
	assert.False(t, status.StartedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, status.GetUptime(), time.Duration(0))

	status.SetStatus(StatusStopped)
	assert.Zero(t, status.GetUptime())
}

func TestServiceStatus_ConcurrentAccess(t *testing.T) {
	status := NewServiceStatus("webcam")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			status.SetStatus(StatusRunning)
			status.SetStatus(StatusStopped)
		}()
		go func() {
			defer wg.Done()
			_ = status.GetStatus()
			_ = status.GetUptime()
		}()
	}
	wg.Wait()
}
