package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// runStats counts what one capture run did. Counters are written by the
// capture goroutine and read by status requests.
type runStats struct {
	startedAt       time.Time
	framesPublished atomic.Uint64
	transientErrors atomic.Uint64
	lastDetections  atomic.Int64

	mu        sync.Mutex
	lastErr   string
	stoppedAt time.Time
}

func newRunStats() *runStats {
	return &runStats{startedAt: time.Now()}
}

func (s *runStats) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppedAt = time.Now()
	if err != nil {
		s.lastErr = err.Error()
	}
}

// Stats is a point-in-time copy of a capture run's counters
type Stats struct {
	StartedAt          time.Time  `json:"started_at"`
	StoppedAt          *time.Time `json:"stopped_at,omitempty"`
	FramesPublished    uint64     `json:"frames_published"`
	TransientErrors    uint64     `json:"transient_errors"`
	LastDetectionCount int64      `json:"last_detection_count"`
	LastError          string     `json:"last_error,omitempty"`
}

func (s *runStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		StartedAt:          s.startedAt,
		FramesPublished:    s.framesPublished.Load(),
		TransientErrors:    s.transientErrors.Load(),
		LastDetectionCount: s.lastDetections.Load(),
		LastError:          s.lastErr,
	}
	if !s.stoppedAt.IsZero() {
		stopped := s.stoppedAt
		out.StoppedAt = &stopped
	}
	return out
}
