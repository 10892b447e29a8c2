package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// Feed is the read side of the pipeline seen by viewers
type Feed interface {
	// Active reports whether the capture loop is running
	Active() bool
	// Latest returns the current frame (nil when absent) and a channel
	// closed when it is replaced
	Latest() (*PublishedFrame, <-chan struct{})
}

// FrameWriter delivers one encoded frame to a viewer
type FrameWriter interface {
	WriteFrame(jpeg []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter
type FrameWriterFunc func(jpeg []byte) error

// WriteFrame calls f
func (f FrameWriterFunc) WriteFrame(jpeg []byte) error {
	return f(jpeg)
}

// SessionConfig contains configuration for viewer sessions
type SessionConfig struct {
	PollInterval time.Duration
	MaxFPS       float64 // 0 disables the cap
}

func (c *SessionConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.MaxFPS < 0 {
		c.MaxFPS = 0
	}
}

// Session streams new frames to one viewer until the viewer leaves or
// the pipeline stops. It only reads the feed and never blocks capture.
type Session struct {
	ID      string
	feed    Feed
	cfg     SessionConfig
	limiter *rate.Limiter
	logger  *logger.Logger

	sent    atomic.Uint64
	onOpen  func(id string)
	onClose func(id string, sent uint64)
}

// NewSession creates a session on feed
func NewSession(feed Feed, cfg SessionConfig, log *logger.Logger) *Session {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}
	limit := rate.Inf
	if cfg.MaxFPS > 0 {
		limit = rate.Limit(cfg.MaxFPS)
	}
	id := uuid.NewString()
	return &Session{
		ID:      id,
		feed:    feed,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  log.WithFields("session_id", id),
	}
}

// Sent returns how many frames were written
func (s *Session) Sent() uint64 {
	return s.sent.Load()
}

// Run writes frames to w. It returns nil when ctx ends or the pipeline
// stops, and the write error when the viewer went away.
func (s *Session) Run(ctx context.Context, w FrameWriter) error {
	s.logger.Info("Stream session opened")
	if s.onOpen != nil {
		s.onOpen(s.ID)
	}
	defer func() {
		s.logger.Info("Stream session closed", "frames_sent", s.sent.Load())
		if s.onClose != nil {
			s.onClose(s.ID, s.sent.Load())
		}
	}()

	var lastGen uint64
	for {
		if ctx.Err() != nil || !s.feed.Active() {
			return nil
		}

		frame, changed := s.feed.Latest()
		if frame != nil && frame.Generation > lastGen {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			// pick up anything newer published while throttled
			if fresh, _ := s.feed.Latest(); fresh != nil && fresh.Generation > frame.Generation {
				frame = fresh
			}
			if !s.feed.Active() {
				return nil
			}

			data, err := frame.JPEG()
			if err != nil {
				s.logger.Warn("Skipping frame that failed to encode", "generation", frame.Generation, "error", err)
				lastGen = frame.Generation
				continue
			}
			if err := w.WriteFrame(data); err != nil {
				return fmt.Errorf("viewer write failed: %w", err)
			}
			lastGen = frame.Generation
			s.sent.Add(1)
			continue
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
