package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

// Config contains configuration for the capture pipeline
type Config struct {
	Source             video.SourceConfig
	Width              int           // working resolution
	Height             int
	Period             time.Duration // target time per capture iteration
	MaxTransientErrors int
	JPEGQuality        int
	DefaultConfidence  float64
	AutoStart          bool
	Stream             SessionConfig
}

func (c *Config) setDefaults() {
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 640, 480
	}
	if c.Period <= 0 {
		c.Period = 100 * time.Millisecond
	}
	if c.MaxTransientErrors < 0 {
		c.MaxTransientErrors = 0
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = video.DefaultJPEGQuality
	}
	if c.DefaultConfidence <= 0 {
		c.DefaultConfidence = 0.5
	}
	if c.Source.Width == 0 && c.Source.Height == 0 {
		c.Source.Width, c.Source.Height = c.Width, c.Height
	}
	c.Stream.setDefaults()
}

// Status describes the pipeline for the status endpoint
type Status struct {
	Active     bool    `json:"active"`
	Message    string  `json:"message"`
	State      State   `json:"state"`
	Confidence float64 `json:"confidence,omitempty"`
	Stats      *Stats  `json:"stats,omitempty"`
}

// Controller owns the pipeline state and the single capture loop. It
// also runs as a managed service so process shutdown drains the loop.
type Controller struct {
	*service.ServiceBase
	cfg       Config
	detector  ai.Detector
	newSource video.SourceFactory
	slot      *Slot

	mu        sync.RWMutex
	state     State
	run       *captureRun
	lastStats *runStats
}

// NewController creates a stopped controller
func NewController(cfg Config, detector ai.Detector, newSource video.SourceFactory, log *logger.Logger) *Controller {
	cfg.setDefaults()
	return &Controller{
		ServiceBase: service.NewServiceBase("webcam", log),
		cfg:         cfg,
		detector:    detector,
		newSource:   newSource,
		slot:        NewSlot(cfg.JPEGQuality),
		state:       StateStopped,
	}
}

// Start starts capture when auto start is configured
func (c *Controller) Start(ctx context.Context) error {
	if !c.cfg.AutoStart {
		return nil
	}
	err := c.StartCapture(c.cfg.DefaultConfidence)
	if err != nil && !errors.Is(err, ErrAlreadyRunning) {
		// the API can start it later
		c.LogWarn("Auto start failed", "error", err)
	}
	return nil
}

// Stop stops capture and waits for the loop to drain
func (c *Controller) Stop(ctx context.Context) error {
	c.StopCapture()
	return c.Wait(ctx)
}

// DefaultConfidence is used when a start request gives none
func (c *Controller) DefaultConfidence() float64 {
	return c.cfg.DefaultConfidence
}

// StartCapture spawns the capture loop. It returns ErrAlreadyRunning
// when a loop already exists, including one that is still stopping.
func (c *Controller) StartCapture(confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: %v", ai.ErrInvalidConfidence, confidence)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStopped {
		return ErrAlreadyRunning
	}
	if !c.detector.Ready() {
		return ai.ErrModelUnavailable
	}

	src, err := c.newSource(c.cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to create frame source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &captureRun{
		confidence: confidence,
		cancel:     cancel,
		done:       make(chan struct{}),
		stats:      newRunStats(),
	}
	c.run = run
	c.lastStats = run.stats
	c.state = StateRunning

	go c.loop(ctx, run, src)

	c.LogInfo("Capture started", "device", c.cfg.Source.Device, "confidence", confidence)
	c.PublishEvent(service.EventTypeCaptureStarted, map[string]interface{}{
		"device":     c.cfg.Source.Device,
		"confidence": confidence,
	})
	return nil
}

// StopCapture asks the loop to exit and returns immediately. It is a
// no-op when nothing is running.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return
	}
	c.state = StateStopping
	c.run.cancel()
	c.LogInfo("Capture stop requested")
}

// loop runs one capture run and tears it down
func (c *Controller) loop(ctx context.Context, run *captureRun, src video.FrameSource) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture loop panic: %v", r)
		}
		c.finish(run, src, err)
	}()

	err = c.capture(ctx, run, src)
}

func (c *Controller) finish(run *captureRun, src video.FrameSource, runErr error) {
	if err := src.Close(); err != nil {
		c.LogWarn("Failed to release frame source", "error", err)
	}
	run.cancel()
	run.stats.finish(runErr)

	c.mu.Lock()
	c.slot.Clear()
	if c.run == run {
		c.run = nil
		c.state = StateStopped
	}
	c.mu.Unlock()
	close(run.done)

	if runErr != nil {
		c.LogError("Capture stopped on error", runErr, "device", c.cfg.Source.Device)
		c.PublishEvent(service.EventTypeCaptureError, map[string]interface{}{
			"device": c.cfg.Source.Device,
			"error":  runErr.Error(),
		})
	}
	c.LogInfo("Capture stopped", "frames", run.stats.framesPublished.Load())
	c.PublishEvent(service.EventTypeCaptureStopped, map[string]interface{}{
		"device": c.cfg.Source.Device,
		"frames": run.stats.framesPublished.Load(),
	})
}

// Wait blocks until the current run, if any, has fully drained
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()
	if run == nil {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current pipeline state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status reports the state and the counters of the current or last run
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Active:  c.state == StateRunning,
		Message: "Webcam inactive",
		State:   c.state,
	}
	if st.Active {
		st.Message = "Webcam active"
	}
	if c.run != nil {
		st.Confidence = c.run.confidence
	}
	if c.lastStats != nil {
		stats := c.lastStats.snapshot()
		st.Stats = &stats
	}
	return st
}

// Frame returns the latest published frame
func (c *Controller) Frame() (*PublishedFrame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateRunning {
		return nil, ErrNotActive
	}
	frame, _ := c.slot.Read()
	if frame == nil {
		return nil, ErrNoFrameYet
	}
	return frame, nil
}

// Active implements Feed
func (c *Controller) Active() bool {
	return c.State() == StateRunning
}

// Latest implements Feed
func (c *Controller) Latest() (*PublishedFrame, <-chan struct{}) {
	return c.slot.latest()
}

// NewSession creates a viewer session on this controller's frames
func (c *Controller) NewSession() *Session {
	s := NewSession(c, c.cfg.Stream, c.Logger())
	s.onOpen = func(id string) {
		c.PublishEvent(service.EventTypeStreamOpened, map[string]interface{}{"session_id": id})
	}
	s.onClose = func(id string, sent uint64) {
		c.PublishEvent(service.EventTypeStreamClosed, map[string]interface{}{"session_id": id, "frames_sent": sent})
	}
	return s
}
