package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

// captureRun is one spawned capture loop
type captureRun struct {
	confidence float64
	cancel     context.CancelFunc
	done       chan struct{}
	stats      *runStats
}

// capture pulls frames from src until ctx is cancelled or the source
// fails. A nil return means the loop was asked to stop.
func (c *Controller) capture(ctx context.Context, run *captureRun, src video.FrameSource) error {
	if err := src.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", c.cfg.Source.Device, err)
	}

	transient := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		started := time.Now()

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, video.ErrDeviceBusy) && transient < c.cfg.MaxTransientErrors {
				transient++
				run.stats.transientErrors.Add(1)
				c.LogWarn("Transient read error", "error", err, "attempt", transient)
				continue
			}
			return &DeviceReadError{Device: c.cfg.Source.Device, Err: err}
		}

		img, err := frame.Decode()
		if err != nil {
			// a corrupt frame counts like a busy read
			if transient < c.cfg.MaxTransientErrors {
				transient++
				run.stats.transientErrors.Add(1)
				c.LogWarn("Dropping undecodable frame", "error", err, "attempt", transient)
				continue
			}
			return &DeviceReadError{Device: c.cfg.Source.Device, Err: err}
		}
		transient = 0

		img = video.Resize(img, c.cfg.Width, c.cfg.Height)

		detections, err := c.detector.Infer(ctx, img, run.confidence)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("inference failed: %w", err)
		}
		annotated := c.detector.Annotate(img, detections)

		ts := frame.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		c.slot.Publish(annotated, ts, len(detections))
		run.stats.framesPublished.Add(1)
		run.stats.lastDetections.Store(int64(len(detections)))

		if wait := c.cfg.Period - time.Since(started); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}
