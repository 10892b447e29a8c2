package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

var (
	// ErrModelUnavailable is returned while the model is not loaded
	ErrModelUnavailable = errors.New("model not loaded")
	// ErrInvalidConfidence is returned for a threshold outside [0, 1]
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
)

// Detector runs the model on a frame and renders the results
type Detector interface {
	// Infer returns the objects found in img at or above confidence
	Infer(ctx context.Context, img image.Image, confidence float64) ([]Detection, error)
	// Annotate returns a copy of img with detections drawn on it
	Annotate(img image.Image, detections []Detection) image.Image
	// Info describes the loaded model
	Info() (*ModelInfo, error)
	// Ready reports whether the model is loaded
	Ready() bool
}

// RemoteDetectorConfig contains configuration for the remote detector
type RemoteDetectorConfig struct {
	ModelName     string
	JPEGQuality   int
	RetryInterval time.Duration // how often to retry loading the model
}

// RemoteDetector serves Infer through the inference service and draws
// annotations locally. It is a managed service: Start loads the model
// description and keeps retrying in the background until it succeeds.
type RemoteDetector struct {
	*service.ServiceBase
	client    *Client
	annotator *Annotator
	cfg       RemoteDetectorConfig

	info   atomic.Pointer[ModelInfo]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRemoteDetector creates a detector backed by client
func NewRemoteDetector(client *Client, cfg RemoteDetectorConfig, log *logger.Logger) (*RemoteDetector, error) {
	annotator, err := NewAnnotator(14)
	if err != nil {
		return nil, err
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &RemoteDetector{
		ServiceBase: service.NewServiceBase("detector", log),
		client:      client,
		annotator:   annotator,
		cfg:         cfg,
	}, nil
}

// Start loads the model description. A service that is not up yet does
// not fail startup; loading is retried until Stop.
func (d *RemoteDetector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	if err := d.Load(runCtx); err != nil {
		d.LogWarn("Model not available yet, will retry", "error", err, "retry_interval", d.cfg.RetryInterval)
		d.wg.Add(1)
		go d.retryLoad(runCtx)
	}
	return nil
}

// Stop stops background loading
func (d *RemoteDetector) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *RemoteDetector) retryLoad(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Load(ctx); err != nil {
				d.LogDebug("Model load retry failed", "error", err)
				continue
			}
			return
		}
	}
}

// Load fetches the model description from the inference service
func (d *RemoteDetector) Load(ctx context.Context) error {
	model, err := d.client.Model(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	info := &ModelInfo{
		ModelName: d.cfg.ModelName,
		Classes:   model.Classes,
		InputSize: model.InputSize,
	}
	if info.ModelName == "" {
		info.ModelName = model.ModelName
	}
	if info.Classes == nil {
		info.Classes = map[int]string{}
	}
	if info.InputSize == 0 {
		info.InputSize = 640
	}
	d.info.Store(info)

	d.LogInfo("Model loaded", "model", info.ModelName, "classes", len(info.Classes), "input_size", info.InputSize)
	return nil
}

// Ready reports whether the model description was loaded
func (d *RemoteDetector) Ready() bool {
	return d.info.Load() != nil
}

// Info describes the loaded model
func (d *RemoteDetector) Info() (*ModelInfo, error) {
	info := d.info.Load()
	if info == nil {
		return nil, ErrModelUnavailable
	}
	return info, nil
}

// Infer encodes img and sends it to the inference service
func (d *RemoteDetector) Infer(ctx context.Context, img image.Image, confidence float64) ([]Detection, error) {
	info := d.info.Load()
	if info == nil {
		return nil, ErrModelUnavailable
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}

	data, err := video.EncodeJPEG(img, d.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Infer(ctx, data, confidence)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	b := img.Bounds()
	detections := make([]Detection, 0, len(resp.BoundingBoxes))
	for _, box := range resp.BoundingBoxes {
		if box.Confidence < confidence {
			continue
		}
		detections = append(detections, box.toDetection(b.Dx(), b.Dy(), info.Classes))
	}
	return detections, nil
}

// Annotate draws detections on a copy of img
func (d *RemoteDetector) Annotate(img image.Image, detections []Detection) image.Image {
	return d.annotator.Annotate(img, detections)
}

// HealthCheck checks that the inference service answers
func (d *RemoteDetector) HealthCheck(ctx context.Context) error {
	return d.client.HealthCheck(ctx)
}
