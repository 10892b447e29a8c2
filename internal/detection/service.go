package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

var (
	// ErrInvalidInput is returned for a missing or undecodable image
	ErrInvalidInput = errors.New("invalid input")
	// ErrVideoNotFound is returned for a name missing from the video table
	ErrVideoNotFound = errors.New("video not found")
)

// Result is the answer to one detection request
type Result struct {
	Success        bool           `json:"success"`
	Detections     []ai.Detection `json:"detections"`
	Count          int            `json:"count"`
	ImageWithBoxes string         `json:"image_with_boxes,omitempty"` // base64 JPEG
	Message        string         `json:"message"`
}

// Video is one entry of the stored video table
type Video struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
}

// FrameSampler extracts a single JPEG frame from a stored video
type FrameSampler interface {
	ExtractFirstFrame(ctx context.Context, input string, quality int) ([]byte, error)
}

// Config contains configuration for the detection service
type Config struct {
	JPEGQuality int
	Videos      map[string]string // name -> path
}

// Service runs one-shot detections. It holds no per-request state and
// is safe for concurrent use.
type Service struct {
	*service.ServiceBase
	detector ai.Detector
	sampler  FrameSampler
	cfg      Config
}

// NewService creates a detection service. sampler may be nil when no
// ffmpeg is available; video detection then fails.
func NewService(detector ai.Detector, sampler FrameSampler, cfg Config, log *logger.Logger) *Service {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = video.DefaultJPEGQuality
	}
	if cfg.Videos == nil {
		cfg.Videos = map[string]string{}
	}
	return &Service{
		ServiceBase: service.NewServiceBase("detection", log),
		detector:    detector,
		sampler:     sampler,
		cfg:         cfg,
	}
}

// Detect runs the detector on img, draws the boxes once and encodes the
// annotated image.
func (s *Service) Detect(ctx context.Context, img image.Image, confidence float64) (*Result, error) {
	if !s.detector.Ready() {
		return nil, ai.ErrModelUnavailable
	}

	started := time.Now()
	detections, err := s.detector.Infer(ctx, img, confidence)
	if err != nil {
		return nil, err
	}
	if detections == nil {
		detections = []ai.Detection{}
	}

	annotated := s.detector.Annotate(img, detections)
	data, err := video.EncodeJPEG(annotated, s.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	s.LogDebug("Detection completed", "count", len(detections), "duration_ms", time.Since(started).Milliseconds())
	s.PublishEvent(service.EventTypeDetection, map[string]interface{}{
		"count":      len(detections),
		"confidence": confidence,
	})

	return &Result{
		Success:        true,
		Detections:     detections,
		Count:          len(detections),
		ImageWithBoxes: base64.StdEncoding.EncodeToString(data),
		Message:        Message(len(detections)),
	}, nil
}

// DetectBytes decodes an encoded image and runs Detect
func (s *Service) DetectBytes(ctx context.Context, data []byte, confidence float64) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no image provided", ErrInvalidInput)
	}
	img, err := video.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.Detect(ctx, img, confidence)
}

// DetectBase64 decodes an inline image (optionally a data URI) and runs
// Detect
func (s *Service) DetectBase64(ctx context.Context, encoded string, confidence float64) (*Result, error) {
	data, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return s.DetectBytes(ctx, data, confidence)
}

// ListVideos returns the configured videos whose file exists, by name
func (s *Service) ListVideos() []Video {
	videos := make([]Video, 0, len(s.cfg.Videos))
	for name, path := range s.cfg.Videos {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		videos = append(videos, Video{
			Name:        name,
			Path:        path,
			DisplayName: DisplayName(name),
		})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Name < videos[j].Name })
	return videos
}

// DetectVideo samples the first frame of a stored video and runs Detect
func (s *Service) DetectVideo(ctx context.Context, name string, confidence float64) (*Result, error) {
	if !s.detector.Ready() {
		return nil, ai.ErrModelUnavailable
	}
	path, ok := s.cfg.Videos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, name)
	}
	if s.sampler == nil {
		return nil, video.ErrFFmpegNotFound
	}

	data, err := s.sampler.ExtractFirstFrame(ctx, path, s.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read video frame: %v", ErrInvalidInput, err)
	}
	return s.DetectBytes(ctx, data, confidence)
}

// Message is the human-readable summary of a detection count
func Message(count int) string {
	if count == 0 {
		return "Aucun objet détecté"
	}
	return fmt.Sprintf("%d objets détectés", count)
}

var titleCaser = cases.Title(language.Und)

// DisplayName turns "plastic_bottles" into "Plastic Bottles"
func DisplayName(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

// DecodeBase64 decodes an inline image. Anything up to "base64," is
// dropped so data URIs are accepted.
func DecodeBase64(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, "base64,"); i >= 0 {
		encoded = encoded[i+len("base64,"):]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: no image provided", ErrInvalidInput)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// some clients strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrInvalidInput, err)
		}
	}
	return data, nil
}

// CheckContentType rejects uploads that are not declared as images
func CheckContentType(contentType string) error {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: file must be an image", ErrInvalidInput)
	}
	return nil
}
