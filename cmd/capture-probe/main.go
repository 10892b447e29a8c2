package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/config"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	device := flag.String("device", "", "Capture device, overrides camera.device")
	frames := flag.Int("frames", 10, "Number of frames to capture")
	out := flag.String("out", "capture-probe.jpg", "Where to write the last annotated frame")
	confidence := flag.Float64("confidence", 0, "Confidence threshold, defaults to detector.confidence_threshold")
	flag.Parse()

	fmt.Println("=== Capture & Detection Probe ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *confidence == 0 {
		*confidence = cfg.Detector.ConfidenceThreshold
	}

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Camera device: %s (%s)\n", cfg.Camera.Device, cfg.Camera.Driver)
	fmt.Printf("Inference service: %s\n", cfg.Detector.ServiceURL)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ff, err := video.NewFFmpegWrapper(log)
	if err != nil {
		fmt.Printf("⚠️  ffmpeg not found, only the v4l2 driver will work: %v\n", err)
		ff = nil
	}

	client := ai.NewClient(ai.ClientConfig{
		ServiceURL: cfg.Detector.ServiceURL,
		Timeout:    cfg.Detector.Timeout,
	}, log)
	detector, err := ai.NewRemoteDetector(client, ai.RemoteDetectorConfig{
		ModelName:   cfg.Detector.ModelName,
		JPEGQuality: cfg.Detector.JPEGQuality,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create detector: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Loading model...")
	if err := detector.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Model not available: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Model loaded")

	src, err := video.NewSourceFactory(ff, log)(video.SourceConfig{
		Driver:      cfg.Camera.Driver,
		Device:      cfg.Camera.Device,
		InputFormat: cfg.Camera.InputFormat,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		FPS:         float64(time.Second) / float64(cfg.Camera.CapturePeriod),
		ReadTimeout: cfg.Camera.ReadTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create source: %v\n", err)
		os.Exit(1)
	}
	if err := src.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open camera: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()
	fmt.Println("✅ Camera opened")
	fmt.Println()

	var last []byte
	for i := 1; i <= *frames; i++ {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			fmt.Printf("[Frame %d] ❌ read failed: %v\n", i, err)
			continue
		}
		img, err := frame.Decode()
		if err != nil {
			fmt.Printf("[Frame %d] ❌ decode failed: %v\n", i, err)
			continue
		}
		img = video.Resize(img, cfg.Camera.Width, cfg.Camera.Height)

		detections, err := detector.Infer(ctx, img, *confidence)
		if err != nil {
			fmt.Printf("[Frame %d] ❌ inference failed: %v\n", i, err)
			continue
		}

		fmt.Printf("[Frame %d] %d detections in %s\n", i, len(detections), time.Since(start).Round(time.Millisecond))
		for _, d := range detections {
			fmt.Printf("    - %s (%.1f%%)\n", d.Class, d.Confidence*100)
		}

		last, err = video.EncodeJPEG(detector.Annotate(img, detections), cfg.Detector.JPEGQuality)
		if err != nil {
			fmt.Printf("[Frame %d] ❌ encode failed: %v\n", i, err)
		}
	}

	if last == nil {
		fmt.Fprintln(os.Stderr, "No frame was captured")
		os.Exit(1)
	}
	if err := os.WriteFile(*out, last, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Println()
	fmt.Printf("✅ Last annotated frame written to %s\n", *out)
}
