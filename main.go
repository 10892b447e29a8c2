package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/camera"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/config"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/detection"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/health"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/pipeline"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/video"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfgSvc, err := config.NewService(configPath, logger.NewNopLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)

	log.Info("Starting waste detection API",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)

	// ffmpeg is optional: the v4l2 driver and image detection work without it
	ff, err := video.NewFFmpegWrapper(log)
	if err != nil {
		log.Warn("ffmpeg not available, video sampling and the ffmpeg driver are disabled", "error", err)
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
		log.Fatal("Failed to create detector", "error", err)
	}

	var sampler detection.FrameSampler
	if ff != nil {
		sampler = ff
	}
	detectionSvc := detection.NewService(detector, sampler, detection.Config{
		JPEGQuality: cfg.Detector.JPEGQuality,
		Videos:      cfg.Videos,
	}, log)
	detectionSvc.SetEventBus(svcMgr.GetEventBus())

	ctrl := pipeline.NewController(pipeline.Config{
		Source: video.SourceConfig{
			Driver:      cfg.Camera.Driver,
			Device:      cfg.Camera.Device,
			InputFormat: cfg.Camera.InputFormat,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         float64(time.Second) / float64(cfg.Camera.CapturePeriod),
			ReadTimeout: cfg.Camera.ReadTimeout,
		},
		Width:              cfg.Camera.Width,
		Height:             cfg.Camera.Height,
		Period:             cfg.Camera.CapturePeriod,
		MaxTransientErrors: cfg.Camera.MaxTransientErrors,
		JPEGQuality:        cfg.Detector.JPEGQuality,
		DefaultConfidence:  cfg.Detector.ConfidenceThreshold,
		AutoStart:          cfg.Camera.AutoStart,
		Stream: pipeline.SessionConfig{
			PollInterval: cfg.Stream.PollInterval,
			MaxFPS:       cfg.Stream.MaxFPS,
		},
	}, detector, video.NewSourceFactory(ff, log), log)

	discovery := camera.NewDiscovery(cfg.Camera.DeviceDir, cfg.Camera.DiscoveryInterval, log)

	server := web.NewServer(web.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		MaxUploadBytes:     int64(cfg.Server.MaxUploadSizeMB) << 20,
		StreamWriteTimeout: cfg.Stream.WriteTimeout,
		DefaultConfidence:  cfg.Detector.ConfidenceThreshold,
	}, web.Dependencies{
		Detector:  detector,
		Detection: detectionSvc,
		Pipeline:  ctrl,
		Devices:   discovery,
	}, log)

	// start order: model, devices, capture, then the API; shutdown reverses it
	svcMgr.Register(detector)
	svcMgr.Register(discovery)
	svcMgr.Register(ctrl)
	svcMgr.Register(server)

	if cfg.Health.Enabled {
		healthMgr := health.NewManager(health.Config{
			Host: cfg.Health.Host,
			Port: cfg.Health.Port,
		}, svcMgr, log)
		healthMgr.RegisterChecker(&health.SystemChecker{MaxGoroutines: 10000})
		healthMgr.RegisterChecker(health.NewDetectorChecker(detector))
		if ff != nil {
			healthMgr.RegisterChecker(health.NewFFmpegChecker(ff))
		} else {
			healthMgr.RegisterChecker(health.NewFFmpegChecker(nil))
		}
		healthMgr.RegisterChecker(health.NewCameraChecker(discovery, cfg.Camera.Device, ctrl.Active))
		healthMgr.RegisterChecker(health.NewVideosChecker(cfg.Videos))
		svcMgr.Register(healthMgr)
	}

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if oldCfg.Server != newCfg.Server || oldCfg.Camera != newCfg.Camera || oldCfg.Detector != newCfg.Detector {
			log.Warn("Server, camera and detector changes take effect after a restart")
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Failed to reload configuration", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
