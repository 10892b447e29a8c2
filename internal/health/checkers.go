package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// SystemChecker reports runtime resource usage
type SystemChecker struct {
	// MaxGoroutines marks the process degraded above this count; 0 disables
	MaxGoroutines int
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	check.Details["goroutines"] = goroutines
	check.Details["heap_alloc_mb"] = mem.HeapAlloc / (1 << 20)
	check.Details["sys_mb"] = mem.Sys / (1 << 20)
	check.Details["num_gc"] = mem.NumGC

	if c.MaxGoroutines > 0 && goroutines > c.MaxGoroutines {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d goroutines running", goroutines)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "System resources OK"
	return check
}

// DetectorProbe is the part of the detector the checker needs
type DetectorProbe interface {
	Ready() bool
	HealthCheck(ctx context.Context) error
}

// DetectorChecker checks the model and the inference service. Without a
// model nothing can be detected, so that is unhealthy.
type DetectorChecker struct {
	detector DetectorProbe
	timeout  time.Duration
}

func NewDetectorChecker(detector DetectorProbe) *DetectorChecker {
	return &DetectorChecker{detector: detector, timeout: 3 * time.Second}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["model_loaded"] = c.detector.Ready()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.detector.HealthCheck(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Inference service unreachable: %v", err)
		return check
	}
	if !c.detector.Ready() {
		check.Status = StatusUnhealthy
		check.Message = "Model not loaded"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Inference service is reachable"
	return check
}

// FFmpegProbe reports the ffmpeg binary in use
type FFmpegProbe interface {
	Path() string
	Version() string
}

// FFmpegChecker reports whether ffmpeg is available. Only the ffmpeg
// driver and video sampling need it, so absence is degraded.
type FFmpegChecker struct {
	ffmpeg FFmpegProbe
}

func NewFFmpegChecker(ffmpeg FFmpegProbe) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.ffmpeg == nil {
		check.Status = StatusDegraded
		check.Message = "ffmpeg not found"
		return check
	}

	check.Details["path"] = c.ffmpeg.Path()
	if v := c.ffmpeg.Version(); v != "" {
		check.Details["version"] = v
	}
	check.Status = StatusHealthy
	check.Message = "ffmpeg available"
	return check
}

// DeviceProbe reports whether a capture device exists
type DeviceProbe interface {
	Present(path string) bool
}

// CameraChecker checks the configured capture device. Detection on
// uploads works without it, so a missing device is degraded.
type CameraChecker struct {
	devices DeviceProbe
	device  string
	active  func() bool
}

// NewCameraChecker checks device; active reports whether capture runs
func NewCameraChecker(devices DeviceProbe, device string, active func() bool) *CameraChecker {
	return &CameraChecker{devices: devices, device: device, active: active}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["device"] = c.device
	if c.active != nil {
		check.Details["capture_active"] = c.active()
	}

	// network sources cannot be probed on the filesystem
	if !isLocalDevice(c.device) {
		check.Status = StatusHealthy
		check.Message = "Remote source configured"
		return check
	}
	if !c.devices.Present(c.device) {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Capture device %s not found", c.device)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Capture device present"
	return check
}

func isLocalDevice(device string) bool {
	return len(device) > 0 && device[0] == '/'
}

// VideosChecker checks that the stored videos exist
type VideosChecker struct {
	videos map[string]string
}

func NewVideosChecker(videos map[string]string) *VideosChecker {
	return &VideosChecker{videos: videos}
}

func (c *VideosChecker) Name() string {
	return "videos"
}

func (c *VideosChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	var missing []string
	for name, path := range c.videos {
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, name)
		}
	}
	check.Details["configured"] = len(c.videos)
	check.Details["available"] = len(c.videos) - len(missing)

	if len(missing) > 0 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d stored videos missing", len(missing))
		check.Details["missing"] = missing
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Stored videos available"
	return check
}
