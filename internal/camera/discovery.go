package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
)

// Device is a V4L2 video device found on the host
type Device struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Driver       string    `json:"driver,omitempty"`
	Formats      []string  `json:"formats,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Discovery scans the device directory for video devices
type Discovery struct {
	*service.ServiceBase
	devDir    string
	sysfsRoot string
	v4l2ctl   string // empty when v4l2-ctl is not installed
	interval  time.Duration
	isDevice  func(os.FileInfo) bool

	mu      sync.RWMutex
	devices map[string]*Device

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDiscovery creates a discovery service for devDir (default /dev)
func NewDiscovery(devDir string, interval time.Duration, log *logger.Logger) *Discovery {
	if devDir == "" {
		devDir = "/dev"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	v4l2ctl, _ := exec.LookPath("v4l2-ctl")

	return &Discovery{
		ServiceBase: service.NewServiceBase("camera-discovery", log),
		devDir:      devDir,
		sysfsRoot:   "/sys/class/video4linux",
		v4l2ctl:     v4l2ctl,
		interval:    interval,
		isDevice: func(info os.FileInfo) bool {
			return info.Mode()&os.ModeCharDevice != 0
		},
		devices: make(map[string]*Device),
	}
}

// Start runs an initial scan and rescans periodically
func (d *Discovery) Start(ctx context.Context) error {
	d.GetStatus().SetStatus(service.StatusStarting)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	if _, err := d.Scan(loopCtx); err != nil {
		d.LogWarn("Initial device scan failed", "error", err)
	}

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops periodic scanning
func (d *Discovery) Stop(ctx context.Context) error {
	d.GetStatus().SetStatus(service.StatusStopping)
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (d *Discovery) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Scan(ctx); err != nil {
				d.LogWarn("Device scan failed", "error", err)
			}
		}
	}
}

// Scan probes the device directory now and returns the current devices.
// Devices that vanished since the last scan are dropped.
func (d *Discovery) Scan(ctx context.Context) ([]Device, error) {
	paths, err := d.findVideoDevices()
	if err != nil {
		return nil, err
	}

	probed := make(map[string]*Device, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dev := d.probe(ctx, p)
		probed[dev.ID] = dev
	}

	now := time.Now()
	d.mu.Lock()
	for id, dev := range probed {
		if existing, ok := d.devices[id]; ok {
			dev.DiscoveredAt = existing.DiscoveredAt
		} else {
			dev.DiscoveredAt = now
			d.LogInfo("Discovered video device", "id", id, "path", dev.Path, "model", dev.Model)
			d.PublishEvent(service.EventTypeCameraDiscovered, map[string]interface{}{
				"device_id": id,
				"path":      dev.Path,
				"model":     dev.Model,
			})
		}
		dev.LastSeen = now
	}
	for id, dev := range d.devices {
		if _, ok := probed[id]; !ok {
			d.LogInfo("Video device disconnected", "id", id, "path", dev.Path)
			d.PublishEvent(service.EventTypeCameraDisconnected, map[string]interface{}{
				"device_id": id,
				"path":      dev.Path,
			})
		}
	}
	d.devices = probed
	d.mu.Unlock()

	return d.Devices(), nil
}

// Devices returns the devices found by the last scan, sorted by path
func (d *Discovery) Devices() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Present reports whether path is a video device right now
func (d *Discovery) Present(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return d.isDevice(info)
}

// findVideoDevices lists <devDir>/video* character devices
func (d *Discovery) findVideoDevices() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	var devices []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if d.isDevice(info) {
			devices = append(devices, match)
		}
	}
	return devices, nil
}

// probe fills in what v4l2-ctl or sysfs can tell about a device
func (d *Discovery) probe(ctx context.Context, path string) *Device {
	base := filepath.Base(path)
	dev := &Device{
		ID:           "usb-" + base,
		Path:         path,
		Name:         base,
		Manufacturer: "Unknown",
		Model:        "USB Camera",
	}

	if d.v4l2ctl != "" && d.probeV4L2(ctx, dev) {
		return dev
	}
	d.probeSysfs(dev)
	return dev
}

func (d *Discovery) probeV4L2(ctx context.Context, dev *Device) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, d.v4l2ctl, "--device", dev.Path, "--info").Output()
	if err != nil {
		d.LogDebug("v4l2-ctl info failed", "device", dev.Path, "error", err)
		return false
	}
	parseV4L2Info(string(out), dev)

	if formats, err := exec.CommandContext(ctx, d.v4l2ctl, "--device", dev.Path, "--list-formats").Output(); err == nil {
		dev.Formats = parseV4L2Formats(string(formats))
	}
	return true
}

// parseV4L2Info reads "Card type" and "Driver name" from v4l2-ctl --info
func parseV4L2Info(out string, dev *Device) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "Card type":
			dev.Model = value
		case "Driver name":
			dev.Driver = value
			if strings.Contains(strings.ToLower(value), "uvc") {
				dev.Manufacturer = "UVC"
			}
		}
	}
}

// parseV4L2Formats extracts fourccs from lines like "[0]: 'MJPG' (Motion-JPEG, compressed)"
func parseV4L2Formats(out string) []string {
	var formats []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		start := strings.Index(line, "'")
		if start < 0 {
			continue
		}
		end := strings.Index(line[start+1:], "'")
		if end != 4 {
			continue
		}
		f := line[start+1 : start+1+end]
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats
}

// probeSysfs reads the device name and USB ids under sysfs
func (d *Discovery) probeSysfs(dev *Device) {
	dir := filepath.Join(d.sysfsRoot, filepath.Base(dev.Path))
	if name, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		dev.Model = strings.TrimSpace(string(name))
	}
	// device is a symlink to the USB interface; the ids live on its
	// parent, so the path must not be cleaned lexically
	usbDir := dir + "/device/../"
	if vendor, err := os.ReadFile(usbDir + "idVendor"); err == nil {
		dev.Manufacturer = strings.TrimSpace(string(vendor))
	}
	if product, err := os.ReadFile(usbDir + "idProduct"); err == nil && dev.Model == "USB Camera" {
		dev.Model = strings.TrimSpace(string(product))
	}
}
