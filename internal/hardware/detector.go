// Package hardware discovers usable GPU acceleration backends and maps
// codec families to the best concrete encoder for this host.
package hardware

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// Vendor identifies a GPU vendor.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorNvidia
	VendorAmd
	VendorIntel
	VendorApple
)

func (v Vendor) String() string {
	switch v {
	case VendorNvidia:
		return "nvidia"
	case VendorAmd:
		return "amd"
	case VendorIntel:
		return "intel"
	case VendorApple:
		return "apple"
	default:
		return "unknown"
	}
}

// Backend names match ffmpeg's -hwaccels output.
const (
	BackendCUDA         = "cuda"
	BackendVAAPI        = "vaapi"
	BackendQSV          = "qsv"
	BackendAMF          = "amf"
	BackendDXVA2        = "dxva2"
	BackendVideoToolbox = "videotoolbox"
)

// GpuAccelerator describes one usable acceleration backend. The list is
// produced once per process lifetime and cached; re-detection replaces it
// wholesale under the detector lock.
type GpuAccelerator struct {
	Vendor   Vendor
	Backend  string
	DeviceID string
	// FilterSpec is the upload chain appended after the software filters
	// for encoders that consume GPU surfaces.
	FilterSpec string
}

// Detector probes which acceleration backends this host can use. It is an
// explicitly constructed service; callers share one instance and its
// lifetime is tied to the host process.
type Detector struct {
	logger     logger.Logger
	runner     types.CommandRunner
	ffmpegPath string
	enabled    bool
	goos       string

	mu       sync.Mutex
	detected bool
	accels   []GpuAccelerator
}

// NewDetector creates a Detector. Detection is lazy and happens at most
// once; concurrent first callers wait rather than probing twice.
func NewDetector(log logger.Logger, runner types.CommandRunner, ffmpegPath string, enabled bool) *Detector {
	return &Detector{
		logger:     log.Named("hwdetect"),
		runner:     runner,
		ffmpegPath: ffmpegPath,
		enabled:    enabled,
		goos:       runtime.GOOS,
	}
}

// platformPriority lists the backends worth probing per OS, most preferred
// first.
func platformPriority(goos string) []string {
	switch goos {
	case "windows":
		return []string{BackendCUDA, BackendQSV, BackendAMF, BackendDXVA2}
	case "darwin":
		return []string{BackendVideoToolbox}
	default: // linux and friends
		return []string{BackendCUDA, BackendVAAPI, BackendQSV}
	}
}

func backendVendor(backend string) Vendor {
	switch backend {
	case BackendCUDA:
		return VendorNvidia
	case BackendAMF:
		return VendorAmd
	case BackendQSV:
		return VendorIntel
	case BackendVideoToolbox:
		return VendorApple
	case BackendVAAPI:
		// VAAPI serves both Intel and AMD; Intel is the common case.
		return VendorIntel
	default:
		return VendorUnknown
	}
}

// GetAvailableAccelerators returns the cached accelerator list, probing on
// first use. A failed probe makes a backend unavailable, never fatal.
func (d *Detector) GetAvailableAccelerators(ctx context.Context) []GpuAccelerator {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detected {
		return d.accels
	}

	accels := d.detect(ctx)
	d.accels = accels
	d.detected = true
	return accels
}

// IsAvailable reports whether the named backend was detected.
func (d *Detector) IsAvailable(ctx context.Context, backend string) bool {
	for _, accel := range d.GetAvailableAccelerators(ctx) {
		if accel.Backend == backend {
			return true
		}
	}
	return false
}

// GetRecommended returns the highest-priority usable backend for this OS,
// or nil when only software encoding is possible.
func (d *Detector) GetRecommended(ctx context.Context) *GpuAccelerator {
	accels := d.GetAvailableAccelerators(ctx)
	for _, backend := range platformPriority(d.goos) {
		for i := range accels {
			if accels[i].Backend == backend {
				return &accels[i]
			}
		}
	}
	return nil
}

func (d *Detector) detect(ctx context.Context) []GpuAccelerator {
	if !d.enabled {
		d.logger.Info("hardware acceleration disabled by configuration")
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := d.runner.Run(probeCtx, d.ffmpegPath, "-hide_banner", "-hwaccels")
	if err != nil {
		d.logger.Warn("hwaccel probe failed, falling back to software", "error", err)
		return nil
	}
	reported := string(output)

	var accels []GpuAccelerator
	for _, backend := range platformPriority(d.goos) {
		if !strings.Contains(reported, backend) {
			continue
		}
		accel := GpuAccelerator{
			Vendor:  backendVendor(backend),
			Backend: backend,
		}
		switch backend {
		case BackendVAAPI:
			accel.DeviceID = "/dev/dri/renderD128"
			accel.FilterSpec = "format=nv12|vaapi,hwupload"
		case BackendCUDA:
			accel.DeviceID = "0"
		}
		accels = append(accels, accel)
		d.logger.Info("hardware acceleration available", "backend", backend, "vendor", accel.Vendor.String())
	}

	if len(accels) == 0 {
		d.logger.Info("no hardware acceleration detected, using software encoders")
	}
	return accels
}

// InputArgs returns the ffmpeg input-side arguments that activate the
// accelerator. They must precede -i on the command line. Decoded frames
// come back to system memory so the software filter chain (crop, scale,
// tonemap) applies; encoders that consume GPU surfaces get them re-uploaded
// through FilterSpec at the tail of the chain.
func (a *GpuAccelerator) InputArgs() []string {
	switch a.Backend {
	case BackendCUDA:
		return []string{"-hwaccel", "cuda", "-hwaccel_device", a.DeviceID, "-extra_hw_frames", "3"}
	case BackendVAAPI:
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", a.DeviceID}
	case BackendQSV:
		return []string{"-hwaccel", "qsv"}
	case BackendVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	case BackendAMF, BackendDXVA2:
		return []string{"-hwaccel", a.Backend}
	default:
		return nil
	}
}
