package hardware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosmedia/helios/internal/logger"
)

type fakeRunner struct {
	output []byte
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	f.calls++
	return f.output, f.err
}

func (f *fakeRunner) Output(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return f.Run(ctx, cmd, args...)
}

func newTestDetector(hwaccels string) (*Detector, *fakeRunner) {
	runner := &fakeRunner{output: []byte(hwaccels)}
	d := NewDetector(logger.Nop(), runner, "ffmpeg", true)
	d.goos = "linux"
	return d, runner
}

func TestDetectionIsCachedAcrossCalls(t *testing.T) {
	d, runner := newTestDetector("Hardware acceleration methods:\ncuda\nvaapi\n")

	first := d.GetAvailableAccelerators(context.Background())
	second := d.GetAvailableAccelerators(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, 1, runner.calls, "second call must hit the cache")
}

func TestDetectFollowsPlatformPriority(t *testing.T) {
	d, _ := newTestDetector("Hardware acceleration methods:\ncuda\nvaapi\nqsv\n")

	accels := d.GetAvailableAccelerators(context.Background())
	require.Len(t, accels, 3)
	assert.Equal(t, BackendCUDA, accels[0].Backend)
	assert.Equal(t, BackendVAAPI, accels[1].Backend)
	assert.Equal(t, BackendQSV, accels[2].Backend)

	recommended := d.GetRecommended(context.Background())
	require.NotNil(t, recommended)
	assert.Equal(t, BackendCUDA, recommended.Backend)
	assert.Equal(t, VendorNvidia, recommended.Vendor)
}

func TestDetectProbeFailureMeansSoftwareOnly(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exec format error")}
	d := NewDetector(logger.Nop(), runner, "ffmpeg", true)
	d.goos = "linux"

	assert.Empty(t, d.GetAvailableAccelerators(context.Background()))
	assert.Nil(t, d.GetRecommended(context.Background()))
}

func TestDetectDisabled(t *testing.T) {
	runner := &fakeRunner{output: []byte("cuda\n")}
	d := NewDetector(logger.Nop(), runner, "ffmpeg", false)

	assert.Empty(t, d.GetAvailableAccelerators(context.Background()))
	assert.Zero(t, runner.calls)
}

func TestIsAvailable(t *testing.T) {
	d, _ := newTestDetector("vaapi\n")

	assert.True(t, d.IsAvailable(context.Background(), BackendVAAPI))
	assert.False(t, d.IsAvailable(context.Background(), BackendCUDA))
}

func TestPlatformPriority(t *testing.T) {
	assert.Equal(t, []string{BackendCUDA, BackendQSV, BackendAMF, BackendDXVA2}, platformPriority("windows"))
	assert.Equal(t, []string{BackendVideoToolbox}, platformPriority("darwin"))
	assert.Equal(t, []string{BackendCUDA, BackendVAAPI, BackendQSV}, platformPriority("linux"))
}

func TestAcceleratorInputArgsPrecedeInput(t *testing.T) {
	cuda := GpuAccelerator{Vendor: VendorNvidia, Backend: BackendCUDA, DeviceID: "0"}
	args := cuda.InputArgs()
	assert.Equal(t, []string{"-hwaccel", "cuda", "-hwaccel_device", "0", "-extra_hw_frames", "3"}, args)

	vaapi := GpuAccelerator{Vendor: VendorIntel, Backend: BackendVAAPI, DeviceID: "/dev/dri/renderD128"}
	args = vaapi.InputArgs()
	assert.Equal(t, []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128"}, args)
	// Frames must come back to system memory for the software filters.
	assert.NotContains(t, args, "-hwaccel_output_format")
}
