package sycl

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Device is a SYCL device on either the OpenCL or the Level-Zero runtime.
// Images are not exposed through SYCL memory.
type Device struct {
	native *driver.Device
	ctx    *driver.Context
	info   runtime.DeviceInfo
	caps   runtime.MemoryCapabilities
}

// NewDevice wraps a native device and its context.
func NewDevice(dev *driver.Device, ctx *driver.Context) *Device {
	info, caps := runtime.NativeDeviceInfo(dev)
	info.SupportsImage = false
	return &Device{native: dev, ctx: ctx, info: info, caps: caps}
}

func (d *Device) Info() runtime.DeviceInfo                       { return d.info }
func (d *Device) MemoryCapabilities() runtime.MemoryCapabilities { return d.caps }
func (d *Device) Native() *driver.Device                         { return d.native }
func (d *Device) Context() *driver.Context                       { return d.ctx }

// DetectDevices lists the SYCL devices of runtime rt. SYCL queues are
// created in order, so no queue capability is required.
func DetectDevices(rt runtime.RuntimeType, opts runtime.DeviceQueryOptions, log *zap.Logger) (map[string]runtime.Device, error) {
	d := runtime.NativeDetector{
		Wrap: func(dev *driver.Device, ctx *driver.Context) runtime.Device {
			return NewDevice(dev, ctx)
		},
		Log: log.Named("sycl.detector"),
	}
	return d.Detect(rt, opts)
}
