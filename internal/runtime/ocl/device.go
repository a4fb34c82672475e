package ocl

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Device is an OpenCL device together with the context engines use for it.
type Device struct {
	native *driver.Device
	ctx    *driver.Context
	info   runtime.DeviceInfo
	caps   runtime.MemoryCapabilities
}

// NewDevice wraps a native device and its context.
func NewDevice(dev *driver.Device, ctx *driver.Context) *Device {
	info, caps := runtime.NativeDeviceInfo(dev)
	return &Device{native: dev, ctx: ctx, info: info, caps: caps}
}

func (d *Device) Info() runtime.DeviceInfo                       { return d.info }
func (d *Device) MemoryCapabilities() runtime.MemoryCapabilities { return d.caps }
func (d *Device) Native() *driver.Device                         { return d.native }
func (d *Device) Context() *driver.Context                       { return d.ctx }

func detector(log *zap.Logger) runtime.NativeDetector {
	return runtime.NativeDetector{
		RequireOutOfOrder: true,
		RequireProfiling:  true,
		Wrap: func(dev *driver.Device, ctx *driver.Context) runtime.Device {
			return NewDevice(dev, ctx)
		},
		Log: log.Named("ocl.detector"),
	}
}

// DetectDevices lists the OpenCL devices usable on runtime rt.
func DetectDevices(rt runtime.RuntimeType, opts runtime.DeviceQueryOptions, log *zap.Logger) (map[string]runtime.Device, error) {
	return detector(log).Detect(rt, opts)
}
