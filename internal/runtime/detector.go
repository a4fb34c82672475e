package runtime

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// RuntimeTypeOf maps a native platform kind to a runtime type.
func RuntimeTypeOf(k driver.RuntimeKind) RuntimeType {
	if k == driver.RuntimeLevelZero {
		return RuntimeLevelZero
	}
	return RuntimeOCL
}

// NativeDeviceInfo describes a native device.
func NativeDeviceInfo(dev *driver.Device) (DeviceInfo, MemoryCapabilities) {
	desc := dev.Desc()
	info := DeviceInfo{
		Name:             desc.Name,
		Vendor:           desc.Vendor,
		VendorID:         desc.VendorID,
		DevType:          DeviceDiscreteGPU,
		PCIBusID:         desc.PCIBusID,
		ComputeUnits:     desc.ComputeUnits,
		ClockMHz:         desc.ClockMHz,
		MaxWorkGroupSize: desc.MaxWorkGroupSize,
		MaxGlobalMemSize: desc.GlobalMemSize,
		MaxAllocMemSize:  desc.MaxMemAllocSize,
		Extensions:       desc.Extensions,
		SupportsFP16:     desc.FP16 || dev.HasExtension(driver.ExtFP16),
		SupportsFP64:     desc.FP64 || dev.HasExtension(driver.ExtFP64),
		SupportsImage:    desc.ImageSupport,
		SupportsUSM:      dev.HasExtension(driver.ExtUSM) && desc.USM.Any(),
		OutOfOrderQueue:  desc.Queue.OutOfOrder,
		Profiling:        desc.Queue.Profiling,
		PriorityHints:    dev.HasExtension(driver.ExtPriorityHints),
		ThrottleHints:    dev.HasExtension(driver.ExtThrottleHints),
		DriverVersion:    desc.DriverVersion,
	}
	if desc.IntegratedMemory {
		info.DevType = DeviceIntegratedGPU
	}
	if p := dev.Platform(); p != nil {
		info.Runtime = RuntimeTypeOf(p.Runtime)
	}

	types := []AllocationType{AllocationCLMem}
	if info.SupportsUSM {
		if desc.USM.Host {
			types = append(types, AllocationUSMHost)
		}
		if desc.USM.Shared {
			types = append(types, AllocationUSMShared)
		}
		if desc.USM.Device {
			types = append(types, AllocationUSMDevice)
		}
	}
	return info, NewMemoryCapabilities(types...)
}

// NativeDetector finds the devices a backend can drive: GPU-class devices of
// the Intel vendor whose queues offer the required properties. Platforms of
// other runtimes are skipped and a physical device seen twice (same PCI
// identity) is kept once.
type NativeDetector struct {
	RequireOutOfOrder bool
	RequireProfiling  bool
	// Wrap builds the backend device for a validated native device.
	Wrap func(dev *driver.Device, ctx *driver.Context) Device
	Log  *zap.Logger
}

// Matches reports whether dev passes the device filter.
func (d NativeDetector) Matches(dev *driver.Device) bool {
	if dev.Type()&DeviceFilterType == 0 || dev.VendorID() != DeviceFilterVendor {
		return false
	}
	caps := dev.Queue()
	if d.RequireOutOfOrder && !caps.OutOfOrder {
		return false
	}
	if d.RequireProfiling && !caps.Profiling {
		return false
	}
	return true
}

func (d NativeDetector) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Detect runs discovery for runtime rt.
func (d NativeDetector) Detect(rt RuntimeType, opts DeviceQueryOptions) (map[string]Device, error) {
	switch {
	case opts.UserContext != nil:
		return d.fromUserContext(opts.UserContext)
	case opts.UserDevice != nil:
		return d.fromUserDevice(opts.UserDevice)
	}
	return d.enumerate(opts.SystemOrDefault(), rt)
}

func (d NativeDetector) fromUserContext(ctx *driver.Context) (map[string]Device, error) {
	out := make(map[string]Device)
	for _, dev := range ctx.Devices() {
		if !d.Matches(dev) {
			d.log().Warn("user context device does not match the device filter", zap.String("device", dev.Name()))
			continue
		}
		out[strconv.Itoa(len(out))] = d.Wrap(dev, ctx)
	}
	return out, nil
}

func (d NativeDetector) fromUserDevice(dev *driver.Device) (map[string]Device, error) {
	if !d.Matches(dev) {
		d.log().Warn("user device does not match the device filter", zap.String("device", dev.Name()))
		return map[string]Device{}, nil
	}
	ctx, err := driver.NewContext(dev)
	if err != nil {
		return nil, fmt.Errorf("create context for user device %q: %w", dev.Name(), err)
	}
	return map[string]Device{"0": d.Wrap(dev, ctx)}, nil
}

func (d NativeDetector) enumerate(sys *driver.System, rt RuntimeType) (map[string]Device, error) {
	var candidates []*driver.Device
	for _, p := range sys.Platforms() {
		if RuntimeTypeOf(p.Runtime) != rt {
			continue
		}
		for _, dev := range p.Devices(driver.DeviceTypeAll) {
			if !d.Matches(dev) {
				d.log().Debug("device filtered out",
					zap.String("device", dev.Name()),
					zap.String("platform", p.Name))
				continue
			}
			candidates = append(candidates, dev)
		}
	}

	contexts := make([]*driver.Context, len(candidates))
	var g errgroup.Group
	for i, dev := range candidates {
		i, dev := i, dev
		g.Go(func() error {
			ctx, err := d.validate(dev)
			if err != nil {
				d.log().Warn("device failed validation", zap.String("device", dev.Name()), zap.Error(err))
				return nil
			}
			contexts[i] = ctx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Only validated devices claim their PCI identity.
	out := make(map[string]Device)
	seen := make(map[string]bool)
	for i, dev := range candidates {
		ctx := contexts[i]
		if ctx == nil {
			continue
		}
		if id := dev.PCIBusID(); id != "" {
			if seen[id] {
				d.log().Debug("duplicate device skipped", zap.String("device", dev.Name()), zap.String("pci", id))
				ctx.Release()
				continue
			}
			seen[id] = true
		}
		out[strconv.Itoa(len(out))] = d.Wrap(dev, ctx)
	}
	return out, nil
}

// validate creates the device context and probes a queue with the required
// properties.
func (d NativeDetector) validate(dev *driver.Device) (*driver.Context, error) {
	ctx, err := driver.NewContext(dev)
	if err != nil {
		return nil, err
	}
	q, err := driver.NewQueue(ctx, dev, driver.QueueProperties{
		OutOfOrder: d.RequireOutOfOrder,
		Profiling:  d.RequireProfiling,
	})
	if err != nil {
		ctx.Release()
		return nil, err
	}
	if err := q.Release(); err != nil {
		ctx.Release()
		return nil, err
	}
	return ctx, nil
}
