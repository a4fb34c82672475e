package driver

import (
	"slices"
	"sync/atomic"
)

// DeviceType is a bit mask of device classes, as in CL_DEVICE_TYPE_*.
type DeviceType uint32

const (
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	default:
		return "unknown"
	}
}

// QueueCapabilities lists the command-queue properties a device accepts.
type QueueCapabilities struct {
	OutOfOrder bool
	Profiling  bool
}

// USMCapabilities reports which unified shared memory kinds a device can
// allocate.
type USMCapabilities struct {
	Host   bool
	Shared bool
	Device bool
}

// Any reports whether at least one USM kind is available.
func (c USMCapabilities) Any() bool {
	return c.Host || c.Shared || c.Device
}

// DeviceDesc is the static description of a device.
type DeviceDesc struct {
	Name             string
	Vendor           string
	VendorID         uint32
	Type             DeviceType
	PCIBusID         string
	IntegratedMemory bool
	ComputeUnits     int
	ClockMHz         int
	MaxWorkGroupSize int
	GlobalMemSize    uint64
	MaxMemAllocSize  uint64
	Extensions       []string
	Queue            QueueCapabilities
	USM              USMCapabilities
	ImageSupport     bool
	Image2DMaxWidth  int
	Image2DMaxHeight int
	FP16             bool
	FP64             bool
	DriverVersion    string
	Unavailable      bool
}

var deviceIDs atomic.Uint64

// Device is one compute device exposed by a platform. The same physical
// device may be exposed by several platforms; PCIBusID identifies it.
type Device struct {
	id       uint64
	desc     DeviceDesc
	platform *Platform
}

// NewDevice creates a device from its description. The device is attached to
// a platform by NewPlatform.
func NewDevice(desc DeviceDesc) *Device {
	desc.Extensions = slices.Clone(desc.Extensions)
	if desc.MaxWorkGroupSize == 0 {
		desc.MaxWorkGroupSize = 256
	}
	if desc.MaxMemAllocSize == 0 {
		desc.MaxMemAllocSize = desc.GlobalMemSize / 2
	}
	return &Device{id: deviceIDs.Add(1), desc: desc}
}

// ID is the native handle of the device. It is unique per process.
func (d *Device) ID() uint64 { return d.id }

// Desc returns a copy of the device description.
func (d *Device) Desc() DeviceDesc {
	desc := d.desc
	desc.Extensions = slices.Clone(d.desc.Extensions)
	return desc
}

func (d *Device) Name() string             { return d.desc.Name }
func (d *Device) Type() DeviceType         { return d.desc.Type }
func (d *Device) VendorID() uint32         { return d.desc.VendorID }
func (d *Device) PCIBusID() string         { return d.desc.PCIBusID }
func (d *Device) Platform() *Platform      { return d.platform }
func (d *Device) Queue() QueueCapabilities { return d.desc.Queue }
func (d *Device) USM() USMCapabilities     { return d.desc.USM }

// HasExtension reports whether the device advertises ext.
func (d *Device) HasExtension(ext string) bool {
	return slices.Contains(d.desc.Extensions, ext)
}
