package runtime

import (
	"fmt"
	"slices"
)

// AllocationType is the category of a device allocation.
type AllocationType int

const (
	AllocationUnknown AllocationType = iota
	AllocationCLMem
	AllocationUSMHost
	AllocationUSMShared
	AllocationUSMDevice
)

func (t AllocationType) String() string {
	switch t {
	case AllocationCLMem:
		return "cl_mem"
	case AllocationUSMHost:
		return "usm_host"
	case AllocationUSMShared:
		return "usm_shared"
	case AllocationUSMDevice:
		return "usm_device"
	default:
		return "unknown"
	}
}

func (t AllocationType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AllocationType) UnmarshalText(b []byte) error {
	v, err := ParseAllocationType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseAllocationType converts "cl_mem", "usm_host", "usm_shared" or
// "usm_device".
func ParseAllocationType(s string) (AllocationType, error) {
	for _, t := range []AllocationType{AllocationCLMem, AllocationUSMHost, AllocationUSMShared, AllocationUSMDevice} {
		if t.String() == s {
			return t, nil
		}
	}
	return AllocationUnknown, fmt.Errorf("%w: allocation type %q", ErrInvalidArgument, s)
}

// IsUSM reports whether t is a unified shared memory type.
func (t AllocationType) IsUSM() bool {
	return t == AllocationUSMHost || t == AllocationUSMShared || t == AllocationUSMDevice
}

// MemoryCapabilities is the set of allocation types a device can serve.
type MemoryCapabilities struct {
	types []AllocationType
}

// NewMemoryCapabilities builds capabilities from the supported types.
func NewMemoryCapabilities(types ...AllocationType) MemoryCapabilities {
	return MemoryCapabilities{types: slices.Clone(types)}
}

// SupportsUSM reports whether any USM type is supported.
func (c MemoryCapabilities) SupportsUSM() bool {
	return slices.ContainsFunc(c.types, AllocationType.IsUSM)
}

// SupportsAllocation reports whether t is supported.
func (c MemoryCapabilities) SupportsAllocation(t AllocationType) bool {
	return slices.Contains(c.types, t)
}

// Types lists the supported allocation types.
func (c MemoryCapabilities) Types() []AllocationType {
	return slices.Clone(c.types)
}

// DeviceType distinguishes integrated from discrete GPUs.
type DeviceType int

const (
	DeviceIntegratedGPU DeviceType = iota
	DeviceDiscreteGPU
)

func (t DeviceType) String() string {
	if t == DeviceDiscreteGPU {
		return "discrete_gpu"
	}
	return "integrated_gpu"
}

func (t DeviceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *DeviceType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "integrated_gpu":
		*t = DeviceIntegratedGPU
	case "discrete_gpu":
		*t = DeviceDiscreteGPU
	default:
		return fmt.Errorf("%w: device type %q", ErrInvalidArgument, b)
	}
	return nil
}

// DeviceInfo describes the capabilities of a device.
type DeviceInfo struct {
	Name             string      `json:"name"`
	Vendor           string      `json:"vendor"`
	VendorID         uint32      `json:"vendorId"`
	DevType          DeviceType  `json:"deviceType"`
	PCIBusID         string      `json:"pciBusId"`
	ComputeUnits     int         `json:"computeUnits"`
	ClockMHz         int         `json:"clockMHz"`
	MaxWorkGroupSize int         `json:"maxWorkGroupSize"`
	MaxGlobalMemSize uint64      `json:"maxGlobalMemSize"`
	MaxAllocMemSize  uint64      `json:"maxAllocMemSize"`
	Extensions       []string    `json:"extensions"`
	SupportsFP16     bool        `json:"supportsFp16"`
	SupportsFP64     bool        `json:"supportsFp64"`
	SupportsImage    bool        `json:"supportsImage"`
	SupportsUSM      bool        `json:"supportsUsm"`
	OutOfOrderQueue  bool        `json:"outOfOrderQueue"`
	Profiling        bool        `json:"profiling"`
	PriorityHints    bool        `json:"priorityHints"`
	ThrottleHints    bool        `json:"throttleHints"`
	DriverVersion    string      `json:"driverVersion"`
	Runtime          RuntimeType `json:"runtime"`
}

// HasExtension reports whether the device advertises ext.
func (i DeviceInfo) HasExtension(ext string) bool {
	return slices.Contains(i.Extensions, ext)
}

// Device is one accelerator as seen by a backend. Devices are immutable and
// may be shared by several engines.
type Device interface {
	Info() DeviceInfo
	MemoryCapabilities() MemoryCapabilities
}
