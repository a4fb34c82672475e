package driver

import (
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sys/cpu"
)

// Vendor IDs reported by emulated devices.
const (
	VendorIntel  uint32 = 0x8086
	VendorNVIDIA uint32 = 0x10de
)

// Extension names understood by the runtime layer.
const (
	ExtFP16          = "cl_khr_fp16"
	ExtFP64          = "cl_khr_fp64"
	ExtUSM           = "cl_intel_unified_shared_memory"
	ExtPriorityHints = "cl_khr_priority_hints"
	ExtThrottleHints = "cl_khr_throttle_hints"
	ExtSubgroups     = "cl_intel_subgroups"
	ExtImageFromBuf  = "cl_khr_image2d_from_buffer"
)

// System is the set of platforms visible to the process.
type System struct {
	platforms []*Platform
}

// NewSystem creates a system exposing platforms in the given order.
func NewSystem(platforms ...*Platform) *System {
	return &System{platforms: slices.Clone(platforms)}
}

// Platforms returns the platforms in enumeration order.
func (s *System) Platforms() []*Platform {
	return slices.Clone(s.platforms)
}

var defaultSystem = sync.OnceValue(buildDefaultSystem)

// DefaultSystem returns the process-wide system: an Intel discrete and an
// integrated GPU exposed through both an OpenCL and a Level-Zero platform, a
// foreign-vendor GPU and the host CPU.
func DefaultSystem() *System {
	return defaultSystem()
}

const gib = 1 << 30

func intelGPUs() []*Device {
	gpuExt := []string{ExtFP16, ExtUSM, ExtPriorityHints, ExtThrottleHints, ExtSubgroups, ExtImageFromBuf}
	return []*Device{
		NewDevice(DeviceDesc{
			Name:             "Intel(R) Arc(TM) A770 Graphics",
			Vendor:           "Intel(R) Corporation",
			VendorID:         VendorIntel,
			Type:             DeviceTypeGPU,
			PCIBusID:         "0000:03:00.0",
			ComputeUnits:     512,
			ClockMHz:         2400,
			MaxWorkGroupSize: 1024,
			GlobalMemSize:    16 * gib,
			MaxMemAllocSize:  4 * gib,
			Extensions:       gpuExt,
			Queue:            QueueCapabilities{OutOfOrder: true, Profiling: true},
			USM:              USMCapabilities{Host: true, Shared: true, Device: true},
			ImageSupport:     true,
			Image2DMaxWidth:  16384,
			Image2DMaxHeight: 16384,
			FP16:             true,
			DriverVersion:    "24.35.30872",
		}),
		NewDevice(DeviceDesc{
			Name:             "Intel(R) UHD Graphics 770",
			Vendor:           "Intel(R) Corporation",
			VendorID:         VendorIntel,
			Type:             DeviceTypeGPU,
			PCIBusID:         "0000:00:02.0",
			IntegratedMemory: true,
			ComputeUnits:     32,
			ClockMHz:         1450,
			MaxWorkGroupSize: 512,
			GlobalMemSize:    8 * gib,
			MaxMemAllocSize:  2 * gib,
			Extensions:       gpuExt,
			Queue:            QueueCapabilities{OutOfOrder: true, Profiling: true},
			USM:              USMCapabilities{Host: true, Shared: true, Device: true},
			ImageSupport:     true,
			Image2DMaxWidth:  16384,
			Image2DMaxHeight: 16384,
			FP16:             true,
			DriverVersion:    "24.35.30872",
		}),
	}
}

func hostCPU() *Device {
	fp16 := cpu.X86.HasAVX2 || cpu.ARM64.HasFPHP
	ext := []string{ExtFP64}
	if fp16 {
		ext = append(ext, ExtFP16)
	}
	return NewDevice(DeviceDesc{
		Name:             "Host CPU (" + runtime.GOARCH + ")",
		Vendor:           "Intel(R) Corporation",
		VendorID:         VendorIntel,
		Type:             DeviceTypeCPU,
		ComputeUnits:     runtime.NumCPU(),
		MaxWorkGroupSize: 8192,
		GlobalMemSize:    32 * gib,
		Extensions:       ext,
		Queue:            QueueCapabilities{OutOfOrder: true, Profiling: true},
		FP16:             fp16,
		FP64:             true,
		DriverVersion:    runtime.Version(),
	})
}

func buildDefaultSystem() *System {
	foreign := NewDevice(DeviceDesc{
		Name:          "NVIDIA GeForce RTX 3060",
		Vendor:        "NVIDIA Corporation",
		VendorID:      VendorNVIDIA,
		Type:          DeviceTypeGPU,
		PCIBusID:      "0000:01:00.0",
		ComputeUnits:  28,
		GlobalMemSize: 12 * gib,
		Extensions:    []string{ExtFP16, ExtFP64},
		Queue:         QueueCapabilities{OutOfOrder: true, Profiling: true},
		FP16:          true,
		FP64:          true,
		DriverVersion: "550.54",
	})
	return NewSystem(
		NewPlatform("Intel(R) OpenCL Graphics", "Intel(R) Corporation", "OpenCL 3.0", RuntimeOpenCL, intelGPUs()...),
		NewPlatform("Intel(R) Level-Zero", "Intel(R) Corporation", "1.3", RuntimeLevelZero, intelGPUs()...),
		NewPlatform("NVIDIA CUDA", "NVIDIA Corporation", "OpenCL 3.0 CUDA", RuntimeOpenCL, foreign),
		NewPlatform("Intel(R) OpenCL", "Intel(R) Corporation", "OpenCL 3.0", RuntimeOpenCL, hostCPU()),
	)
}
