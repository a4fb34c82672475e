package driver

import "sync/atomic"

// RuntimeKind identifies the native runtime a platform belongs to.
type RuntimeKind int

const (
	RuntimeOpenCL RuntimeKind = iota
	RuntimeLevelZero
)

func (k RuntimeKind) String() string {
	switch k {
	case RuntimeOpenCL:
		return "opencl"
	case RuntimeLevelZero:
		return "level_zero"
	default:
		return "unknown"
	}
}

// Platform groups the devices exposed by one native runtime installation.
type Platform struct {
	Name    string
	Vendor  string
	Version string
	Runtime RuntimeKind

	devices  []*Device
	contexts atomic.Int64
}

// NewPlatform creates a platform owning devs.
func NewPlatform(name, vendor, version string, kind RuntimeKind, devs ...*Device) *Platform {
	p := &Platform{Name: name, Vendor: vendor, Version: version, Runtime: kind}
	for _, d := range devs {
		d.platform = p
		p.devices = append(p.devices, d)
	}
	return p
}

// Devices returns the platform devices whose type intersects mask.
func (p *Platform) Devices(mask DeviceType) []*Device {
	var out []*Device
	for _, d := range p.devices {
		if d.desc.Type&mask != 0 {
			out = append(out, d)
		}
	}
	return out
}

// LiveContexts returns the number of contexts over the platform's devices
// that were not released.
func (p *Platform) LiveContexts() int { return int(p.contexts.Load()) }
