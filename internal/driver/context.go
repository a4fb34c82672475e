package driver

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

var contextIDs atomic.Uint64

// Context owns memory objects and programs for a set of devices of one
// platform.
type Context struct {
	id       uint64
	devices  []*Device
	released atomic.Bool

	mu        sync.Mutex
	allocated uint64
	live      int
}

// NewContext creates a context over devs. All devices must belong to the same
// platform.
func NewContext(devs ...*Device) (*Context, error) {
	if len(devs) == 0 {
		return nil, newError(InvalidValue, "clCreateContext")
	}
	for _, d := range devs[1:] {
		if d.platform != devs[0].platform {
			return nil, &Error{Code: InvalidDevice, Op: "clCreateContext", Err: fmt.Errorf("device %q belongs to another platform", d.Name())}
		}
	}
	if p := devs[0].platform; p != nil {
		p.contexts.Add(1)
	}
	return &Context{id: contextIDs.Add(1), devices: slices.Clone(devs)}, nil
}

// Release drops the context. Releasing twice is a no-op.
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if p := c.devices[0].platform; p != nil {
		p.contexts.Add(-1)
	}
}

// ID is the native handle of the context.
func (c *Context) ID() uint64 { return c.id }

// Devices returns the devices of the context.
func (c *Context) Devices() []*Device {
	return slices.Clone(c.devices)
}

// HasDevice reports whether d is part of the context.
func (c *Context) HasDevice(d *Device) bool {
	return slices.Contains(c.devices, d)
}

// AllocatedBytes returns the bytes held by live device allocations.
func (c *Context) AllocatedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated
}

// LiveObjects returns the number of memory objects not yet released.
func (c *Context) LiveObjects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Context) maxAlloc() (maxAlloc, global uint64) {
	for i, d := range c.devices {
		if i == 0 || d.desc.MaxMemAllocSize < maxAlloc {
			maxAlloc = d.desc.MaxMemAllocSize
		}
		if i == 0 || d.desc.GlobalMemSize < global {
			global = d.desc.GlobalMemSize
		}
	}
	return maxAlloc, global
}

func (c *Context) reserve(op string, size int) error {
	if size <= 0 {
		return newError(InvalidBufferSize, op)
	}
	maxAlloc, global := c.maxAlloc()
	if uint64(size) > maxAlloc {
		return &Error{Code: InvalidBufferSize, Op: op, Err: fmt.Errorf("%d bytes exceeds max allocation size %d", size, maxAlloc)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocated+uint64(size) > global {
		return &Error{Code: MemObjectAllocationFailure, Op: op, Err: fmt.Errorf("%d bytes requested, %d of %d in use", size, c.allocated, global)}
	}
	c.allocated += uint64(size)
	c.live++
	return nil
}

func (c *Context) free(size int, hostPtr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !hostPtr {
		c.allocated -= uint64(size)
	}
	c.live--
}

// CreateBuffer allocates a buffer of size bytes. With MemUseHostPtr the
// buffer aliases host and does not count against device memory.
func (c *Context) CreateBuffer(flags MemFlags, size int, host []byte) (*Buffer, error) {
	const op = "clCreateBuffer"
	b := &Buffer{Flags: flags}
	if flags&MemUseHostPtr != 0 {
		if len(host) == 0 || len(host) < size {
			return nil, newError(InvalidValue, op)
		}
		c.mu.Lock()
		c.live++
		c.mu.Unlock()
		b.init(c, MemBuffer, host[:size], true)
		return b, nil
	}
	if err := c.reserve(op, size); err != nil {
		return nil, err
	}
	b.init(c, MemBuffer, make([]byte, size), false)
	return b, nil
}

// USMKind selects the unified shared memory flavour.
type USMKind int

const (
	USMHost USMKind = iota
	USMShared
	USMDevice
)

func (k USMKind) String() string {
	return k.memKind().String()
}

func (k USMKind) memKind() MemKind {
	switch k {
	case USMHost:
		return MemUSMHost
	case USMShared:
		return MemUSMShared
	default:
		return MemUSMDevice
	}
}

// AllocUSM allocates a USM pointer of the given kind for dev.
func (c *Context) AllocUSM(kind USMKind, dev *Device, size int) (*USMAllocation, error) {
	const op = "clMemAllocINTEL"
	if !c.HasDevice(dev) {
		return nil, newError(InvalidDevice, op)
	}
	caps := dev.desc.USM
	supported := (kind == USMHost && caps.Host) || (kind == USMShared && caps.Shared) || (kind == USMDevice && caps.Device)
	if !supported {
		return nil, &Error{Code: InvalidOperation, Op: op, Err: fmt.Errorf("%s allocations are not supported by %q", kind, dev.Name())}
	}
	if err := c.reserve(op, size); err != nil {
		return nil, err
	}
	u := &USMAllocation{Device: dev}
	u.init(c, kind.memKind(), make([]byte, size), false)
	return u, nil
}

// CreateImage2D allocates a width x height image.
func (c *Context) CreateImage2D(format ImageFormat, width, height int) (*Image2D, error) {
	const op = "clCreateImage"
	for _, d := range c.devices {
		if !d.desc.ImageSupport {
			return nil, &Error{Code: InvalidOperation, Op: op, Err: fmt.Errorf("%q has no image support", d.Name())}
		}
		if width <= 0 || height <= 0 || width > d.desc.Image2DMaxWidth || height > d.desc.Image2DMaxHeight {
			return nil, &Error{Code: InvalidImageSize, Op: op, Err: fmt.Errorf("%dx%d", width, height)}
		}
	}
	size := width * height * format.PixelSize()
	if err := c.reserve(op, size); err != nil {
		return nil, err
	}
	img := &Image2D{Format: format, Width: width, Height: height}
	img.init(c, MemImage2D, make([]byte, size), false)
	return img, nil
}
