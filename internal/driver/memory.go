package driver

import (
	"sync/atomic"
)

// MemKind is the class of a memory object.
type MemKind int

const (
	MemBuffer MemKind = iota
	MemUSMHost
	MemUSMShared
	MemUSMDevice
	MemImage2D
)

func (k MemKind) String() string {
	switch k {
	case MemBuffer:
		return "buffer"
	case MemUSMHost:
		return "usm_host"
	case MemUSMShared:
		return "usm_shared"
	case MemUSMDevice:
		return "usm_device"
	case MemImage2D:
		return "image2d"
	default:
		return "unknown"
	}
}

// MemFlags are buffer creation flags.
type MemFlags uint32

const (
	MemReadWrite MemFlags = 1 << iota
	MemWriteOnly
	MemReadOnly
	MemUseHostPtr
)

// MemObject is a native memory object. Bytes exposes the device-side storage
// and is meant for kernel implementations; host code goes through queue
// commands.
type MemObject interface {
	Handle() uint64
	Kind() MemKind
	Size() int
	Context() *Context
	Bytes() []byte
	Retain()
	Release()
	RefCount() int
}

var memHandles atomic.Uint64

type memObject struct {
	handle  uint64
	kind    MemKind
	ctx     *Context
	data    []byte
	hostPtr bool
	refs    atomic.Int32
}

func (m *memObject) init(ctx *Context, kind MemKind, data []byte, hostPtr bool) {
	m.handle = memHandles.Add(1)
	m.kind = kind
	m.ctx = ctx
	m.data = data
	m.hostPtr = hostPtr
	m.refs.Store(1)
}

func (m *memObject) Handle() uint64    { return m.handle }
func (m *memObject) Kind() MemKind     { return m.kind }
func (m *memObject) Size() int         { return len(m.data) }
func (m *memObject) Context() *Context { return m.ctx }
func (m *memObject) Bytes() []byte     { return m.data }
func (m *memObject) RefCount() int     { return int(m.refs.Load()) }
func (m *memObject) Retain()           { m.refs.Add(1) }

// Release drops one reference; the storage goes back to the context when the
// count reaches zero.
func (m *memObject) Release() {
	n := m.refs.Add(-1)
	if n < 0 {
		panic("driver: memory object released more times than retained")
	}
	if n == 0 {
		m.ctx.free(len(m.data), m.hostPtr)
	}
}

// Buffer is a linear device buffer (cl_mem).
type Buffer struct {
	memObject
	Flags MemFlags
}

// USMAllocation is a unified shared memory pointer.
type USMAllocation struct {
	memObject
	Device *Device
}

// ChannelOrder and ChannelType describe image pixels.
type (
	ChannelOrder int
	ChannelType  int
)

const (
	ChannelR ChannelOrder = iota
	ChannelRGBA
)

const (
	ChannelFloat ChannelType = iota
	ChannelHalfFloat
	ChannelUnormInt8
)

// ImageFormat is the pixel format of an image.
type ImageFormat struct {
	Order ChannelOrder
	Type  ChannelType
}

// PixelSize returns the number of bytes of one pixel.
func (f ImageFormat) PixelSize() int {
	channels := 1
	if f.Order == ChannelRGBA {
		channels = 4
	}
	switch f.Type {
	case ChannelHalfFloat:
		return channels * 2
	case ChannelUnormInt8:
		return channels
	default:
		return channels * 4
	}
}

// Image2D is a two-dimensional image object.
type Image2D struct {
	memObject
	Format ImageFormat
	Width  int
	Height int
}
