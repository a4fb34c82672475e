package runtime

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/metrics"
)

// Engine owns a device, its configuration and a memory pool. It allocates
// device memory and creates streams. Memories and streams keep pointers to
// their engine; the engine must outlive them.
type Engine interface {
	ID() string
	Type() EngineType
	RuntimeType() RuntimeType
	Configuration() EngineConfiguration
	Device() Device
	DeviceInfo() DeviceInfo
	MemoryPool() *MemoryPool
	UserContext() *driver.Context
	NativeDevice() *driver.Device
	Logger() *zap.Logger

	AllocateMemory(layout Layout, t AllocationType) (Memory, error)
	AllocateMemoryDefault(layout Layout) (Memory, error)
	GetMemoryFromPool(layout Layout, id PrimitiveID, networkID uint32, deps PrimitiveSet, t AllocationType, reusable bool) (Memory, error)
	AttachMemory(layout Layout, host []byte) (Memory, error)
	ReinterpretHandle(layout Layout, params SharedMemParams) (Memory, error)
	ReinterpretBuffer(mem Memory, layout Layout) (Memory, error)
	ShareBuffer(layout Layout, buf *driver.Buffer) (Memory, error)
	ShareUSM(layout Layout, usm *driver.USMAllocation) (Memory, error)
	ShareImage(layout Layout, img *driver.Image2D) (Memory, error)
	IsTheSameBuffer(a, b Memory) bool

	DefaultAllocationType() AllocationType
	LockablePreferredAllocationType(isImage bool) (AllocationType, error)
	SupportsAllocation(t AllocationType) bool
	UseUnifiedSharedMemory() bool
	MaxUsedDeviceMemory() uint64
	UsedDeviceMemory() uint64

	CreateStream() (Stream, error)
	ProgramStream() Stream
	Close() error
}

// EngineBase implements the backend independent part of Engine. Backends
// embed it, implement AllocateMemory, DefaultAllocationType, CreateStream,
// ProgramStream and Close, and call Bind once constructed.
type EngineBase struct {
	self   Engine
	id     string
	typ    EngineType
	device Device
	info   DeviceInfo
	caps   MemoryCapabilities
	ctx    *driver.Context
	dev    *driver.Device
	cfg    EngineConfiguration
	pool   *MemoryPool
	log    *zap.Logger
	useUSM bool
}

// NewEngineBase prepares the shared engine state for device dev running in
// the native context ctx.
func NewEngineBase(t EngineType, device Device, ctx *driver.Context, dev *driver.Device, cfg EngineConfiguration, log *zap.Logger) *EngineBase {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	info := device.Info()
	caps := device.MemoryCapabilities()
	return &EngineBase{
		id:     id,
		typ:    t,
		device: device,
		info:   info,
		caps:   caps,
		ctx:    ctx,
		dev:    dev,
		cfg:    cfg,
		log:    log.With(zap.String("engine_id", id), zap.String("backend", t.String()), zap.String("device", info.Name)),
		useUSM: caps.SupportsUSM() && cfg.UseUnifiedSharedMemory,
	}
}

// Bind attaches the embedding engine and creates its memory pool.
func (e *EngineBase) Bind(self Engine) {
	e.self = self
	e.pool = NewMemoryPool(self, e.log)
	e.log.Info("engine created",
		zap.String("runtime", e.cfg.Runtime.String()),
		zap.String("queue_type", e.cfg.QueueType.String()),
		zap.Bool("use_usm", e.useUSM),
		zap.Bool("use_memory_pool", e.cfg.UseMemoryPool))
}

func (e *EngineBase) ID() string                         { return e.id }
func (e *EngineBase) Type() EngineType                   { return e.typ }
func (e *EngineBase) RuntimeType() RuntimeType           { return e.cfg.Runtime }
func (e *EngineBase) Configuration() EngineConfiguration { return e.cfg }
func (e *EngineBase) Device() Device                     { return e.device }
func (e *EngineBase) DeviceInfo() DeviceInfo             { return e.info }
func (e *EngineBase) MemoryPool() *MemoryPool            { return e.pool }
func (e *EngineBase) UserContext() *driver.Context       { return e.ctx }
func (e *EngineBase) NativeDevice() *driver.Device       { return e.dev }
func (e *EngineBase) Logger() *zap.Logger                { return e.log }
func (e *EngineBase) UseUnifiedSharedMemory() bool       { return e.useUSM }
func (e *EngineBase) MaxUsedDeviceMemory() uint64        { return e.pool.MaxPeakMemoryUsed() }
func (e *EngineBase) UsedDeviceMemory() uint64           { return e.pool.TempMemoryUsed() }

// SupportsAllocation reports whether memory of type t can be allocated.
// USM types need both device support and USM enabled in the configuration.
func (e *EngineBase) SupportsAllocation(t AllocationType) bool {
	if t.IsUSM() && !e.useUSM {
		return false
	}
	return e.caps.SupportsAllocation(t)
}

// LockablePreferredAllocationType picks the type for memory the host will
// lock: the device default for images or without USM, otherwise usm_shared,
// then usm_host.
func (e *EngineBase) LockablePreferredAllocationType(isImage bool) (AllocationType, error) {
	if !e.useUSM || isImage {
		return e.self.DefaultAllocationType(), nil
	}
	for _, t := range []AllocationType{AllocationUSMShared, AllocationUSMHost} {
		if e.SupportsAllocation(t) {
			return t, nil
		}
	}
	return AllocationUnknown, ErrNoLockableAllocation
}

// AllocateMemoryDefault allocates with the lockable preferred type.
func (e *EngineBase) AllocateMemoryDefault(layout Layout) (Memory, error) {
	t, err := e.LockablePreferredAllocationType(layout.Format.IsImage2D())
	if err != nil {
		return nil, err
	}
	return e.self.AllocateMemory(layout, t)
}

// GetMemoryFromPool serves memory through the pool, or directly when
// pooling is disabled.
func (e *EngineBase) GetMemoryFromPool(layout Layout, id PrimitiveID, networkID uint32, deps PrimitiveSet, t AllocationType, reusable bool) (Memory, error) {
	if e.cfg.UseMemoryPool {
		return e.pool.GetMemory(layout, id, networkID, deps, t, reusable)
	}
	return e.pool.GetMemoryDirect(layout, t)
}

// CheckAllocation validates a request before the backend allocates.
func (e *EngineBase) CheckAllocation(layout Layout, t AllocationType) error {
	if !e.SupportsAllocation(t) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedAllocation, t, e.info.Name)
	}
	if layout.Format.IsImage2D() && t.IsUSM() {
		return fmt.Errorf("%w: image layout %s as %s", ErrUnsupportedAllocation, layout, t)
	}
	bytes := layout.BytesCount()
	if bytes == 0 {
		return fmt.Errorf("%w: empty layout %s", ErrAllocation, layout)
	}
	if bytes > e.info.MaxAllocMemSize {
		return fmt.Errorf("%w: %d bytes exceeds max allocation size %d", ErrAllocation, bytes, e.info.MaxAllocMemSize)
	}
	return nil
}

// AllocateNative creates the native object for layout and type t: a USM
// pointer, a 2D image for image layouts, or a buffer.
func (e *EngineBase) AllocateNative(layout Layout, t AllocationType) (driver.MemObject, error) {
	size := int(layout.BytesCount())
	switch t {
	case AllocationUSMHost:
		return e.ctx.AllocUSM(driver.USMHost, e.dev, size)
	case AllocationUSMShared:
		return e.ctx.AllocUSM(driver.USMShared, e.dev, size)
	case AllocationUSMDevice:
		return e.ctx.AllocUSM(driver.USMDevice, e.dev, size)
	}
	if layout.Format.IsImage2D() {
		w, h := layout.ImageSize()
		format := driver.ImageFormat{Order: driver.ChannelRGBA, Type: driver.ChannelFloat}
		if layout.DataType == DataF16 {
			format.Type = driver.ChannelHalfFloat
		}
		return e.ctx.CreateImage2D(format, w, h)
	}
	return e.ctx.CreateBuffer(driver.MemReadWrite, size, nil)
}

// TrackAllocation wraps a new native object into an accounted Memory.
func (e *EngineBase) TrackAllocation(layout Layout, t AllocationType, obj driver.MemObject) Memory {
	mem := NewNativeMemory(e.pool, layout, t, obj, false)
	metrics.Allocations.WithLabelValues(e.typ.String(), t.String()).Inc()
	e.log.Debug("allocated device memory",
		zap.String("layout", layout.String()),
		zap.String("alloc_type", t.String()),
		zap.Uint64("bytes", mem.Size()),
		zap.Uint64("used", e.pool.TempMemoryUsed()))
	return mem
}

// AttachMemory wraps host memory owned by the caller. It is not accounted.
func (e *EngineBase) AttachMemory(layout Layout, host []byte) (Memory, error) {
	need := layout.BytesCount()
	if uint64(len(host)) < need {
		return nil, fmt.Errorf("%w: %d host bytes for layout %s of %d bytes", ErrSizeOverflow, len(host), layout, need)
	}
	buf, err := e.ctx.CreateBuffer(driver.MemUseHostPtr|driver.MemReadWrite, int(need), host)
	if err != nil {
		return nil, WrapAllocation("attach memory", err)
	}
	return NewNativeMemory(e.pool, layout, AllocationCLMem, buf, true), nil
}

// ReinterpretHandle creates a view with layout over a shared native
// allocation of this engine's context.
func (e *EngineBase) ReinterpretHandle(layout Layout, params SharedMemParams) (Memory, error) {
	if params.Mem == nil {
		return nil, fmt.Errorf("%w: shared memory without a handle", ErrInvalidArgument)
	}
	if params.Mem.Context() != e.ctx {
		return nil, fmt.Errorf("%w: shared memory belongs to another context", ErrInvalidArgument)
	}
	if need := layout.BytesCount(); need > uint64(params.Mem.Size()) {
		return nil, fmt.Errorf("%w: layout %s needs %d bytes, allocation has %d", ErrSizeOverflow, layout, need, params.Mem.Size())
	}
	t := AllocationCLMem
	switch params.Mem.Kind() {
	case driver.MemUSMHost:
		t = AllocationUSMHost
	case driver.MemUSMShared:
		t = AllocationUSMShared
	case driver.MemUSMDevice:
		t = AllocationUSMDevice
	}
	params.Mem.Retain()
	return NewNativeMemory(e.pool, layout, t, params.Mem, true), nil
}

// ReinterpretBuffer creates a view with layout over the allocation of mem.
func (e *EngineBase) ReinterpretBuffer(mem Memory, layout Layout) (Memory, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: nil memory", ErrInvalidArgument)
	}
	view, err := e.self.ReinterpretHandle(layout, mem.SharedParams())
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ShareBuffer wraps an externally created buffer.
func (e *EngineBase) ShareBuffer(layout Layout, buf *driver.Buffer) (Memory, error) {
	return e.self.ReinterpretHandle(layout, SharedMemParams{Type: SharedMemBuffer, Context: e.ctx, Mem: buf})
}

// ShareUSM wraps an externally created USM allocation.
func (e *EngineBase) ShareUSM(layout Layout, usm *driver.USMAllocation) (Memory, error) {
	return e.self.ReinterpretHandle(layout, SharedMemParams{Type: SharedMemUSM, Context: e.ctx, Mem: usm})
}

// ShareImage wraps an externally created image.
func (e *EngineBase) ShareImage(layout Layout, img *driver.Image2D) (Memory, error) {
	if !layout.Format.IsImage2D() {
		return nil, fmt.Errorf("%w: layout %s is not an image", ErrInvalidArgument, layout)
	}
	return e.self.ReinterpretHandle(layout, SharedMemParams{Type: SharedMemImage, Context: e.ctx, Mem: img})
}

// IsTheSameBuffer reports whether a and b share one native allocation.
func (e *EngineBase) IsTheSameBuffer(a, b Memory) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Native().Handle() == b.Native().Handle()
}

// CloseBase closes the memory pool. Backends call it from Close.
func (e *EngineBase) CloseBase() error {
	e.pool.Close()
	e.log.Info("engine closed",
		zap.Uint64("peak_bytes", e.pool.MaxPeakMemoryUsed()),
		zap.Uint64("leaked_bytes", e.pool.TempMemoryUsed()))
	return nil
}
