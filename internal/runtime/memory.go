package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// SharedMemType is the kind of native handle described by SharedMemParams.
type SharedMemType int

const (
	SharedMemBuffer SharedMemType = iota
	SharedMemUSM
	SharedMemImage
)

// SharedMemParams identifies a native allocation so it can be shared with
// other engines or external code.
type SharedMemParams struct {
	Type    SharedMemType
	Context *driver.Context
	Mem     driver.MemObject
}

// Memory is a reference-counted device allocation with a layout.
//
// A Memory keeps a non-owning pointer to the memory pool of the engine that
// allocated it; the engine must outlive its memories.
type Memory interface {
	Layout() Layout
	Size() uint64
	AllocationType() AllocationType
	IsReused() bool

	Retain()
	Release()
	RefCount() int

	Native() driver.MemObject
	SharedParams() SharedMemParams

	// Lock maps the memory for host access. Every Lock needs an Unlock.
	Lock(s Stream) ([]byte, error)
	Unlock(s Stream) error

	Fill(s Stream, pattern byte) (Event, error)
	CopyFrom(s Stream, src Memory) (Event, error)
	CopyFromHost(s Stream, data []byte, blocking bool) (Event, error)
	CopyToHost(s Stream, dst []byte, blocking bool) (Event, error)
}

// NativeStream is implemented by backend streams that run on a driver
// queue.
type NativeStream interface {
	Stream
	Queue() *driver.Queue
	WrapNative(ev *driver.Event) Event
}

func nativeStream(s Stream) (NativeStream, error) {
	ns, ok := s.(NativeStream)
	if !ok {
		return nil, fmt.Errorf("%w: stream %T has no native queue", ErrInvalidArgument, s)
	}
	return ns, nil
}

// NativeMemory is a Memory over a driver memory object.
type NativeMemory struct {
	pool      *MemoryPool
	layout    Layout
	bytes     uint64
	allocType AllocationType
	reused    bool
	obj       driver.MemObject
	refs      atomic.Int32

	mu        sync.Mutex
	lockCount int
	staging   []byte
}

// NewNativeMemory wraps obj, taking over one native reference. Memory that
// is not reused is accounted in pool until its last release.
func NewNativeMemory(pool *MemoryPool, layout Layout, t AllocationType, obj driver.MemObject, reused bool) *NativeMemory {
	m := &NativeMemory{
		pool:      pool,
		layout:    layout,
		bytes:     layout.BytesCount(),
		allocType: t,
		reused:    reused,
		obj:       obj,
	}
	m.refs.Store(1)
	if !reused && pool != nil {
		pool.AddMemoryUsed(m.bytes)
	}
	return m
}

func (m *NativeMemory) Layout() Layout                 { return m.layout }
func (m *NativeMemory) Size() uint64                   { return m.bytes }
func (m *NativeMemory) AllocationType() AllocationType { return m.allocType }
func (m *NativeMemory) IsReused() bool                 { return m.reused }
func (m *NativeMemory) Native() driver.MemObject       { return m.obj }
func (m *NativeMemory) RefCount() int                  { return int(m.refs.Load()) }
func (m *NativeMemory) Retain()                        { m.refs.Add(1) }

// Release drops a reference. The last release returns the bytes to the pool
// accounting and releases the native allocation.
func (m *NativeMemory) Release() {
	n := m.refs.Add(-1)
	if n < 0 {
		panic("runtime: memory released more times than retained")
	}
	if n > 0 {
		return
	}
	if !m.reused && m.pool != nil {
		m.pool.SubtractMemoryUsed(m.bytes)
	}
	m.obj.Release()
}

// SharedParams describes the native handle.
func (m *NativeMemory) SharedParams() SharedMemParams {
	p := SharedMemParams{Type: SharedMemBuffer, Context: m.obj.Context(), Mem: m.obj}
	switch m.obj.Kind() {
	case driver.MemImage2D:
		p.Type = SharedMemImage
	case driver.MemUSMHost, driver.MemUSMShared, driver.MemUSMDevice:
		p.Type = SharedMemUSM
	}
	return p
}

// Lock maps the memory. USM host and shared memory is returned directly
// without synchronization; device USM is staged through a host copy written
// back by the last Unlock; buffers and images wait for the stream.
func (m *NativeMemory) Lock(s Stream) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.allocType {
	case AllocationUSMHost, AllocationUSMShared:
		m.lockCount++
		return m.obj.Bytes()[:m.bytes], nil
	}

	ns, err := nativeStream(s)
	if err != nil {
		return nil, err
	}
	if m.allocType == AllocationUSMDevice {
		if m.lockCount == 0 {
			m.staging = make([]byte, m.bytes)
			if _, err := ns.Queue().EnqueueRead(m.obj, 0, m.staging, true, nil); err != nil {
				m.staging = nil
				return nil, WrapExecution(err)
			}
		}
		m.lockCount++
		return m.staging, nil
	}
	data, err := ns.Queue().EnqueueMap(m.obj, nil)
	if err != nil {
		return nil, WrapExecution(err)
	}
	m.lockCount++
	return data[:m.bytes], nil
}

// Unlock releases a Lock.
func (m *NativeMemory) Unlock(s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockCount == 0 {
		return fmt.Errorf("%w: unlock of memory that is not locked", ErrInvalidArgument)
	}
	m.lockCount--
	if m.lockCount > 0 || m.staging == nil {
		return nil
	}
	staging := m.staging
	m.staging = nil
	ns, err := nativeStream(s)
	if err != nil {
		return err
	}
	if _, err := ns.Queue().EnqueueWrite(m.obj, 0, staging, true, nil); err != nil {
		return WrapExecution(err)
	}
	return nil
}

// Fill sets every byte of the memory to pattern.
func (m *NativeMemory) Fill(s Stream, pattern byte) (Event, error) {
	ns, err := nativeStream(s)
	if err != nil {
		return nil, err
	}
	ev, err := ns.Queue().EnqueueFill(m.obj, []byte{pattern}, 0, int(m.bytes), nil)
	if err != nil {
		return nil, WrapExecution(err)
	}
	return ns.WrapNative(ev), nil
}

// CopyFrom copies the whole of src into the beginning of m.
func (m *NativeMemory) CopyFrom(s Stream, src Memory) (Event, error) {
	if src.Size() > m.bytes {
		return nil, fmt.Errorf("%w: copy of %d bytes into %d", ErrSizeOverflow, src.Size(), m.bytes)
	}
	ns, err := nativeStream(s)
	if err != nil {
		return nil, err
	}
	ev, err := ns.Queue().EnqueueCopy(src.Native(), m.obj, 0, 0, int(src.Size()), nil)
	if err != nil {
		return nil, WrapExecution(err)
	}
	return ns.WrapNative(ev), nil
}

// CopyFromHost writes data into the beginning of m.
func (m *NativeMemory) CopyFromHost(s Stream, data []byte, blocking bool) (Event, error) {
	if uint64(len(data)) > m.bytes {
		return nil, fmt.Errorf("%w: copy of %d bytes into %d", ErrSizeOverflow, len(data), m.bytes)
	}
	ns, err := nativeStream(s)
	if err != nil {
		return nil, err
	}
	ev, err := ns.Queue().EnqueueWrite(m.obj, 0, data, blocking, nil)
	if err != nil {
		return nil, WrapExecution(err)
	}
	return ns.WrapNative(ev), nil
}

// CopyToHost reads the first len(dst) bytes of m.
func (m *NativeMemory) CopyToHost(s Stream, dst []byte, blocking bool) (Event, error) {
	if uint64(len(dst)) > m.bytes {
		return nil, fmt.Errorf("%w: read of %d bytes from %d", ErrSizeOverflow, len(dst), m.bytes)
	}
	ns, err := nativeStream(s)
	if err != nil {
		return nil, err
	}
	ev, err := ns.Queue().EnqueueRead(m.obj, 0, dst, blocking, nil)
	if err != nil {
		return nil, WrapExecution(err)
	}
	return ns.WrapNative(ev), nil
}
