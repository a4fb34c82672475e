package sycl

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Engine is the SYCL engine. SYCL buffers are modelled as cl_mem objects;
// USM is used when available. Image layouts are not supported.
type Engine struct {
	*runtime.EngineBase
	device        *Device
	programStream *Stream
}

// NewEngine creates a SYCL engine over dev. The configured runtime must be
// the one the device was discovered on.
func NewEngine(dev runtime.Device, cfg runtime.EngineConfiguration, log *zap.Logger) (runtime.Engine, error) {
	d, ok := dev.(*Device)
	if !ok {
		return nil, fmt.Errorf("%w: device %T is not a sycl device", runtime.ErrInvalidArgument, dev)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rt := d.Info().Runtime; rt != cfg.Runtime {
		return nil, fmt.Errorf("%w: device runs on %s, configuration asks for %s", runtime.ErrInvalidArgument, rt, cfg.Runtime)
	}
	e := &Engine{
		EngineBase: runtime.NewEngineBase(runtime.EngineSYCL, d, d.Context(), d.Native(), cfg, log.Named("sycl")),
		device:     d,
	}
	e.Bind(e)

	ps, err := newStream(e)
	if err != nil {
		return nil, err
	}
	e.programStream = ps
	return e, nil
}

// DefaultAllocationType is cl_mem.
func (e *Engine) DefaultAllocationType() runtime.AllocationType {
	return runtime.AllocationCLMem
}

// AllocateMemory allocates a buffer or USM pointer for layout.
func (e *Engine) AllocateMemory(layout runtime.Layout, t runtime.AllocationType) (runtime.Memory, error) {
	if layout.Format.IsImage2D() {
		return nil, fmt.Errorf("%w: sycl engine has no image memory (%s)", runtime.ErrUnsupportedAllocation, layout)
	}
	if err := e.CheckAllocation(layout, t); err != nil {
		return nil, err
	}
	obj, err := e.AllocateNative(layout, t)
	if err != nil {
		return nil, runtime.WrapAllocation(fmt.Sprintf("allocate %s %s", t, layout), err)
	}
	return e.TrackAllocation(layout, t, obj), nil
}

// CreateStream creates a new SYCL queue.
func (e *Engine) CreateStream() (runtime.Stream, error) {
	return newStream(e)
}

// ProgramStream is the stream used for program builds and uploads.
func (e *Engine) ProgramStream() runtime.Stream {
	return e.programStream
}

// Close releases the program stream and closes the memory pool.
func (e *Engine) Close() error {
	err := e.programStream.Close()
	if cerr := e.CloseBase(); err == nil {
		err = cerr
	}
	return err
}

// Kernel is a SYCL kernel. Arguments are passed per submission, so clones
// share the native handle.
type Kernel struct {
	native *driver.Kernel
	id     string
}

// NewKernel wraps a native kernel built in the engine context.
func NewKernel(e runtime.Engine, k *driver.Kernel, id string) (runtime.Kernel, error) {
	if k.Program().Context() != e.UserContext() {
		return nil, fmt.Errorf("%w: kernel %s was built for another context", runtime.ErrInvalidArgument, id)
	}
	return &Kernel{native: k, id: id}, nil
}

func (k *Kernel) ID() string             { return k.id }
func (k *Kernel) Name() string           { return k.native.Name() }
func (k *Kernel) Native() *driver.Kernel { return k.native }

// Clone returns a kernel sharing the native handle.
func (k *Kernel) Clone() runtime.Kernel {
	return &Kernel{native: k.native, id: k.id}
}

func init() {
	runtime.RegisterBackend(runtime.Backend{
		Type:          runtime.EngineSYCL,
		NewEngine:     NewEngine,
		DetectDevices: DetectDevices,
		NewKernel:     NewKernel,
	})
}
