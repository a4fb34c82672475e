package ocl

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Engine is the OpenCL engine. Buffers are cl_mem objects, image layouts are
// backed by 2D images and USM is used when the device and configuration
// allow it.
type Engine struct {
	*runtime.EngineBase
	device        *Device
	programStream *Stream
}

// NewEngine creates an OpenCL engine over dev, which must come from this
// backend's device detection.
func NewEngine(dev runtime.Device, cfg runtime.EngineConfiguration, log *zap.Logger) (runtime.Engine, error) {
	d, ok := dev.(*Device)
	if !ok {
		return nil, fmt.Errorf("%w: device %T is not an ocl device", runtime.ErrInvalidArgument, dev)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Runtime != runtime.RuntimeOCL {
		return nil, fmt.Errorf("%w: ocl engine supports only the ocl runtime, got %s", runtime.ErrInvalidArgument, cfg.Runtime)
	}
	e := &Engine{
		EngineBase: runtime.NewEngineBase(runtime.EngineOCL, d, d.Context(), d.Native(), cfg, log.Named("ocl")),
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

// AllocateMemory allocates a buffer, image or USM pointer for layout.
func (e *Engine) AllocateMemory(layout runtime.Layout, t runtime.AllocationType) (runtime.Memory, error) {
	if err := e.CheckAllocation(layout, t); err != nil {
		return nil, err
	}
	if layout.Format.IsImage2D() && !e.DeviceInfo().SupportsImage {
		return nil, fmt.Errorf("%w: image layout %s on a device without images", runtime.ErrUnsupportedAllocation, layout)
	}
	obj, err := e.AllocateNative(layout, t)
	if err != nil {
		return nil, runtime.WrapAllocation(fmt.Sprintf("allocate %s %s", t, layout), err)
	}
	return e.TrackAllocation(layout, t, obj), nil
}

// ExtensionSupported reports whether the device advertises ext.
func (e *Engine) ExtensionSupported(ext string) bool {
	return e.device.Native().HasExtension(ext)
}

// CreateStream creates a new command queue.
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

// Kernel is an OpenCL kernel. Its argument table lives in the native kernel,
// so concurrent streams need clones.
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

// Clone duplicates the native kernel and its argument table.
func (k *Kernel) Clone() runtime.Kernel {
	return &Kernel{native: k.native.Clone(), id: k.id}
}

func init() {
	runtime.RegisterBackend(runtime.Backend{
		Type:          runtime.EngineOCL,
		NewEngine:     NewEngine,
		DetectDevices: DetectDevices,
		NewKernel:     NewKernel,
	})
}
