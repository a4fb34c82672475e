package driver

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// KernelFunc is the body of a kernel entry point. It is called once per
// launch with the arguments captured at enqueue time.
type KernelFunc func(nd NDRange, args []Arg) error

var registry = struct {
	mu      sync.RWMutex
	entries map[string]KernelFunc
}{entries: make(map[string]KernelFunc)}

// RegisterKernel makes an entry point available to BuildProgram. It panics
// on duplicate names.
func RegisterKernel(name string, fn KernelFunc) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.entries[name]; ok {
		panic(fmt.Sprintf("driver: kernel %q already registered", name))
	}
	registry.entries[name] = fn
}

// RegisteredKernels lists the known entry points, sorted.
func RegisteredKernels() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.entries))
	for name := range registry.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Arg is one kernel argument: a memory object or a scalar in little-endian
// encoding.
type Arg struct {
	Mem    MemObject
	Scalar []byte
}

// MemArg wraps a memory object as a kernel argument.
func MemArg(m MemObject) Arg { return Arg{Mem: m} }

// ScalarArg wraps raw little-endian scalar bytes.
func ScalarArg(b []byte) Arg { return Arg{Scalar: slices.Clone(b)} }

// Uint32Arg encodes v as a scalar argument.
func Uint32Arg(v uint32) Arg {
	return Arg{Scalar: binary.LittleEndian.AppendUint32(nil, v)}
}

func (a Arg) valid() bool { return a.Mem != nil || len(a.Scalar) > 0 }

// Uint32 decodes a scalar argument of at least four bytes.
func (a Arg) Uint32() (uint32, error) {
	if len(a.Scalar) < 4 {
		return 0, newError(InvalidArgValue, "scalar uint32")
	}
	return binary.LittleEndian.Uint32(a.Scalar), nil
}

// Float32 decodes a scalar argument of at least four bytes.
func (a Arg) Float32() (float32, error) {
	v, err := a.Uint32()
	return math.Float32frombits(v), err
}

// Program is a set of kernels built for a context.
type Program struct {
	ctx     *Context
	entries map[string]KernelFunc
}

// BuildProgram links the named entry points into a program. An unknown entry
// point is a build failure.
func (c *Context) BuildProgram(entries ...string) (*Program, error) {
	if len(entries) == 0 {
		return nil, newError(InvalidValue, "clBuildProgram")
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	p := &Program{ctx: c, entries: make(map[string]KernelFunc, len(entries))}
	for _, name := range entries {
		fn, ok := registry.entries[name]
		if !ok {
			return nil, &Error{Code: InvalidProgram, Op: "clBuildProgram", Err: fmt.Errorf("undefined entry point %q", name)}
		}
		p.entries[name] = fn
	}
	return p, nil
}

// Context returns the context the program was built for.
func (p *Program) Context() *Context { return p.ctx }

// EntryPoints lists the kernels of the program.
func (p *Program) EntryPoints() []string {
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var kernelIDs atomic.Uint64

// Kernel is an entry point with its argument table. The table is mutable, so
// a kernel must not be shared between goroutines setting arguments; use
// Clone.
type Kernel struct {
	id      uint64
	name    string
	fn      KernelFunc
	program *Program

	mu   sync.Mutex
	args []Arg
}

// CreateKernel instantiates the named entry point.
func (p *Program) CreateKernel(name string) (*Kernel, error) {
	fn, ok := p.entries[name]
	if !ok {
		return nil, &Error{Code: InvalidKernelName, Op: "clCreateKernel", Err: fmt.Errorf("%q", name)}
	}
	return &Kernel{id: kernelIDs.Add(1), name: name, fn: fn, program: p}, nil
}

// ID is the native handle of the kernel.
func (k *Kernel) ID() uint64 { return k.id }

// Name is the entry point name.
func (k *Kernel) Name() string { return k.name }

// Program returns the program the kernel belongs to.
func (k *Kernel) Program() *Program { return k.program }

// SetArg stores an argument in the kernel argument table.
func (k *Kernel) SetArg(index int, a Arg) error {
	const op = "clSetKernelArg"
	if index < 0 {
		return newError(InvalidArgIndex, op)
	}
	if !a.valid() {
		return newError(InvalidArgValue, op)
	}
	if a.Mem != nil && a.Mem.Context() != k.program.ctx {
		return &Error{Code: InvalidMemObject, Op: op, Err: fmt.Errorf("argument %d belongs to another context", index)}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if index >= len(k.args) {
		k.args = append(k.args, make([]Arg, index+1-len(k.args))...)
	}
	k.args[index] = a
	return nil
}

// Args returns a copy of the argument table; it fails if an index below the
// highest set one was left unset.
func (k *Kernel) Args() ([]Arg, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, a := range k.args {
		if !a.valid() {
			return nil, &Error{Code: InvalidKernelArgs, Op: "clEnqueueNDRangeKernel", Err: fmt.Errorf("argument %d of %s is not set", i, k.name)}
		}
	}
	return slices.Clone(k.args), nil
}

// Clone duplicates the kernel together with its current argument table.
func (k *Kernel) Clone() *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	return &Kernel{
		id:      kernelIDs.Add(1),
		name:    k.name,
		fn:      k.fn,
		program: k.program,
		args:    slices.Clone(k.args),
	}
}
