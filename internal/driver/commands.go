package driver

import (
	"fmt"
	"slices"
)

// EnqueueNDRange launches k with the arguments currently set on it. The
// argument table is captured at enqueue time.
func (q *Queue) EnqueueNDRange(k *Kernel, nd NDRange, waits []*Event) (*Event, error) {
	args, err := k.Args()
	if err != nil {
		return nil, err
	}
	return q.EnqueueKernel(k, nd, args, waits)
}

// EnqueueKernel launches k with explicit arguments, leaving the kernel
// argument table untouched.
func (q *Queue) EnqueueKernel(k *Kernel, nd NDRange, args []Arg, waits []*Event) (*Event, error) {
	const op = "clEnqueueNDRangeKernel"
	if k.program.ctx != q.ctx {
		return nil, &Error{Code: InvalidContext, Op: op, Err: fmt.Errorf("kernel %s built for another context", k.name)}
	}
	if nd.LocalSize() > q.dev.desc.MaxWorkGroupSize {
		return nil, &Error{Code: InvalidWorkGroupSize, Op: op, Err: fmt.Errorf("%d work items per group, device limit %d", nd.LocalSize(), q.dev.desc.MaxWorkGroupSize)}
	}
	for i, a := range args {
		if !a.valid() {
			return nil, &Error{Code: InvalidKernelArgs, Op: op, Err: fmt.Errorf("argument %d of %s is not set", i, k.name)}
		}
		if a.Mem != nil && a.Mem.Context() != q.ctx {
			return nil, &Error{Code: InvalidMemObject, Op: op, Err: fmt.Errorf("argument %d belongs to another context", i)}
		}
	}
	args = slices.Clone(args)
	if q.props.Threads > 0 {
		nd.Workers = q.props.Threads
	}
	fn := k.fn
	return q.enqueue(k.name, cmdWork, waits, func() error {
		return fn(nd, args)
	})
}

// EnqueueMarker returns an event that completes when waits complete, or,
// with an empty wait list, when every previously enqueued command completes.
func (q *Queue) EnqueueMarker(waits []*Event) (*Event, error) {
	return q.enqueue("clEnqueueMarkerWithWaitList", cmdMarker, waits, nil)
}

// EnqueueBarrier is EnqueueMarker that additionally blocks every later
// command of the queue until it completes.
func (q *Queue) EnqueueBarrier(waits []*Event) (*Event, error) {
	return q.enqueue("clEnqueueBarrierWithWaitList", cmdBarrier, waits, nil)
}

func checkRange(op string, q *Queue, m MemObject, offset, size int) error {
	if m == nil {
		return newError(InvalidMemObject, op)
	}
	if m.Context() != q.ctx {
		return &Error{Code: InvalidContext, Op: op, Err: fmt.Errorf("memory object belongs to another context")}
	}
	if offset < 0 || size < 0 || offset+size > m.Size() {
		return &Error{Code: InvalidValue, Op: op, Err: fmt.Errorf("range [%d, %d) outside of %d bytes", offset, offset+size, m.Size())}
	}
	return nil
}

func (q *Queue) finishBlocking(ev *Event, blocking bool) (*Event, error) {
	if !blocking {
		return ev, nil
	}
	if err := ev.Wait(); err != nil {
		return ev, err
	}
	return ev, nil
}

// EnqueueWrite copies src into m at offset. src must stay valid until the
// returned event completes.
func (q *Queue) EnqueueWrite(m MemObject, offset int, src []byte, blocking bool, waits []*Event) (*Event, error) {
	const op = "clEnqueueWriteBuffer"
	if err := checkRange(op, q, m, offset, len(src)); err != nil {
		return nil, err
	}
	ev, err := q.enqueue(op, cmdWork, waits, func() error {
		copy(m.Bytes()[offset:], src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.finishBlocking(ev, blocking)
}

// EnqueueRead copies len(dst) bytes of m starting at offset into dst.
func (q *Queue) EnqueueRead(m MemObject, offset int, dst []byte, blocking bool, waits []*Event) (*Event, error) {
	const op = "clEnqueueReadBuffer"
	if err := checkRange(op, q, m, offset, len(dst)); err != nil {
		return nil, err
	}
	ev, err := q.enqueue(op, cmdWork, waits, func() error {
		copy(dst, m.Bytes()[offset:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.finishBlocking(ev, blocking)
}

// EnqueueCopy copies size bytes between two memory objects.
func (q *Queue) EnqueueCopy(src, dst MemObject, srcOffset, dstOffset, size int, waits []*Event) (*Event, error) {
	const op = "clEnqueueCopyBuffer"
	if err := checkRange(op, q, src, srcOffset, size); err != nil {
		return nil, err
	}
	if err := checkRange(op, q, dst, dstOffset, size); err != nil {
		return nil, err
	}
	return q.enqueue(op, cmdWork, waits, func() error {
		copy(dst.Bytes()[dstOffset:dstOffset+size], src.Bytes()[srcOffset:srcOffset+size])
		return nil
	})
}

// EnqueueFill repeats pattern over size bytes of m starting at offset. size
// must be a multiple of the pattern length.
func (q *Queue) EnqueueFill(m MemObject, pattern []byte, offset, size int, waits []*Event) (*Event, error) {
	const op = "clEnqueueFillBuffer"
	if len(pattern) == 0 || size%len(pattern) != 0 {
		return nil, &Error{Code: InvalidValue, Op: op, Err: fmt.Errorf("pattern of %d bytes over %d bytes", len(pattern), size)}
	}
	if err := checkRange(op, q, m, offset, size); err != nil {
		return nil, err
	}
	pattern = slices.Clone(pattern)
	return q.enqueue(op, cmdWork, waits, func() error {
		buf := m.Bytes()[offset : offset+size]
		for i := 0; i < size; i += len(pattern) {
			copy(buf[i:], pattern)
		}
		return nil
	})
}

// EnqueueMap blocks until the commands in waits (or, with an empty wait
// list, every previously enqueued command) completed and returns the host
// view of m.
func (q *Queue) EnqueueMap(m MemObject, waits []*Event) ([]byte, error) {
	const op = "clEnqueueMapBuffer"
	if m == nil {
		return nil, newError(InvalidMemObject, op)
	}
	if err := checkRange(op, q, m, 0, m.Size()); err != nil {
		return nil, err
	}
	ev, err := q.EnqueueMarker(waits)
	if err != nil {
		return nil, err
	}
	if err := ev.Wait(); err != nil {
		return nil, err
	}
	return m.Bytes(), nil
}
