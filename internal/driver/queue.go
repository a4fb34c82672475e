package driver

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// QueuePriority and QueueThrottle are the cl_khr_priority_hints and
// cl_khr_throttle_hints queue properties.
type (
	QueuePriority int
	QueueThrottle int
)

const (
	PriorityDefault QueuePriority = iota
	PriorityLow
	PriorityMed
	PriorityHigh
)

const (
	ThrottleDefault QueueThrottle = iota
	ThrottleLow
	ThrottleMed
	ThrottleHigh
)

// QueueProperties configure a command queue.
type QueueProperties struct {
	OutOfOrder bool
	Profiling  bool
	Priority   QueuePriority
	Throttle   QueueThrottle
	// Threads is the number of host workers per kernel launch; 0 means
	// GOMAXPROCS.
	Threads    int
}

type commandKind int

const (
	cmdWork commandKind = iota
	cmdMarker
	cmdBarrier
)

type command struct {
	ev   *Event
	deps []*Event
	run  func() error
}

var queueIDs atomic.Uint64

// Queue is a command queue. Commands are held until Flush (an event wait
// flushes implicitly). An in-order queue executes them one at a time on a
// worker goroutine; an out-of-order queue runs each command on its own
// goroutine once its wait list and the last barrier are complete.
type Queue struct {
	id    uint64
	ctx   *Context
	dev   *Device
	props QueueProperties

	mu      sync.Mutex
	cond    *sync.Cond
	stamp   uint64
	done    uint64
	early   map[uint64]struct{}
	pending []*command
	ready   []*command
	barrier *Event
	active  []*Event
	errs    []error
	closed  bool
}

// NewQueue creates a command queue for dev.
func NewQueue(ctx *Context, dev *Device, props QueueProperties) (*Queue, error) {
	const op = "clCreateCommandQueueWithProperties"
	if !ctx.HasDevice(dev) {
		return nil, newError(InvalidDevice, op)
	}
	caps := dev.desc.Queue
	switch {
	case dev.desc.Unavailable:
		return nil, newError(DeviceNotAvailable, op)
	case props.OutOfOrder && !caps.OutOfOrder:
		return nil, &Error{Code: InvalidQueueProperties, Op: op, Err: fmt.Errorf("out-of-order execution not supported")}
	case props.Profiling && !caps.Profiling:
		return nil, &Error{Code: InvalidQueueProperties, Op: op, Err: fmt.Errorf("profiling not supported")}
	case props.Priority != PriorityDefault && !dev.HasExtension(ExtPriorityHints):
		return nil, &Error{Code: InvalidQueueProperties, Op: op, Err: fmt.Errorf("%s not supported", ExtPriorityHints)}
	case props.Throttle != ThrottleDefault && !dev.HasExtension(ExtThrottleHints):
		return nil, &Error{Code: InvalidQueueProperties, Op: op, Err: fmt.Errorf("%s not supported", ExtThrottleHints)}
	}
	q := &Queue{
		id:    queueIDs.Add(1),
		ctx:   ctx,
		dev:   dev,
		props: props,
		early: make(map[uint64]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	if !props.OutOfOrder {
		go q.worker()
	}
	return q, nil
}

func (q *Queue) ID() uint64                  { return q.id }
func (q *Queue) Context() *Context           { return q.ctx }
func (q *Queue) Device() *Device             { return q.dev }
func (q *Queue) Properties() QueueProperties { return q.props }

// LastStamp is the stamp of the most recently enqueued command.
func (q *Queue) LastStamp() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stamp
}

// CompletedStamp is the highest stamp s such that every command up to s has
// finished.
func (q *Queue) CompletedStamp() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

func (q *Queue) enqueue(op string, kind commandKind, waits []*Event, run func() error) (*Event, error) {
	for _, w := range waits {
		if w == nil {
			return nil, newError(InvalidEventWaitList, op)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, &Error{Code: InvalidOperation, Op: op, Err: fmt.Errorf("queue released")}
	}
	q.stamp++
	ev := newEvent(q, q.stamp, op)
	if q.props.Profiling {
		ev.prof.Queued = time.Now()
	}

	deps := slices.Clone(waits)
	if q.props.OutOfOrder {
		if q.barrier != nil {
			deps = append(deps, q.barrier)
		}
		if kind != cmdWork && len(waits) == 0 {
			q.active = slices.DeleteFunc(q.active, func(e *Event) bool { return e.Status() <= StatusComplete })
			deps = append(deps, q.active...)
		}
		if kind == cmdBarrier {
			q.barrier = ev
			q.active = nil
		} else {
			q.active = append(q.active, ev)
		}
	}
	q.pending = append(q.pending, &command{ev: ev, deps: deps, run: run})
	return ev, nil
}

// Flush submits every pending command for execution.
func (q *Queue) Flush() {
	q.mu.Lock()
	cmds := q.pending
	q.pending = nil
	if !q.props.OutOfOrder {
		q.ready = append(q.ready, cmds...)
		q.cond.Broadcast()
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	for _, c := range cmds {
		go q.execute(c)
	}
}

// Finish flushes the queue and blocks until every command enqueued so far
// has finished. It returns the execution errors raised since the previous
// Finish.
func (q *Queue) Finish() error {
	q.Flush()
	q.mu.Lock()
	target := q.stamp
	for q.done < target {
		q.cond.Wait()
	}
	errs := q.errs
	q.errs = nil
	q.mu.Unlock()
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// WaitForStamp blocks until the command with the given stamp and every
// command before it have finished.
func (q *Queue) WaitForStamp(stamp uint64) {
	q.Flush()
	q.mu.Lock()
	defer q.mu.Unlock()
	stamp = min(stamp, q.stamp)
	for q.done < stamp {
		q.cond.Wait()
	}
}

// Release finishes outstanding work and stops the queue.
func (q *Queue) Release() error {
	err := q.Finish()
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return err
}

func (q *Queue) worker() {
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ready) == 0 {
			q.mu.Unlock()
			return
		}
		c := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()
		q.execute(c)
	}
}

func (q *Queue) execute(c *command) {
	ev := c.ev
	profile := q.props.Profiling
	ev.mark(StatusSubmitted, &ev.prof.Submit, profile)

	var err error
	for _, dep := range c.deps {
		if derr := dep.Wait(); derr != nil {
			err = &Error{Code: ExecStatusErrorForEventsInWaitList, Op: ev.command, Err: derr}
			break
		}
	}
	if err == nil {
		ev.mark(StatusRunning, &ev.prof.Start, profile)
		err = runGuarded(ev.command, c.run)
	}
	ev.complete(err)

	q.mu.Lock()
	if err != nil {
		q.errs = append(q.errs, err)
	}
	q.early[ev.stamp] = struct{}{}
	for {
		if _, ok := q.early[q.done+1]; !ok {
			break
		}
		delete(q.early, q.done+1)
		q.done++
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

func runGuarded(op string, run func() error) (err error) {
	if run == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Code: KernelExecutionFailed, Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := run(); err != nil {
		var de *Error
		if errors.As(err, &de) {
			return err
		}
		return &Error{Code: KernelExecutionFailed, Op: op, Err: err}
	}
	return nil
}
