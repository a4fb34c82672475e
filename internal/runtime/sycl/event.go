package sycl

import (
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Event is a SYCL event. Every command submitted to a SYCL queue yields one.
type Event struct {
	runtime.BaseEvent
	native *driver.Event
}

func newEvent(ev *driver.Event) *Event {
	e := &Event{native: ev}
	e.Init(e)
	return e
}

// Native returns the underlying event.
func (e *Event) Native() *driver.Event { return e.native }

// WaitImpl waits and then reads the execution status, so a failed command
// is reported on every wait.
func (e *Event) WaitImpl() error {
	_ = e.native.Wait()
	if status := e.native.Status(); status < driver.StatusComplete {
		return fmt.Errorf("sycl command %s: %w", e.native.Command(), e.native.Err())
	}
	return nil
}

func (e *Event) IsSetImpl() bool {
	return e.native.Status() <= driver.StatusComplete
}

func (e *Event) ProfilingImpl() ([]runtime.ProfilingInterval, error) {
	p, err := e.native.Profiling()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", runtime.ErrInvalidArgument, err)
	}
	return runtime.IntervalsFromNative(p), nil
}

func (e *Event) NotifyImpl(fn func()) {
	e.native.SetCallback(func(error) { fn() })
}

// hostEvent is a host-controlled event.
type hostEvent struct {
	runtime.BaseEvent
	native *driver.Event
}

func newHostEvent(ctx *driver.Context, set bool) (*hostEvent, error) {
	e := &hostEvent{native: ctx.NewUserEvent()}
	e.Init(e)
	if set {
		if err := e.Set(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *hostEvent) Set() error {
	if err := e.native.SetStatus(driver.StatusComplete); err != nil {
		return fmt.Errorf("%w: %w", runtime.ErrInvalidArgument, err)
	}
	return nil
}

func (e *hostEvent) WaitImpl() error { return e.native.Wait() }

func (e *hostEvent) IsSetImpl() bool {
	return e.native.Status() <= driver.StatusComplete
}

func (e *hostEvent) ProfilingImpl() ([]runtime.ProfilingInterval, error) {
	return nil, fmt.Errorf("%w: host events carry no profiling information", runtime.ErrInvalidArgument)
}

func (e *hostEvent) NotifyImpl(fn func()) {
	e.native.SetCallback(func(error) { fn() })
}

// stampEvent is a pooled event set once the queue reached its stamp.
type stampEvent struct {
	runtime.BaseEvent
	queue *driver.Queue
	stamp uint64
}

func newStampEvent() *stampEvent {
	e := &stampEvent{}
	e.Init(e)
	return e
}

// WaitImpl returns at once for a reset event, which has no queue.
func (e *stampEvent) WaitImpl() error {
	if e.queue == nil {
		return nil
	}
	e.queue.WaitForStamp(e.stamp)
	return nil
}

func (e *stampEvent) IsSetImpl() bool {
	return e.queue == nil || e.queue.CompletedStamp() >= e.stamp
}

func (e *stampEvent) ProfilingImpl() ([]runtime.ProfilingInterval, error) {
	return nil, fmt.Errorf("%w: base events carry no profiling information", runtime.ErrInvalidArgument)
}

func (e *stampEvent) Reset() {
	e.BaseEvent.Reset()
	e.queue = nil
	e.stamp = 0
}

// dependencies lists the native events to wait for. A pending stamp event
// is replaced by a marker on its queue, which completes no earlier than the
// stamp.
func (s *Stream) dependencies(deps []runtime.Event) ([]*driver.Event, error) {
	var out []*driver.Event
	for _, dep := range deps {
		switch ev := dep.(type) {
		case *Event:
			out = append(out, ev.native)
		case *hostEvent:
			out = append(out, ev.native)
		case *stampEvent:
			if ev.queue == nil || ev.queue.CompletedStamp() >= ev.stamp {
				continue
			}
			m, err := ev.queue.EnqueueMarker(nil)
			if err != nil {
				return nil, runtime.WrapExecution(err)
			}
			out = append(out, m)
		case *runtime.MultiEvent:
			nested, err := s.dependencies(ev.Events())
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("%w: event %T was not created by the sycl backend", runtime.ErrInvalidArgument, dep)
		}
	}
	return out, nil
}
