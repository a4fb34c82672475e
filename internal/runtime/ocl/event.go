package ocl

import (
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

type stamped interface {
	onQueue() *driver.Queue
	queueStamp() uint64
}

// Event wraps a native event. It is returned for output commands and
// whenever the stream synchronizes with wait lists.
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

func (e *Event) onQueue() *driver.Queue { return e.native.Queue() }
func (e *Event) queueStamp() uint64     { return e.native.Stamp() }

func (e *Event) WaitImpl() error {
	return e.native.Wait()
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

// baseEvent is a recyclable event identified only by its queue stamp. It is
// set once every command up to the stamp finished.
type baseEvent struct {
	runtime.BaseEvent
	queue *driver.Queue
	stamp uint64
}

func newBaseEvent() *baseEvent {
	e := &baseEvent{}
	e.Init(e)
	return e
}

func (e *baseEvent) onQueue() *driver.Queue { return e.queue }
func (e *baseEvent) queueStamp() uint64     { return e.stamp }

// WaitImpl returns at once for a reset event, which has no queue.
func (e *baseEvent) WaitImpl() error {
	if e.queue == nil {
		return nil
	}
	e.queue.WaitForStamp(e.stamp)
	return nil
}

func (e *baseEvent) IsSetImpl() bool {
	return e.queue == nil || e.queue.CompletedStamp() >= e.stamp
}

func (e *baseEvent) ProfilingImpl() ([]runtime.ProfilingInterval, error) {
	return nil, fmt.Errorf("%w: profiling is only recorded for output events", runtime.ErrInvalidArgument)
}

func (e *baseEvent) Reset() {
	e.BaseEvent.Reset()
	e.queue = nil
	e.stamp = 0
}

// userEvent is completed by the host.
type userEvent struct {
	runtime.BaseEvent
	native *driver.Event
}

func newUserEvent(ctx *driver.Context, set bool) (*userEvent, error) {
	e := &userEvent{native: ctx.NewUserEvent()}
	e.Init(e)
	if set {
		if err := e.Set(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Set completes the event.
func (e *userEvent) Set() error {
	if err := e.native.SetStatus(driver.StatusComplete); err != nil {
		return fmt.Errorf("%w: %w", runtime.ErrInvalidArgument, err)
	}
	return nil
}


func (e *userEvent) WaitImpl() error { return e.native.Wait() }

func (e *userEvent) IsSetImpl() bool {
	return e.native.Status() <= driver.StatusComplete
}

func (e *userEvent) ProfilingImpl() ([]runtime.ProfilingInterval, error) {
	return nil, fmt.Errorf("%w: user events carry no profiling information", runtime.ErrInvalidArgument)
}

func (e *userEvent) NotifyImpl(fn func()) {
	e.native.SetCallback(func(error) { fn() })
}

// waitList collects the native events the queue must wait for. With
// covered set, commands of this stream's own queue are left to queue order
// and barriers; host events and commands of other queues are always listed.
// A pending base event of another queue becomes a marker on that queue.
func (s *Stream) waitList(deps []runtime.Event, covered bool) ([]*driver.Event, error) {
	var out []*driver.Event
	for _, dep := range deps {
		switch ev := dep.(type) {
		case *Event:
			if covered && ev.native.Queue() == s.queue {
				continue
			}
			out = append(out, ev.native)
		case *userEvent:
			out = append(out, ev.native)
		case *baseEvent:
			if ev.queue == nil || (covered && ev.queue == s.queue) || ev.queue.CompletedStamp() >= ev.stamp {
				continue
			}
			m, err := ev.queue.EnqueueMarker(nil)
			if err != nil {
				return nil, runtime.WrapExecution(err)
			}
			out = append(out, m)
		case *runtime.MultiEvent:
			nested, err := s.waitList(ev.Events(), covered)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("%w: event %T was not created by the ocl backend", runtime.ErrInvalidArgument, dep)
		}
	}
	return out, nil
}
