package driver

import (
	"fmt"
	"sync"
	"time"
)

// Command execution states, as in CL_COMMAND_*. Negative values are errors.
const (
	StatusComplete  int32 = 0
	StatusRunning   int32 = 1
	StatusSubmitted int32 = 2
	StatusQueued    int32 = 3
)

// Profiling holds the device timestamps of a finished command.
type Profiling struct {
	Queued time.Time
	Submit time.Time
	Start  time.Time
	End    time.Time
}

// Event tracks one enqueued command, or a user-controlled condition.
type Event struct {
	queue   *Queue
	stamp   uint64
	command string

	mu        sync.Mutex
	status    int32
	err       error
	done      chan struct{}
	prof      Profiling
	callbacks []func(error)
}

func newEvent(q *Queue, stamp uint64, command string) *Event {
	return &Event{
		queue:   q,
		stamp:   stamp,
		command: command,
		status:  StatusQueued,
		done:    make(chan struct{}),
	}
}

// NewUserEvent creates an event whose completion is controlled with
// SetStatus.
func (c *Context) NewUserEvent() *Event {
	return &Event{command: "user", status: StatusSubmitted, done: make(chan struct{})}
}

// Queue returns the queue that issued the event, nil for user events.
func (e *Event) Queue() *Queue { return e.queue }

// Stamp is the position of the command in its queue.
func (e *Event) Stamp() uint64 { return e.stamp }

// Command names the command that produced the event.
func (e *Event) Command() string { return e.command }

// Status returns the execution status; a negative value is an error code.
func (e *Event) Status() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Done is closed once the command has finished, successfully or not.
func (e *Event) Done() <-chan struct{} { return e.done }

// Err returns the command error once it has finished.
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Wait flushes the issuing queue and blocks until the command finished.
func (e *Event) Wait() error {
	if e.queue != nil {
		e.queue.Flush()
	}
	<-e.done
	return e.Err()
}

// SetCallback registers fn to run on completion. A finished event runs fn
// immediately on the calling goroutine.
func (e *Event) SetCallback(fn func(error)) {
	e.mu.Lock()
	if e.status <= StatusComplete {
		err := e.err
		e.mu.Unlock()
		fn(err)
		return
	}
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}

// Profiling returns the command timestamps. It fails when the queue was
// created without profiling or the command has not finished.
func (e *Event) Profiling() (Profiling, error) {
	const op = "clGetEventProfilingInfo"
	if e.queue == nil || !e.queue.props.Profiling {
		return Profiling{}, newError(ProfilingInfoNotAvailable, op)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusComplete {
		return Profiling{}, newError(ProfilingInfoNotAvailable, op)
	}
	return e.prof, nil
}

// SetStatus completes a user event. status must be StatusComplete or a
// negative error code.
func (e *Event) SetStatus(status int32) error {
	const op = "clSetUserEventStatus"
	if e.queue != nil || status > StatusComplete {
		return newError(InvalidValue, op)
	}
	e.mu.Lock()
	finished := e.status <= StatusComplete
	e.mu.Unlock()
	if finished {
		return newError(InvalidOperation, op)
	}
	var err error
	if status < StatusComplete {
		err = newError(int(status), "user event")
	}
	e.complete(err)
	return nil
}

func (e *Event) mark(status int32, at *time.Time, profile bool) {
	e.mu.Lock()
	e.status = status
	if profile {
		*at = time.Now()
	}
	e.mu.Unlock()
}

func (e *Event) complete(err error) {
	e.mu.Lock()
	if e.status <= StatusComplete {
		e.mu.Unlock()
		return
	}
	if e.queue != nil && e.queue.props.Profiling {
		e.prof.End = time.Now()
		if e.prof.Start.IsZero() {
			e.prof.Start = e.prof.End
		}
	}
	e.err = err
	if err != nil {
		code := int32(StatusOf(err))
		if code >= 0 {
			code = KernelExecutionFailed
		}
		e.status = code
	} else {
		e.status = StatusComplete
	}
	callbacks := e.callbacks
	e.callbacks = nil
	close(e.done)
	e.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("event(%s #%d)", e.command, e.stamp)
}
