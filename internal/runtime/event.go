package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// ProfilingInterval is the duration of one execution stage of a command.
type ProfilingInterval struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Profiling stage names.
const (
	StageSubmission = "submission"
	StageStarting   = "starting"
	StageExecuting  = "executing"
)

// IntervalsFromNative converts native timestamps into stage durations.
func IntervalsFromNative(p driver.Profiling) []ProfilingInterval {
	return []ProfilingInterval{
		{Stage: StageSubmission, Duration: p.Submit.Sub(p.Queued)},
		{Stage: StageStarting, Duration: p.Start.Sub(p.Submit)},
		{Stage: StageExecuting, Duration: p.End.Sub(p.Start)},
	}
}

// Event is a completion handle returned by stream operations.
type Event interface {
	// Wait blocks until the event is complete and reports its execution
	// status. It asks the backend again on every call.
	Wait() error
	IsSet() bool
	// AddEventHandler registers fn to run once the event is set; a set
	// event runs fn immediately.
	AddEventHandler(fn func(Event))
	ProfilingInfo() ([]ProfilingInterval, error)
	Reset()
}

// UserEvent is an event completed by the host.
type UserEvent interface {
	Event
	Set() error
}

// EventImpl is the backend half of an event built on BaseEvent.
type EventImpl interface {
	WaitImpl() error
	IsSetImpl() bool
	ProfilingImpl() ([]ProfilingInterval, error)
}

// EventNotifier is implemented by backend events that can call back on
// completion without being waited on.
type EventNotifier interface {
	NotifyImpl(fn func())
}

// BaseEvent holds the state shared by every backend event: the set flag and
// the pending handlers. Backends embed it and call Init.
type BaseEvent struct {
	self interface {
		Event
		EventImpl
	}

	mu        sync.Mutex
	set       bool
	handlers  []func(Event)
	notifying bool
}

// Init binds the embedding event.
func (e *BaseEvent) Init(self interface {
	Event
	EventImpl
}) {
	e.self = self
}

// Wait calls the backend wait even when the event was already seen set, so
// a late execution error is never lost.
func (e *BaseEvent) Wait() error {
	if err := e.self.WaitImpl(); err != nil {
		return WrapExecution(err)
	}
	e.markSet()
	return nil
}

// IsSet polls the backend without blocking.
func (e *BaseEvent) IsSet() bool {
	e.mu.Lock()
	set := e.set
	e.mu.Unlock()
	if set {
		return true
	}
	if !e.self.IsSetImpl() {
		return false
	}
	e.markSet()
	return true
}

// AddEventHandler registers fn.
func (e *BaseEvent) AddEventHandler(fn func(Event)) {
	if e.IsSet() {
		fn(e.self)
		return
	}
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		fn(e.self)
		return
	}
	e.handlers = append(e.handlers, fn)
	notify := !e.notifying
	e.notifying = true
	e.mu.Unlock()
	if n, ok := e.self.(EventNotifier); ok && notify {
		n.NotifyImpl(e.markSet)
	}
}

// ProfilingInfo returns the stage durations of the command.
func (e *BaseEvent) ProfilingInfo() ([]ProfilingInterval, error) {
	return e.self.ProfilingImpl()
}

// Reset clears the set flag and the handlers so the event can be recycled.
func (e *BaseEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = false
	e.handlers = nil
	e.notifying = false
}

func (e *BaseEvent) markSet() {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return
	}
	e.set = true
	handlers := e.handlers
	e.handlers = nil
	e.mu.Unlock()
	for _, fn := range handlers {
		fn(e.self)
	}
}

// MultiEvent completes when all of its events complete.
type MultiEvent struct {
	BaseEvent
	events []Event
}

// NewMultiEvent groups events.
func NewMultiEvent(events []Event) *MultiEvent {
	m := &MultiEvent{events: append([]Event(nil), events...)}
	m.Init(m)
	return m
}

// Events returns the grouped events.
func (m *MultiEvent) Events() []Event {
	return append([]Event(nil), m.events...)
}

func (m *MultiEvent) WaitImpl() error {
	var errs []error
	for _, ev := range m.events {
		if err := ev.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiEvent) IsSetImpl() bool {
	for _, ev := range m.events {
		if !ev.IsSet() {
			return false
		}
	}
	return true
}

// ProfilingImpl sums the stage durations of the grouped events.
func (m *MultiEvent) ProfilingImpl() ([]ProfilingInterval, error) {
	var out []ProfilingInterval
	index := make(map[string]int)
	for _, ev := range m.events {
		intervals, err := ev.ProfilingInfo()
		if err != nil {
			return nil, err
		}
		for _, iv := range intervals {
			i, ok := index[iv.Stage]
			if !ok {
				index[iv.Stage] = len(out)
				out = append(out, iv)
				continue
			}
			out[i].Duration += iv.Duration
		}
	}
	return out, nil
}

// Resettable is an event that can be recycled by an EventsPool.
type Resettable interface {
	Reset()
}

// EventsPool recycles events between ResetEvents calls.
type EventsPool[T Resettable] struct {
	mu    sync.Mutex
	alloc func() T
	all   []T
	next  int
}

// NewEventsPool creates a pool that allocates with alloc.
func NewEventsPool[T Resettable](alloc func() T) *EventsPool[T] {
	return &EventsPool[T]{alloc: alloc}
}

// Get returns a recycled event or a new one.
func (p *EventsPool[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next < len(p.all) {
		ev := p.all[p.next]
		p.next++
		return ev
	}
	ev := p.alloc()
	p.all = append(p.all, ev)
	p.next++
	return ev
}

// ResetEvents resets every event handed out so far and makes them available
// again.
func (p *EventsPool[T]) ResetEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.all[:p.next] {
		ev.Reset()
	}
	p.next = 0
}

// Release forgets every pooled event.
func (p *EventsPool[T]) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = nil
	p.next = 0
}

// Len is the number of events owned by the pool.
func (p *EventsPool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
