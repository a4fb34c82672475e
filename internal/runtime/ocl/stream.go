package ocl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/metrics"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Stream runs commands on one native queue of an engine.
type Stream struct {
	id         string
	engine     *Engine
	queue      *driver.Queue
	queueType  runtime.QueueType
	syncMethod runtime.SyncMethod
	log        *zap.Logger
	basePool   *runtime.EventsPool[*baseEvent]

	mu            sync.Mutex
	lastBarrier   uint64
	lastBarrierEv runtime.Event
}

func newStream(e *Engine) (*Stream, error) {
	cfg := e.Configuration()
	info := e.DeviceInfo()
	id := uuid.NewString()
	log := e.Logger().With(zap.String("stream_id", id))

	q, err := newQueueBuilder(log).
		setProfiling(cfg.EnableProfiling).
		setOutOfOrder(cfg.QueueType == runtime.QueueOutOfOrder).
		setThreads(cfg.ThreadsPerQueue).
		setPriorityMode(cfg.PriorityMode, info.PriorityHints).
		setThrottleMode(cfg.ThrottleMode, info.ThrottleHints).
		build(e.UserContext(), e.NativeDevice())
	if err != nil {
		return nil, fmt.Errorf("create command queue: %w", err)
	}
	s := &Stream{
		id:         id,
		engine:     e,
		queue:      q,
		queueType:  cfg.QueueType,
		syncMethod: runtime.SelectSyncMethod(cfg),
		log:        log,
		basePool:   runtime.NewEventsPool(newBaseEvent),
	}
	log.Debug("stream created", zap.String("sync_method", s.syncMethod.String()))
	return s, nil
}

func (s *Stream) ID() string                     { return s.id }
func (s *Stream) QueueType() runtime.QueueType   { return s.queueType }
func (s *Stream) SyncMethod() runtime.SyncMethod { return s.syncMethod }
func (s *Stream) Queue() *driver.Queue           { return s.queue }

// WrapNative wraps a native event of this stream.
func (s *Stream) WrapNative(ev *driver.Event) runtime.Event {
	return newEvent(ev)
}

func asKernel(k runtime.Kernel) (*Kernel, error) {
	kern, ok := k.(*Kernel)
	if !ok {
		return nil, fmt.Errorf("%w: kernel %T was not created by the ocl backend", runtime.ErrInvalidArgument, k)
	}
	return kern, nil
}

// SetArguments writes the resolved arguments into the kernel argument
// table.
func (s *Stream) SetArguments(k runtime.Kernel, desc runtime.KernelArgumentsDesc, data runtime.KernelArgumentsData) error {
	kern, err := asKernel(k)
	if err != nil {
		return err
	}
	args, err := runtime.ResolveArguments(desc, data)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", kern.id, err)
	}
	for i, a := range args {
		if err := kern.native.SetArg(i, a); err != nil {
			return fmt.Errorf("kernel %s: %w: %w", kern.id, runtime.ErrInvalidArgument, err)
		}
	}
	return nil
}

// EnqueueKernel binds the arguments and launches the kernel.
func (s *Stream) EnqueueKernel(k runtime.Kernel, desc runtime.KernelArgumentsDesc, data runtime.KernelArgumentsData, deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	kern, err := asKernel(k)
	if err != nil {
		return nil, err
	}
	if err := s.SetArguments(k, desc, data); err != nil {
		return nil, err
	}
	nd, err := desc.WorkGroups.NDRange()
	if err != nil {
		return nil, err
	}

	waits, err := s.waitList(deps, s.syncMethod != runtime.SyncEvents)
	if err != nil {
		return nil, err
	}
	if s.syncMethod == runtime.SyncBarriers {
		if err := s.barrierIfNeeded(deps); err != nil {
			return nil, err
		}
	}

	ev, err := s.queue.EnqueueNDRange(kern.native, nd, waits)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kern.id, runtime.WrapExecution(err))
	}
	metrics.KernelDispatches.WithLabelValues(runtime.EngineOCL.String()).Inc()
	s.log.Debug("kernel enqueued",
		zap.String("kernel", kern.id),
		zap.String("layer", desc.LayerID),
		zap.Uint64("stamp", ev.Stamp()),
		zap.Bool("output", isOutput))

	if s.syncMethod == runtime.SyncEvents || isOutput {
		return newEvent(ev), nil
	}
	return s.stampEvent(ev.Stamp()), nil
}

func (s *Stream) stampEvent(stamp uint64) *baseEvent {
	be := s.basePool.Get()
	be.queue = s.queue
	be.stamp = stamp
	return be
}

// EnqueueMarker returns an event that completes with deps.
func (s *Stream) EnqueueMarker(deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	if len(deps) == 0 {
		return s.CreateUserEvent(true)
	}
	if s.syncMethod != runtime.SyncEvents {
		waits, err := s.waitList(deps, true)
		if err != nil {
			return nil, err
		}
		if len(waits) == 0 {
			return s.SyncEvents(deps, isOutput)
		}
		if err := s.barrierIfNeeded(deps); err != nil {
			return nil, err
		}
		ev, err := s.queue.EnqueueMarker(waits)
		if err != nil {
			return nil, runtime.WrapExecution(err)
		}
		return newEvent(ev), nil
	}
	waits, err := s.waitList(deps, false)
	if err != nil {
		return nil, err
	}
	ev, err := s.queue.EnqueueMarker(waits)
	if err != nil {
		return nil, runtime.WrapExecution(err)
	}
	return newEvent(ev), nil
}

// EnqueueBarrier orders every later command after every earlier one.
func (s *Stream) EnqueueBarrier() error {
	ev, err := s.queue.EnqueueBarrier(nil)
	if err != nil {
		return runtime.WrapExecution(err)
	}
	s.mu.Lock()
	s.lastBarrier = ev.Stamp()
	s.lastBarrierEv = newEvent(ev)
	s.mu.Unlock()
	return nil
}

// GroupEvents returns an event that completes with all of deps.
func (s *Stream) GroupEvents(deps []runtime.Event) runtime.Event {
	return runtime.NewMultiEvent(deps)
}

// SyncEvents inserts a barrier when one of deps was enqueued after the last
// barrier and returns the barrier event.
func (s *Stream) SyncEvents(deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	if err := s.barrierIfNeeded(deps); err != nil {
		return nil, err
	}
	s.mu.Lock()
	ev := s.lastBarrierEv
	s.mu.Unlock()
	if ev == nil {
		return s.CreateUserEvent(true)
	}
	return ev, nil
}

func (s *Stream) barrierIfNeeded(deps []runtime.Event) error {
	s.mu.Lock()
	needsBarrier := s.pastBarrier(deps)
	s.mu.Unlock()
	if !needsBarrier {
		return nil
	}
	return s.EnqueueBarrier()
}

// pastBarrier reports whether one of deps is a command of this queue
// enqueued after the last barrier. s.mu must be held.
func (s *Stream) pastBarrier(deps []runtime.Event) bool {
	for _, dep := range deps {
		if m, ok := dep.(*runtime.MultiEvent); ok {
			if s.pastBarrier(m.Events()) {
				return true
			}
			continue
		}
		if st, ok := dep.(stamped); ok && st.onQueue() == s.queue && st.queueStamp() > s.lastBarrier {
			return true
		}
	}
	return false
}

func (s *Stream) Flush() error {
	s.queue.Flush()
	return nil
}

// Finish blocks until every enqueued command completed and reports the
// execution errors raised since the previous Finish.
func (s *Stream) Finish() error {
	if err := s.queue.Finish(); err != nil {
		return runtime.WrapExecution(err)
	}
	return nil
}

// WaitForEvents waits for every event and joins their errors.
func (s *Stream) WaitForEvents(events []runtime.Event) error {
	var errs []error
	for _, ev := range events {
		if err := ev.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stream) ResetEvents()       { s.basePool.ResetEvents() }
func (s *Stream) ReleaseEventsPool() { s.basePool.Release() }

// CreateUserEvent creates a host-controlled event, optionally already set.
func (s *Stream) CreateUserEvent(set bool) (runtime.UserEvent, error) {
	return newUserEvent(s.engine.UserContext(), set)
}

// CreateBaseEvent returns a pooled event set once everything enqueued so far
// completed.
func (s *Stream) CreateBaseEvent() runtime.Event {
	return s.stampEvent(s.queue.LastStamp())
}

// Close finishes outstanding work and releases the queue.
func (s *Stream) Close() error {
	s.basePool.Release()
	if err := s.queue.Release(); err != nil {
		return runtime.WrapExecution(err)
	}
	return nil
}
