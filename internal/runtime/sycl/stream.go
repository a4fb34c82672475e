package sycl

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/metrics"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Stream is a SYCL queue. Kernels are submitted with their arguments, so the
// native kernel is never modified.
type Stream struct {
	id        string
	engine    *Engine
	queue     *driver.Queue
	queueType runtime.QueueType
	log       *zap.Logger
	pool      *runtime.EventsPool[*stampEvent]
}

func newStream(e *Engine) (*Stream, error) {
	cfg := e.Configuration()
	info := e.DeviceInfo()
	id := uuid.NewString()
	log := e.Logger().With(zap.String("stream_id", id))
	if cfg.PriorityMode != runtime.PriorityDisabled || cfg.ThrottleMode != runtime.ThrottleDisabled {
		log.Warn("queue hints are not applied to sycl queues",
			zap.Stringer("priority", cfg.PriorityMode),
			zap.Stringer("throttle", cfg.ThrottleMode))
	}
	q, err := driver.NewQueue(e.UserContext(), e.NativeDevice(), driver.QueueProperties{
		OutOfOrder: cfg.QueueType == runtime.QueueOutOfOrder && info.OutOfOrderQueue,
		Profiling:  cfg.EnableProfiling && info.Profiling,
		Threads:    cfg.ThreadsPerQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("create sycl queue: %w", err)
	}
	return &Stream{
		id:        id,
		engine:    e,
		queue:     q,
		queueType: cfg.QueueType,
		log:       log,
		pool:      runtime.NewEventsPool(newStampEvent),
	}, nil
}

func (s *Stream) ID() string                     { return s.id }
func (s *Stream) QueueType() runtime.QueueType   { return s.queueType }
func (s *Stream) SyncMethod() runtime.SyncMethod { return runtime.SyncEvents }
func (s *Stream) Queue() *driver.Queue           { return s.queue }

// WrapNative wraps a native event of this stream.
func (s *Stream) WrapNative(ev *driver.Event) runtime.Event {
	return newEvent(ev)
}

func asKernel(k runtime.Kernel) (*Kernel, error) {
	kern, ok := k.(*Kernel)
	if !ok {
		return nil, fmt.Errorf("%w: kernel %T was not created by the sycl backend", runtime.ErrInvalidArgument, k)
	}
	return kern, nil
}

// SetArguments only validates the binding; arguments travel with each
// submission.
func (s *Stream) SetArguments(k runtime.Kernel, desc runtime.KernelArgumentsDesc, data runtime.KernelArgumentsData) error {
	if _, err := asKernel(k); err != nil {
		return err
	}
	_, err := runtime.ResolveArguments(desc, data)
	return err
}

// EnqueueKernel submits the kernel with its arguments after deps.
func (s *Stream) EnqueueKernel(k runtime.Kernel, desc runtime.KernelArgumentsDesc, data runtime.KernelArgumentsData, deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	kern, err := asKernel(k)
	if err != nil {
		return nil, err
	}
	args, err := runtime.ResolveArguments(desc, data)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", kern.id, err)
	}
	nd, err := desc.WorkGroups.NDRange()
	if err != nil {
		return nil, err
	}
	waits, err := s.dependencies(deps)
	if err != nil {
		return nil, err
	}
	ev, err := s.queue.EnqueueKernel(kern.native, nd, args, waits)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", kern.id, runtime.WrapExecution(err))
	}
	metrics.KernelDispatches.WithLabelValues(runtime.EngineSYCL.String()).Inc()
	s.log.Debug("kernel submitted",
		zap.String("kernel", kern.id),
		zap.String("layer", desc.LayerID),
		zap.Int("waits", len(waits)),
		zap.Bool("output", isOutput))
	return newEvent(ev), nil
}

// EnqueueMarker returns an event completing with deps.
func (s *Stream) EnqueueMarker(deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	if len(deps) == 0 {
		return s.CreateUserEvent(true)
	}
	waits, err := s.dependencies(deps)
	if err != nil {
		return nil, err
	}
	if len(waits) == 0 {
		return s.CreateUserEvent(true)
	}
	ev, err := s.queue.EnqueueMarker(waits)
	if err != nil {
		return nil, runtime.WrapExecution(err)
	}
	return newEvent(ev), nil
}

// EnqueueBarrier orders later submissions after earlier ones.
func (s *Stream) EnqueueBarrier() error {
	if _, err := s.queue.EnqueueBarrier(nil); err != nil {
		return runtime.WrapExecution(err)
	}
	return nil
}

// GroupEvents returns an event that completes with all of deps.
func (s *Stream) GroupEvents(deps []runtime.Event) runtime.Event {
	return runtime.NewMultiEvent(deps)
}

// SyncEvents is a marker over deps; SYCL always synchronizes with events.
func (s *Stream) SyncEvents(deps []runtime.Event, isOutput bool) (runtime.Event, error) {
	return s.EnqueueMarker(deps, isOutput)
}

func (s *Stream) Flush() error {
	s.queue.Flush()
	return nil
}

// Finish waits for every submission and reports asynchronous errors.
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

func (s *Stream) ResetEvents()       { s.pool.ResetEvents() }
func (s *Stream) ReleaseEventsPool() { s.pool.Release() }

// CreateUserEvent creates a host-controlled event.
func (s *Stream) CreateUserEvent(set bool) (runtime.UserEvent, error) {
	return newHostEvent(s.engine.UserContext(), set)
}

// CreateBaseEvent returns a pooled event set once everything submitted so
// far completed.
func (s *Stream) CreateBaseEvent() runtime.Event {
	ev := s.pool.Get()
	ev.queue = s.queue
	ev.stamp = s.queue.LastStamp()
	return ev
}

// Close waits for outstanding work and releases the queue.
func (s *Stream) Close() error {
	s.pool.Release()
	if err := s.queue.Release(); err != nil {
		return runtime.WrapExecution(err)
	}
	return nil
}
