package runtime

// SyncMethod is how a stream orders dependent commands.
type SyncMethod int

const (
	// SyncEvents passes explicit wait lists to the native queue.
	SyncEvents SyncMethod = iota
	// SyncBarriers inserts a queue barrier when a dependency was enqueued
	// after the last barrier.
	SyncBarriers
	// SyncNone relies on in-order execution.
	SyncNone
)

func (m SyncMethod) String() string {
	switch m {
	case SyncEvents:
		return "events"
	case SyncBarriers:
		return "barriers"
	default:
		return "none"
	}
}

// SelectSyncMethod picks the ordering strategy for a configuration:
// profiling needs a native event per command, out-of-order queues otherwise
// use barriers and in-order queues need nothing.
func SelectSyncMethod(cfg EngineConfiguration) SyncMethod {
	switch {
	case cfg.EnableProfiling:
		return SyncEvents
	case cfg.QueueType == QueueOutOfOrder:
		return SyncBarriers
	default:
		return SyncNone
	}
}

// Stream is an ordered command queue of one engine. Enqueue operations do
// not block; Finish and event waits do.
type Stream interface {
	ID() string
	QueueType() QueueType
	SyncMethod() SyncMethod

	// SetArguments binds data to the kernel according to desc without
	// launching it.
	SetArguments(k Kernel, desc KernelArgumentsDesc, data KernelArgumentsData) error
	// EnqueueKernel launches k once deps complete. Only output events
	// carry profiling information.
	EnqueueKernel(k Kernel, desc KernelArgumentsDesc, data KernelArgumentsData, deps []Event, isOutput bool) (Event, error)
	// EnqueueMarker returns an event that completes with deps; an empty
	// deps list yields an already set event.
	EnqueueMarker(deps []Event, isOutput bool) (Event, error)
	EnqueueBarrier() error
	GroupEvents(deps []Event) Event
	SyncEvents(deps []Event, isOutput bool) (Event, error)

	Flush() error
	Finish() error
	WaitForEvents(events []Event) error

	ResetEvents()
	ReleaseEventsPool()
	CreateUserEvent(set bool) (UserEvent, error)
	CreateBaseEvent() Event

	Close() error
}
