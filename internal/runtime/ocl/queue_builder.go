package ocl

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// queueBuilder assembles the native queue properties from the engine
// configuration and the device extensions.
type queueBuilder struct {
	profiling  bool
	outOfOrder bool
	priority   driver.QueuePriority
	throttle   driver.QueueThrottle
	threads    int
	log        *zap.Logger
}

func newQueueBuilder(log *zap.Logger) *queueBuilder {
	return &queueBuilder{log: log}
}

func (b *queueBuilder) setProfiling(on bool) *queueBuilder {
	b.profiling = on
	return b
}

func (b *queueBuilder) setThreads(n int) *queueBuilder {
	b.threads = n
	return b
}

func (b *queueBuilder) setOutOfOrder(on bool) *queueBuilder {
	b.outOfOrder = on
	return b
}

// setPriorityMode applies the hint when the device supports
// cl_khr_priority_hints and drops it otherwise.
func (b *queueBuilder) setPriorityMode(mode runtime.PriorityMode, supported bool) *queueBuilder {
	b.priority = driver.PriorityDefault
	if mode == runtime.PriorityDisabled {
		return b
	}
	if !supported {
		b.log.Warn("queue priority hint ignored, device lacks " + driver.ExtPriorityHints)
		return b
	}
	switch mode {
	case runtime.PriorityLow:
		b.priority = driver.PriorityLow
	case runtime.PriorityMed:
		b.priority = driver.PriorityMed
	case runtime.PriorityHigh:
		b.priority = driver.PriorityHigh
	}
	return b
}

// setThrottleMode is setPriorityMode for cl_khr_throttle_hints.
func (b *queueBuilder) setThrottleMode(mode runtime.ThrottleMode, supported bool) *queueBuilder {
	b.throttle = driver.ThrottleDefault
	if mode == runtime.ThrottleDisabled {
		return b
	}
	if !supported {
		b.log.Warn("queue throttle hint ignored, device lacks " + driver.ExtThrottleHints)
		return b
	}
	switch mode {
	case runtime.ThrottleLow:
		b.throttle = driver.ThrottleLow
	case runtime.ThrottleMed:
		b.throttle = driver.ThrottleMed
	case runtime.ThrottleHigh:
		b.throttle = driver.ThrottleHigh
	}
	return b
}

func (b *queueBuilder) properties() driver.QueueProperties {
	return driver.QueueProperties{
		OutOfOrder: b.outOfOrder,
		Profiling:  b.profiling,
		Priority:   b.priority,
		Throttle:   b.throttle,
		Threads:    b.threads,
	}
}

func (b *queueBuilder) build(ctx *driver.Context, dev *driver.Device) (*driver.Queue, error) {
	return driver.NewQueue(ctx, dev, b.properties())
}
