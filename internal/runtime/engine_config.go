package runtime

import (
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// EngineType selects the backend.
type EngineType int

const (
	EngineOCL EngineType = iota
	EngineSYCL
)

func (t EngineType) String() string {
	switch t {
	case EngineOCL:
		return "ocl"
	case EngineSYCL:
		return "sycl"
	default:
		return fmt.Sprintf("engine(%d)", int(t))
	}
}

// ParseEngineType converts "ocl" or "sycl".
func ParseEngineType(s string) (EngineType, error) {
	switch s {
	case "ocl":
		return EngineOCL, nil
	case "sycl":
		return EngineSYCL, nil
	}
	return 0, fmt.Errorf("%w: engine type %q", ErrInvalidArgument, s)
}

// RuntimeType selects the native runtime a backend runs on.
type RuntimeType int

const (
	RuntimeOCL RuntimeType = iota
	RuntimeLevelZero
)

func (t RuntimeType) String() string {
	switch t {
	case RuntimeOCL:
		return "ocl"
	case RuntimeLevelZero:
		return "level_zero"
	default:
		return fmt.Sprintf("runtime(%d)", int(t))
	}
}

// ParseRuntimeType converts "ocl" or "level_zero".
func ParseRuntimeType(s string) (RuntimeType, error) {
	switch s {
	case "ocl":
		return RuntimeOCL, nil
	case "level_zero":
		return RuntimeLevelZero, nil
	}
	return 0, fmt.Errorf("%w: runtime type %q", ErrInvalidArgument, s)
}

func (t RuntimeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *RuntimeType) UnmarshalText(b []byte) error {
	v, err := ParseRuntimeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DriverKind maps the runtime type to the native platform kind.
func (t RuntimeType) DriverKind() driver.RuntimeKind {
	if t == RuntimeLevelZero {
		return driver.RuntimeLevelZero
	}
	return driver.RuntimeOpenCL
}

// QueueType is the execution order of streams.
type QueueType int

const (
	QueueOutOfOrder QueueType = iota
	QueueInOrder
)

func (t QueueType) String() string {
	if t == QueueInOrder {
		return "in_order"
	}
	return "out_of_order"
}

// ParseQueueType converts "in_order" or "out_of_order".
func ParseQueueType(s string) (QueueType, error) {
	switch s {
	case "in_order":
		return QueueInOrder, nil
	case "out_of_order":
		return QueueOutOfOrder, nil
	}
	return 0, fmt.Errorf("%w: queue type %q", ErrInvalidArgument, s)
}

// PriorityMode and ThrottleMode are queue hints honoured when the device
// supports the matching extension.
type (
	PriorityMode int
	ThrottleMode int
)

const (
	PriorityDisabled PriorityMode = iota
	PriorityLow
	PriorityMed
	PriorityHigh
)

const (
	ThrottleDisabled ThrottleMode = iota
	ThrottleLow
	ThrottleMed
	ThrottleHigh
)

var hintNames = []string{"disabled", "low", "med", "high"}

func (m PriorityMode) String() string { return hintName(int(m)) }
func (m ThrottleMode) String() string { return hintName(int(m)) }

func hintName(i int) string {
	if i < 0 || i >= len(hintNames) {
		return fmt.Sprintf("hint(%d)", i)
	}
	return hintNames[i]
}

func parseHint(kind, s string) (int, error) {
	for i, name := range hintNames {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s mode %q", ErrInvalidArgument, kind, s)
}

// ParsePriorityMode converts "disabled", "low", "med" or "high".
func ParsePriorityMode(s string) (PriorityMode, error) {
	i, err := parseHint("priority", s)
	return PriorityMode(i), err
}

// ParseThrottleMode converts "disabled", "low", "med" or "high".
func ParseThrottleMode(s string) (ThrottleMode, error) {
	i, err := parseHint("throttle", s)
	return ThrottleMode(i), err
}

// EngineConfiguration is the immutable engine configuration.
type EngineConfiguration struct {
	Runtime                RuntimeType
	QueueType              QueueType
	EnableProfiling        bool
	UseMemoryPool          bool
	UseUnifiedSharedMemory bool
	PriorityMode           PriorityMode
	ThrottleMode           ThrottleMode
	ThreadsPerQueue        int
}

// DefaultEngineConfiguration enables pooling and USM on out-of-order queues.
func DefaultEngineConfiguration() EngineConfiguration {
	return EngineConfiguration{
		Runtime:                RuntimeOCL,
		QueueType:              QueueOutOfOrder,
		UseMemoryPool:          true,
		UseUnifiedSharedMemory: true,
	}
}
