package runtime

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
)

var (
	// Configuration errors.
	ErrUnsupportedBackend    = errors.New("backend is not compiled in")
	ErrUnsupportedAllocation = errors.New("allocation type is not supported")
	ErrNoDevices             = errors.New("no suitable devices found")
	ErrInvalidArgument       = errors.New("invalid argument")

	// Resource errors.
	ErrAllocation   = errors.New("device memory allocation failed")
	ErrSizeOverflow = errors.New("layout does not fit the underlying allocation")

	// ErrNoLockableAllocation means USM is enabled but neither usm_shared nor
	// usm_host is available, which the engine never allows.
	ErrNoLockableAllocation = errors.New("could not find proper allocation type")

	// ErrExecution wraps an asynchronous failure reported by the native
	// runtime.
	ErrExecution = errors.New("execution failed")
)

// ExecutionError is an asynchronous failure of an enqueued command.
type ExecutionError struct {
	Status int
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%v (status %d): %v", ErrExecution, e.Status, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

// WrapExecution converts a native command failure into an ExecutionError.
func WrapExecution(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Status: driver.StatusOf(err), Err: err}
}

// WrapAllocation maps a native allocation failure to ErrAllocation.
func WrapAllocation(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAllocation, err)
}
