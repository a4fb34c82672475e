package runtime

import (
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// Kernel is a compiled kernel ready for dispatch. A kernel must not be
// enqueued from several streams at once; Clone gives each stream its own.
type Kernel interface {
	ID() string
	Name() string
	Native() *driver.Kernel
	Clone() Kernel
}

// CreateKernel wraps a native kernel for the backend of e.
func CreateKernel(e Engine, k *driver.Kernel, id string) (Kernel, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil kernel", ErrInvalidArgument)
	}
	b, err := lookupBackend(e.Type())
	if err != nil {
		return nil, err
	}
	return b.NewKernel(e, k, id)
}
