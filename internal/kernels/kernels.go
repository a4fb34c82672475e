// Package kernels holds the reference compute kernels shipped with the
// runtime. They are registered as driver entry points at init and compiled
// per engine with Compile.
package kernels

import (
	"fmt"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Entry points.
const (
	GatherF32 = "gather_f32"
	GatherF16 = "gather_f16"
	GemmF32   = "gemm_f32"
)

func init() {
	driver.RegisterKernel(GatherF32, gather(4))
	driver.RegisterKernel(GatherF16, gather(2))
	driver.RegisterKernel(GemmF32, gemm)
}

// Compile builds entry in the native context of e and wraps the kernel for
// the engine's backend.
func Compile(e runtime.Engine, entry string) (runtime.Kernel, error) {
	prog, err := e.UserContext().BuildProgram(entry)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", entry, err)
	}
	k, err := prog.CreateKernel(entry)
	if err != nil {
		return nil, fmt.Errorf("create kernel %s: %w", entry, err)
	}
	return runtime.CreateKernel(e, k, entry)
}

func checkArgs(name string, args []driver.Arg, n int) error {
	if len(args) < n {
		return fmt.Errorf("%s: %d arguments, want %d", name, len(args), n)
	}
	return nil
}
