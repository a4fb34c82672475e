// Package backends links the compiled-in runtime backends. Import it for its
// side effects before creating engines; build with -tags nosycl to leave
// the sycl backend out.
package backends

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/runtime"
	_ "github.com/fxnlabs/gpurt/internal/runtime/ocl"
)

// Compiled lists the registered backends and logs them.
func Compiled(log *zap.Logger) []runtime.EngineType {
	types := runtime.CompiledBackends()
	if log != nil {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = t.String()
		}
		log.Info("runtime backends compiled in", zap.Strings("backends", names), zap.Bool("sycl", SYCLEnabled))
	}
	return types
}
