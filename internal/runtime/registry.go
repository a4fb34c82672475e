package runtime

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// Backend is the set of constructors a backend package registers from init.
type Backend struct {
	Type          EngineType
	NewEngine     func(dev Device, cfg EngineConfiguration, log *zap.Logger) (Engine, error)
	DetectDevices func(rt RuntimeType, opts DeviceQueryOptions, log *zap.Logger) (map[string]Device, error)
	NewKernel     func(e Engine, k *driver.Kernel, id string) (Kernel, error)
}

var backends = struct {
	mu sync.RWMutex
	m  map[EngineType]Backend
}{m: make(map[EngineType]Backend)}

// RegisterBackend makes a backend available to CreateEngine. It panics if
// the engine type is registered twice.
func RegisterBackend(b Backend) {
	backends.mu.Lock()
	defer backends.mu.Unlock()
	if _, ok := backends.m[b.Type]; ok {
		panic(fmt.Sprintf("runtime: backend %s already registered", b.Type))
	}
	backends.m[b.Type] = b
}

// CompiledBackends lists the registered engine types.
func CompiledBackends() []EngineType {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	out := make([]EngineType, 0, len(backends.m))
	for t := range backends.m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lookupBackend(t EngineType) (Backend, error) {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	b, ok := backends.m[t]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %s", ErrUnsupportedBackend, t)
	}
	return b, nil
}

// CreateEngine creates an engine of type t over dev.
func CreateEngine(t EngineType, dev Device, cfg EngineConfiguration, log *zap.Logger) (Engine, error) {
	b, err := lookupBackend(t)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return b.NewEngine(dev, cfg, log)
}

// CreateDefaultEngine creates an engine over the first device found for t
// and the runtime of cfg.
func CreateDefaultEngine(t EngineType, cfg EngineConfiguration, opts DeviceQueryOptions, log *zap.Logger) (Engine, error) {
	q, err := NewDeviceQuery(t, cfg.Runtime, opts, log)
	if err != nil {
		return nil, err
	}
	keys := q.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s engine on %s runtime", ErrNoDevices, t, cfg.Runtime)
	}
	return CreateEngine(t, q.AvailableDevices()[keys[0]], cfg, log)
}
