package runtime

import (
	"maps"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// Device filter used by the detectors.
const (
	DeviceFilterType   = driver.DeviceTypeGPU
	DeviceFilterVendor = driver.VendorIntel
)

// DeviceQueryOptions selects where devices come from. With UserContext or
// UserDevice set, only those handles are wrapped; otherwise System (or the
// default system) is enumerated.
type DeviceQueryOptions struct {
	System      *driver.System
	UserContext *driver.Context
	UserDevice  *driver.Device
}

// SystemOrDefault returns the system to enumerate.
func (o DeviceQueryOptions) SystemOrDefault() *driver.System {
	if o.System != nil {
		return o.System
	}
	return driver.DefaultSystem()
}

// DeviceQuery is the result of device discovery for one backend and
// runtime.
type DeviceQuery struct {
	devices map[string]Device
}

// NewDeviceQuery discovers the devices usable by engine type t on runtime
// rt, keyed "0", "1", ... in enumeration order.
func NewDeviceQuery(t EngineType, rt RuntimeType, opts DeviceQueryOptions, log *zap.Logger) (*DeviceQuery, error) {
	b, err := lookupBackend(t)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	devices, err := b.DetectDevices(rt, opts, log)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = map[string]Device{}
	}
	return &DeviceQuery{devices: devices}, nil
}

// AvailableDevices returns the discovered devices.
func (q *DeviceQuery) AvailableDevices() map[string]Device {
	return maps.Clone(q.devices)
}

// Keys returns the device ids in enumeration order.
func (q *DeviceQuery) Keys() []string {
	keys := make([]string, 0, len(q.devices))
	for k := range q.devices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}
