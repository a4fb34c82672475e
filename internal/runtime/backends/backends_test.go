package backends

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/kernels"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

func testGPU(name, pci string, usm driver.USMCapabilities) *driver.Device {
	return driver.NewDevice(driver.DeviceDesc{
		Name:            name,
		Vendor:          "Intel(R) Corporation",
		VendorID:        driver.VendorIntel,
		Type:            driver.DeviceTypeGPU,
		PCIBusID:        pci,
		ComputeUnits:    8,
		GlobalMemSize:   1 << 30,
		MaxMemAllocSize: 1 << 28,
		Extensions:      []string{driver.ExtFP16, driver.ExtUSM},
		Queue:           driver.QueueCapabilities{OutOfOrder: true, Profiling: true},
		USM:             usm,
		ImageSupport:    true,
		FP16:            true,
	})
}

func singleDeviceSystem(dev *driver.Device) *driver.System {
	return driver.NewSystem(driver.NewPlatform("Test OpenCL", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL, dev))
}

func newEngine(t *testing.T, typ runtime.EngineType, cfg runtime.EngineConfiguration, opts runtime.DeviceQueryOptions) runtime.Engine {
	t.Helper()
	e, err := runtime.CreateDefaultEngine(typ, cfg, opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newStream(t *testing.T, e runtime.Engine) runtime.Stream {
	t.Helper()
	s, err := e.CreateStream()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f32Layout(b, f, x, y int) runtime.Layout {
	return runtime.NewLayout(runtime.DataF32, runtime.FormatBFYX, runtime.NewTensor(b, f, x, y))
}

func TestCompiledBackends(t *testing.T) {
	types := Compiled(zap.NewNop())
	assert.Contains(t, types, runtime.EngineOCL)
	if SYCLEnabled {
		assert.Contains(t, types, runtime.EngineSYCL)
	} else {
		assert.NotContains(t, types, runtime.EngineSYCL)
	}
}

func TestUnsupportedBackend(t *testing.T) {
	bogus := runtime.EngineType(42)
	_, err := runtime.NewDeviceQuery(bogus, runtime.RuntimeOCL, runtime.DeviceQueryOptions{}, nil)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedBackend)

	_, err = runtime.CreateEngine(bogus, nil, runtime.DefaultEngineConfiguration(), nil)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedBackend)
}

func TestDeviceQuery(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			q, err := runtime.NewDeviceQuery(typ, runtime.RuntimeOCL, runtime.DeviceQueryOptions{}, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, []string{"0", "1"}, q.Keys())

			devs := q.AvailableDevices()
			assert.Equal(t, "Intel(R) Arc(TM) A770 Graphics", devs["0"].Info().Name)
			assert.Equal(t, runtime.DeviceDiscreteGPU, devs["0"].Info().DevType)
			assert.Equal(t, runtime.DeviceIntegratedGPU, devs["1"].Info().DevType)
			for _, d := range devs {
				assert.Equal(t, uint32(driver.VendorIntel), d.Info().VendorID)
				assert.Equal(t, runtime.RuntimeOCL, d.Info().Runtime)
			}
		})
	}

	t.Run("level_zero", func(t *testing.T) {
		if !SYCLEnabled {
			t.Skip("sycl backend not compiled in")
		}
		q, err := runtime.NewDeviceQuery(runtime.EngineSYCL, runtime.RuntimeLevelZero, runtime.DeviceQueryOptions{}, zap.NewNop())
		require.NoError(t, err)
		require.Len(t, q.AvailableDevices(), 2)
		for _, d := range q.AvailableDevices() {
			assert.Equal(t, runtime.RuntimeLevelZero, d.Info().Runtime)
		}
	})
}

func TestDeviceQueryDeduplicatesByPCI(t *testing.T) {
	sys := driver.NewSystem(
		driver.NewPlatform("OpenCL A", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL,
			testGPU("gpu via A", "0000:05:00.0", driver.USMCapabilities{Host: true, Shared: true})),
		driver.NewPlatform("OpenCL B", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL,
			testGPU("gpu via B", "0000:05:00.0", driver.USMCapabilities{Host: true, Shared: true}),
			testGPU("second gpu", "0000:06:00.0", driver.USMCapabilities{Host: true, Shared: true})),
	)
	q, err := runtime.NewDeviceQuery(runtime.EngineOCL, runtime.RuntimeOCL, runtime.DeviceQueryOptions{System: sys}, zap.NewNop())
	require.NoError(t, err)

	var names []string
	for _, k := range q.Keys() {
		names = append(names, q.AvailableDevices()[k].Info().Name)
	}
	if diff := cmp.Diff([]string{"gpu via A", "second gpu"}, names); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceQueryKeepsValidAliasOfFailedDevice(t *testing.T) {
	broken := testGPU("gpu via A", "0000:05:00.0", driver.USMCapabilities{Host: true, Shared: true})
	desc := broken.Desc()
	desc.Unavailable = true
	broken = driver.NewDevice(desc)
	platformA := driver.NewPlatform("OpenCL A", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL, broken)
	platformB := driver.NewPlatform("OpenCL B", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL,
		testGPU("gpu via B", "0000:05:00.0", driver.USMCapabilities{Host: true, Shared: true}))

	q, err := runtime.NewDeviceQuery(runtime.EngineOCL, runtime.RuntimeOCL,
		runtime.DeviceQueryOptions{System: driver.NewSystem(platformA, platformB)}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, q.AvailableDevices(), 1)
	assert.Equal(t, "gpu via B", q.AvailableDevices()[q.Keys()[0]].Info().Name)
	assert.Zero(t, platformA.LiveContexts(), "failed validation releases its context")
	assert.Equal(t, 1, platformB.LiveContexts())
}

func TestDeviceQueryFilters(t *testing.T) {
	cpuOnly := driver.NewSystem(driver.NewPlatform("CPU", "Intel(R) Corporation", "OpenCL 3.0", driver.RuntimeOpenCL,
		driver.NewDevice(driver.DeviceDesc{Name: "cpu", VendorID: driver.VendorIntel, Type: driver.DeviceTypeCPU,
			GlobalMemSize: 1 << 30, Queue: driver.QueueCapabilities{OutOfOrder: true, Profiling: true}})))

	q, err := runtime.NewDeviceQuery(runtime.EngineOCL, runtime.RuntimeOCL, runtime.DeviceQueryOptions{System: cpuOnly}, nil)
	require.NoError(t, err)
	assert.Empty(t, q.AvailableDevices())

	_, err = runtime.CreateDefaultEngine(runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{System: cpuOnly}, nil)
	assert.ErrorIs(t, err, runtime.ErrNoDevices)

	inOrderOnly := testGPU("in order gpu", "0000:07:00.0", driver.USMCapabilities{})
	desc := inOrderOnly.Desc()
	desc.Queue = driver.QueueCapabilities{Profiling: true}
	q, err = runtime.NewDeviceQuery(runtime.EngineOCL, runtime.RuntimeOCL,
		runtime.DeviceQueryOptions{System: singleDeviceSystem(driver.NewDevice(desc))}, nil)
	require.NoError(t, err)
	assert.Empty(t, q.AvailableDevices(), "ocl needs out-of-order queues")
}

func TestDeviceQueryUserHandles(t *testing.T) {
	dev := testGPU("user gpu", "0000:08:00.0", driver.USMCapabilities{Host: true, Shared: true, Device: true})
	sys := singleDeviceSystem(dev)
	ctx, err := driver.NewContext(dev)
	require.NoError(t, err)

	cfg := runtime.DefaultEngineConfiguration()
	fromContext := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: sys, UserContext: ctx})
	fromDevice := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: sys, UserDevice: dev})

	assert.Same(t, ctx, fromContext.UserContext())
	assert.NotSame(t, ctx, fromDevice.UserContext())
	if diff := cmp.Diff(fromContext.DeviceInfo(), fromDevice.DeviceInfo()); diff != "" {
		t.Errorf("device info differs (-context +device):\n%s", diff)
	}
	assert.Equal(t, fromContext.MemoryPool().Stats(), fromDevice.MemoryPool().Stats())
}

func TestAllocationPreference(t *testing.T) {
	full := driver.USMCapabilities{Host: true, Shared: true, Device: true}
	tests := []struct {
		name    string
		usm     driver.USMCapabilities
		useUSM  bool
		image   bool
		want    runtime.AllocationType
		wantErr error
	}{
		{name: "usm disabled", usm: full, useUSM: false, want: runtime.AllocationCLMem},
		{name: "image layout", usm: full, useUSM: true, image: true, want: runtime.AllocationCLMem},
		{name: "shared preferred", usm: full, useUSM: true, want: runtime.AllocationUSMShared},
		{name: "host fallback", usm: driver.USMCapabilities{Host: true, Device: true}, useUSM: true, want: runtime.AllocationUSMHost},
		{name: "device only", usm: driver.USMCapabilities{Device: true}, useUSM: true, wantErr: runtime.ErrNoLockableAllocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := runtime.DefaultEngineConfiguration()
			cfg.UseUnifiedSharedMemory = tt.useUSM
			sys := singleDeviceSystem(testGPU("gpu", "0000:09:00.0", tt.usm))
			e := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: sys})

			got, err := e.LockablePreferredAllocationType(tt.image)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSupportsAllocation(t *testing.T) {
	sys := singleDeviceSystem(testGPU("gpu", "0000:0a:00.0", driver.USMCapabilities{Host: true, Device: true}))
	cfg := runtime.DefaultEngineConfiguration()
	e := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: sys})
	assert.True(t, e.SupportsAllocation(runtime.AllocationCLMem))
	assert.True(t, e.SupportsAllocation(runtime.AllocationUSMHost))
	assert.True(t, e.SupportsAllocation(runtime.AllocationUSMDevice))
	assert.False(t, e.SupportsAllocation(runtime.AllocationUSMShared))

	cfg.UseUnifiedSharedMemory = false
	noUSM := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: sys})
	assert.False(t, noUSM.SupportsAllocation(runtime.AllocationUSMHost))
	_, err := noUSM.AllocateMemory(f32Layout(1, 1, 4, 1), runtime.AllocationUSMHost)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedAllocation)
}

func TestAllocateMemoryErrors(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})

			_, err := e.AllocateMemory(f32Layout(0, 1, 1, 1), runtime.AllocationCLMem)
			assert.ErrorIs(t, err, runtime.ErrAllocation)

			huge := f32Layout(2, 1, 1<<30, 1)
			_, err = e.AllocateMemory(huge, runtime.AllocationCLMem)
			assert.ErrorIs(t, err, runtime.ErrAllocation)
			assert.Zero(t, e.UsedDeviceMemory())
		})
	}
}

func TestMemoryAccounting(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			layout := f32Layout(1, 4, 4, 4)

			mem, err := e.AllocateMemoryDefault(layout)
			require.NoError(t, err)
			assert.Equal(t, runtime.AllocationUSMShared, mem.AllocationType())
			assert.Equal(t, uint64(256), e.UsedDeviceMemory())

			view, err := e.ReinterpretBuffer(mem, f32Layout(1, 1, 8, 8))
			require.NoError(t, err)
			assert.True(t, view.IsReused())
			assert.True(t, e.IsTheSameBuffer(mem, view))
			assert.Equal(t, uint64(256), e.UsedDeviceMemory(), "views are not accounted")

			_, err = e.ReinterpretBuffer(mem, f32Layout(1, 8, 4, 4))
			assert.ErrorIs(t, err, runtime.ErrSizeOverflow)

			other, err := e.AllocateMemory(layout, runtime.AllocationCLMem)
			require.NoError(t, err)
			assert.False(t, e.IsTheSameBuffer(mem, other))
			assert.Equal(t, uint64(512), e.UsedDeviceMemory())

			view.Release()
			mem.Release()
			other.Release()
			assert.Zero(t, e.UsedDeviceMemory())
			assert.Equal(t, uint64(512), e.MaxUsedDeviceMemory())
		})
	}
}

func TestMemoryPoolReuse(t *testing.T) {
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	small, large := f32Layout(1, 1, 16, 1), f32Layout(1, 1, 32, 1)

	a, err := e.GetMemoryFromPool(small, "a", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	b, err := e.GetMemoryFromPool(large, "b", 0, runtime.NewPrimitiveSet("a"), runtime.AllocationCLMem, true)
	require.NoError(t, err)
	assert.False(t, e.IsTheSameBuffer(a, b), "b depends on a")

	c, err := e.GetMemoryFromPool(small, "c", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	assert.True(t, e.IsTheSameBuffer(a, c))
	assert.True(t, c.IsReused())

	otherNet, err := e.GetMemoryFromPool(small, "c", 1, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	assert.False(t, e.IsTheSameBuffer(a, otherNet))

	otherType, err := e.GetMemoryFromPool(small, "d", 0, nil, runtime.AllocationUSMHost, true)
	require.NoError(t, err)
	assert.False(t, e.IsTheSameBuffer(a, otherType))

	stats := e.MemoryPool().Stats()
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(4), stats.Misses)
	assert.Equal(t, uint64(64+128+64+64), e.UsedDeviceMemory())

	for _, m := range []runtime.Memory{a, b, c, otherNet, otherType} {
		m.Release()
	}
	pool := e.MemoryPool()
	pool.ReleaseMemory(a, "a", 0)
	assert.Equal(t, 4, pool.Stats().Records, "c still uses the record")
	pool.ReleaseMemory(c, "c", 0)
	assert.Equal(t, 3, pool.Stats().Records)
	assert.Equal(t, uint64(128+64+64), e.UsedDeviceMemory())

	pool.ClearPoolForNetwork(1)
	assert.Equal(t, 2, pool.Stats().Records)
	pool.ClearPool()
	assert.Zero(t, pool.Stats().Records)
	assert.Zero(t, e.UsedDeviceMemory())
}

func TestMemoryPoolKeepsImagesApart(t *testing.T) {
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	img := runtime.NewLayout(runtime.DataF32, runtime.FormatImage2DRGBA, runtime.NewTensor(1, 4, 4, 1))
	buf := f32Layout(1, 1, 16, 1)

	im, err := e.GetMemoryFromPool(img, "img", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	defer im.Release()
	assert.Equal(t, driver.MemImage2D, im.Native().Kind())

	b, err := e.GetMemoryFromPool(buf, "buf", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, driver.MemBuffer, b.Native().Kind())
	assert.False(t, e.IsTheSameBuffer(im, b))
	assert.False(t, b.IsReused())

	im2, err := e.GetMemoryFromPool(img, "img2", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	defer im2.Release()
	assert.Equal(t, driver.MemImage2D, im2.Native().Kind())
	assert.False(t, e.IsTheSameBuffer(b, im2))

	stats := e.MemoryPool().Stats()
	assert.Equal(t, 1, stats.Records, "only the buffer is pooled")
	assert.Equal(t, uint64(2), stats.Bypassed)
	assert.Zero(t, stats.Hits)
}

func TestImageLayoutRejectsUSM(t *testing.T) {
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	img := runtime.NewLayout(runtime.DataF32, runtime.FormatImage2DRGBA, runtime.NewTensor(1, 4, 4, 1))
	for _, typ := range []runtime.AllocationType{runtime.AllocationUSMHost, runtime.AllocationUSMShared, runtime.AllocationUSMDevice} {
		_, err := e.AllocateMemory(img, typ)
		assert.ErrorIs(t, err, runtime.ErrUnsupportedAllocation, typ.String())
	}
	assert.Zero(t, e.UsedDeviceMemory())

	mem, err := e.AllocateMemoryDefault(img)
	require.NoError(t, err)
	defer mem.Release()
	assert.Equal(t, driver.MemImage2D, mem.Native().Kind())
}

func TestMemoryPoolDisabled(t *testing.T) {
	cfg := runtime.DefaultEngineConfiguration()
	cfg.UseMemoryPool = false
	e := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{})

	layout := f32Layout(1, 1, 16, 1)
	a, err := e.GetMemoryFromPool(layout, "a", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	b, err := e.GetMemoryFromPool(layout, "b", 0, nil, runtime.AllocationCLMem, true)
	require.NoError(t, err)
	assert.False(t, e.IsTheSameBuffer(a, b))
	assert.Equal(t, uint64(2), e.MemoryPool().Stats().Bypassed)
	assert.Zero(t, e.MemoryPool().Stats().Records)
	a.Release()
	b.Release()
}

func TestReleaseAfterClose(t *testing.T) {
	e, err := runtime.CreateDefaultEngine(runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{}, nil)
	require.NoError(t, err)
	mem, err := e.AllocateMemory(f32Layout(1, 1, 4, 1), runtime.AllocationCLMem)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.NotPanics(t, mem.Release)
	assert.Equal(t, uint64(16), e.UsedDeviceMemory())
}

func TestAttachMemory(t *testing.T) {
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	s := newStream(t, e)

	host := make([]byte, 16)
	mem, err := e.AttachMemory(f32Layout(1, 1, 4, 1), host)
	require.NoError(t, err)
	defer mem.Release()
	assert.Zero(t, e.UsedDeviceMemory())

	require.NoError(t, runtime.WriteValues(s, mem, []float32{1, 2, 3, 4}))
	got, err := runtime.ReadValues(s, mem)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got)

	_, err = e.AttachMemory(f32Layout(1, 1, 8, 1), host)
	assert.ErrorIs(t, err, runtime.ErrSizeOverflow)
}

func TestLockUnlock(t *testing.T) {
	types := []runtime.AllocationType{
		runtime.AllocationCLMem,
		runtime.AllocationUSMHost,
		runtime.AllocationUSMShared,
		runtime.AllocationUSMDevice,
	}
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	s := newStream(t, e)
	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			mem, err := e.AllocateMemory(runtime.NewLayout(runtime.DataU8, runtime.FormatBFYX, runtime.NewTensor(1, 1, 8, 1)), typ)
			require.NoError(t, err)
			defer mem.Release()

			data, err := mem.Lock(s)
			require.NoError(t, err)
			require.Len(t, data, 8)
			for i := range data {
				data[i] = byte(i + 1)
			}
			require.NoError(t, mem.Unlock(s))

			out := make([]byte, 8)
			_, err = mem.CopyToHost(s, out, true)
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out)

			assert.ErrorIs(t, mem.Unlock(s), runtime.ErrInvalidArgument)
		})
	}
}

type gatherCase struct {
	name string
	dt   runtime.DataType
	cfg  runtime.EngineConfiguration
}

func gatherCases() []gatherCase {
	inOrder := runtime.DefaultEngineConfiguration()
	inOrder.QueueType = runtime.QueueInOrder
	profiling := runtime.DefaultEngineConfiguration()
	profiling.EnableProfiling = true
	noUSM := runtime.DefaultEngineConfiguration()
	noUSM.UseUnifiedSharedMemory = false
	return []gatherCase{
		{name: "f32/out_of_order", dt: runtime.DataF32, cfg: runtime.DefaultEngineConfiguration()},
		{name: "f32/in_order", dt: runtime.DataF32, cfg: inOrder},
		{name: "f32/profiling", dt: runtime.DataF32, cfg: profiling},
		{name: "f32/cl_mem", dt: runtime.DataF32, cfg: noUSM},
		{name: "f16/out_of_order", dt: runtime.DataF16, cfg: runtime.DefaultEngineConfiguration()},
	}
}

// runGather gathers a 2x2 dictionary with indices {0, 1, 1, 0} along the
// batch axis.
func runGather(t *testing.T, e runtime.Engine, s runtime.Stream, dt runtime.DataType) (runtime.Event, runtime.Memory) {
	t.Helper()
	alloc := func(layout runtime.Layout) runtime.Memory {
		mem, err := e.AllocateMemoryDefault(layout)
		require.NoError(t, err)
		t.Cleanup(mem.Release)
		return mem
	}
	dict := alloc(runtime.NewLayout(dt, runtime.FormatBFYX, runtime.NewTensor(2, 2, 1, 1)))
	indices := alloc(f32Layout(1, 4, 1, 1))
	output := alloc(runtime.NewLayout(dt, runtime.FormatBFYX, runtime.NewTensor(1, 4, 2, 1)))

	require.NoError(t, runtime.WriteValues(s, dict, []float32{1, 2, 3, 4}))
	require.NoError(t, runtime.WriteValues(s, indices, []float32{0, 1, 1, 0}))

	entry, desc, data, err := kernels.GatherDispatch(dict, indices, output)
	require.NoError(t, err)
	k, err := kernels.Compile(e, entry)
	require.NoError(t, err)

	ev, err := s.EnqueueKernel(k, desc, data, nil, true)
	require.NoError(t, err)
	return ev, output
}

func TestGather(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		for _, tc := range gatherCases() {
			t.Run(fmt.Sprintf("%s/%s", typ, tc.name), func(t *testing.T) {
				e := newEngine(t, typ, tc.cfg, runtime.DeviceQueryOptions{})
				s := newStream(t, e)

				ev, output := runGather(t, e, s, tc.dt)
				require.NoError(t, ev.Wait())
				assert.True(t, ev.IsSet())

				got, err := runtime.ReadValues(s, output)
				require.NoError(t, err)
				assert.Equal(t, []float32{1, 2, 3, 4, 3, 4, 1, 2}, got)

				if tc.cfg.EnableProfiling {
					intervals, err := ev.ProfilingInfo()
					require.NoError(t, err)
					require.Len(t, intervals, 3)
					assert.Equal(t, runtime.StageExecuting, intervals[2].Stage)
				}
				require.NoError(t, s.Finish())
			})
		}
	}
}

func TestGatherIndexOutOfRange(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s := newStream(t, e)

			dict, err := e.AllocateMemoryDefault(f32Layout(2, 2, 1, 1))
			require.NoError(t, err)
			defer dict.Release()
			indices, err := e.AllocateMemoryDefault(f32Layout(1, 1, 1, 1))
			require.NoError(t, err)
			defer indices.Release()
			output, err := e.AllocateMemoryDefault(f32Layout(1, 2, 1, 1))
			require.NoError(t, err)
			defer output.Release()
			require.NoError(t, runtime.WriteValues(s, indices, []float32{7}))

			entry, desc, data, err := kernels.GatherDispatch(dict, indices, output)
			require.NoError(t, err)
			k, err := kernels.Compile(e, entry)
			require.NoError(t, err)
			ev, err := s.EnqueueKernel(k, desc, data, nil, true)
			require.NoError(t, err)

			err = ev.Wait()
			require.ErrorIs(t, err, runtime.ErrExecution)
			var ee *runtime.ExecutionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, driver.KernelExecutionFailed, ee.Status)
			assert.ErrorIs(t, ev.Wait(), runtime.ErrExecution, "every wait reports the failure")

			assert.ErrorIs(t, s.Finish(), runtime.ErrExecution)
			assert.NoError(t, s.Finish(), "errors are reported once")
		})
	}
}

func TestGemm(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s := newStream(t, e)

			alloc := func(n int) runtime.Memory {
				mem, err := e.AllocateMemoryDefault(f32Layout(1, 1, n, 1))
				require.NoError(t, err)
				t.Cleanup(mem.Release)
				return mem
			}
			a, b, c := alloc(4), alloc(4), alloc(4)
			require.NoError(t, runtime.WriteValues(s, a, []float32{1, 2, 3, 4}))
			require.NoError(t, runtime.WriteValues(s, b, []float32{5, 6, 7, 8}))

			desc, data, err := kernels.GemmDispatch(a, b, c, 2, 2, 2)
			require.NoError(t, err)
			k, err := kernels.Compile(e, kernels.GemmF32)
			require.NoError(t, err)
			_, err = s.EnqueueKernel(k, desc, data, nil, false)
			require.NoError(t, err)
			require.NoError(t, s.Finish())

			got, err := runtime.ReadValues(s, c)
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float32{19, 22, 43, 50}, got, 1e-5)
		})
	}
}

func TestDependentKernelsAcrossStreams(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s1, s2 := newStream(t, e), newStream(t, e)

			first, output := runGather(t, e, s1, runtime.DataF32)

			dict, err := e.ReinterpretBuffer(output, f32Layout(4, 2, 1, 1))
			require.NoError(t, err)
			defer dict.Release()
			indices, err := e.AllocateMemoryDefault(f32Layout(1, 2, 1, 1))
			require.NoError(t, err)
			defer indices.Release()
			result, err := e.AllocateMemoryDefault(f32Layout(1, 2, 2, 1))
			require.NoError(t, err)
			defer result.Release()
			require.NoError(t, runtime.WriteValues(s2, indices, []float32{3, 0}))

			entry, desc, data, err := kernels.GatherDispatch(dict, indices, result)
			require.NoError(t, err)
			k, err := kernels.Compile(e, entry)
			require.NoError(t, err)
			second, err := s2.EnqueueKernel(k, desc, data, []runtime.Event{first}, true)
			require.NoError(t, err)

			require.NoError(t, second.Wait())
			got, err := runtime.ReadValues(s2, result)
			require.NoError(t, err)
			assert.Equal(t, []float32{1, 2, 1, 2}, got)
		})
	}
}

func TestUserEventGatesKernel(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s := newStream(t, e)

			gate, err := s.CreateUserEvent(false)
			require.NoError(t, err)
			assert.False(t, gate.IsSet())

			mem, err := e.AllocateMemoryDefault(f32Layout(1, 1, 4, 1))
			require.NoError(t, err)
			defer mem.Release()
			filled, err := mem.Fill(s, 0)
			require.NoError(t, err)
			require.NoError(t, filled.Wait())

			marker, err := s.EnqueueMarker([]runtime.Event{gate}, true)
			require.NoError(t, err)
			require.NoError(t, s.Flush())
			time.Sleep(10 * time.Millisecond)
			assert.False(t, marker.IsSet())

			require.NoError(t, gate.Set())
			require.NoError(t, marker.Wait())
			assert.True(t, marker.IsSet())
			assert.ErrorIs(t, gate.Set(), runtime.ErrInvalidArgument)
		})
	}
}

func TestMarkersAndGroups(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s := newStream(t, e)

			empty, err := s.EnqueueMarker(nil, false)
			require.NoError(t, err)
			assert.True(t, empty.IsSet())

			ev1, _ := runGather(t, e, s, runtime.DataF32)
			ev2, _ := runGather(t, e, s, runtime.DataF32)

			group := s.GroupEvents([]runtime.Event{ev1, ev2})
			require.NoError(t, group.Wait())
			assert.True(t, ev1.IsSet())
			assert.True(t, ev2.IsSet())

			synced, err := s.SyncEvents([]runtime.Event{ev1, ev2}, false)
			require.NoError(t, err)
			require.NoError(t, synced.Wait())

			require.NoError(t, s.EnqueueBarrier())
			base := s.CreateBaseEvent()
			require.NoError(t, s.WaitForEvents([]runtime.Event{base, group}))
			assert.True(t, base.IsSet())

			var notified []runtime.Event
			done := make(chan struct{})
			ev3, _ := runGather(t, e, s, runtime.DataF32)
			ev3.AddEventHandler(func(ev runtime.Event) {
				notified = append(notified, ev)
				close(done)
			})
			require.NoError(t, s.Finish())
			<-done
			assert.Equal(t, []runtime.Event{ev3}, notified)

			s.ResetEvents()
			s.ReleaseEventsPool()
		})
	}
}

func TestResetBaseEventCountsAsSet(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			s := newStream(t, e)

			runGather(t, e, s, runtime.DataF32)
			base := s.CreateBaseEvent()
			require.NoError(t, s.Finish())
			s.ResetEvents()

			assert.NotPanics(t, func() {
				assert.True(t, base.IsSet())
				assert.NoError(t, base.Wait())
			})
			require.NoError(t, s.WaitForEvents([]runtime.Event{base}))
		})
	}
}

func TestKernelClone(t *testing.T) {
	for _, typ := range runtime.CompiledBackends() {
		t.Run(typ.String(), func(t *testing.T) {
			e := newEngine(t, typ, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
			k, err := kernels.Compile(e, kernels.GatherF32)
			require.NoError(t, err)
			clone := k.Clone()
			assert.Equal(t, k.ID(), clone.ID())
			assert.Equal(t, kernels.GatherF32, clone.Name())

			switch typ {
			case runtime.EngineOCL:
				assert.NotSame(t, k.Native(), clone.Native(), "ocl kernels carry a mutable argument table")
			case runtime.EngineSYCL:
				assert.Same(t, k.Native(), clone.Native())
			}
		})
	}
}

func TestKernelFromAnotherEngine(t *testing.T) {
	e1 := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	e2 := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})

	prog, err := e1.UserContext().BuildProgram(kernels.GatherF32)
	require.NoError(t, err)
	nk, err := prog.CreateKernel(kernels.GatherF32)
	require.NoError(t, err)

	_, err = runtime.CreateKernel(e2, nk, "gather")
	assert.ErrorIs(t, err, runtime.ErrInvalidArgument)
	_, err = runtime.CreateKernel(e1, nil, "gather")
	assert.ErrorIs(t, err, runtime.ErrInvalidArgument)
}

func TestQueueHintsIgnoredWithoutExtensions(t *testing.T) {
	dev := testGPU("plain gpu", "0000:0b:00.0", driver.USMCapabilities{Host: true, Shared: true})
	cfg := runtime.DefaultEngineConfiguration()
	cfg.PriorityMode = runtime.PriorityHigh
	cfg.ThrottleMode = runtime.ThrottleLow

	e := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{System: singleDeviceSystem(dev)})
	s, err := e.CreateStream()
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	withHints := newEngine(t, runtime.EngineOCL, cfg, runtime.DeviceQueryOptions{})
	s, err = withHints.CreateStream()
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestSyncMethods(t *testing.T) {
	profiling := runtime.DefaultEngineConfiguration()
	profiling.EnableProfiling = true
	inOrder := runtime.DefaultEngineConfiguration()
	inOrder.QueueType = runtime.QueueInOrder

	tests := []struct {
		cfg  runtime.EngineConfiguration
		want runtime.SyncMethod
	}{
		{cfg: runtime.DefaultEngineConfiguration(), want: runtime.SyncBarriers},
		{cfg: profiling, want: runtime.SyncEvents},
		{cfg: inOrder, want: runtime.SyncNone},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			e := newEngine(t, runtime.EngineOCL, tt.cfg, runtime.DeviceQueryOptions{})
			s := newStream(t, e)
			assert.Equal(t, tt.want, s.SyncMethod())
			assert.Equal(t, tt.cfg.QueueType, s.QueueType())
		})
	}
}

func TestStreamRejectsForeignObjects(t *testing.T) {
	e := newEngine(t, runtime.EngineOCL, runtime.DefaultEngineConfiguration(), runtime.DeviceQueryOptions{})
	s := newStream(t, e)
	_, err := s.EnqueueKernel(fakeKernel{}, runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, nil, false)
	assert.ErrorIs(t, err, runtime.ErrInvalidArgument)
}

type fakeKernel struct{}

func (fakeKernel) ID() string             { return "fake" }
func (fakeKernel) Name() string           { return "fake" }
func (fakeKernel) Native() *driver.Kernel { return nil }
func (fakeKernel) Clone() runtime.Kernel  { return fakeKernel{} }
