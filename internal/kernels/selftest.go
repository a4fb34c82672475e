package kernels

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/fxnlabs/gpurt/internal/metrics"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// Check is the outcome of one self-test kernel.
type Check struct {
	Name      string                      `json:"name"`
	Passed    bool                        `json:"passed"`
	Elapsed   time.Duration               `json:"elapsed"`
	Got       []float32                   `json:"got,omitempty"`
	Want      []float32                   `json:"want,omitempty"`
	Profiling []runtime.ProfilingInterval `json:"profiling,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

// Report is the result of SelfTest.
type Report struct {
	Engine  string  `json:"engine"`
	Backend string  `json:"backend"`
	Device  string  `json:"device"`
	Checks  []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return len(r.Checks) > 0
}

const tolerance = 1e-4

// SelfTest runs the reference kernels on a fresh stream of e and compares
// them against host results. Kernel failures are reported per check; the
// error is only set when the stream itself cannot be used.
func SelfTest(e runtime.Engine, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("selftest").With(zap.String("engine_id", e.ID()))
	report := Report{
		Engine:  e.ID(),
		Backend: e.Type().String(),
		Device:  e.DeviceInfo().Name,
	}
	s, err := e.CreateStream()
	if err != nil {
		return report, err
	}
	defer s.Close()

	for _, run := range []struct {
		name string
		fn   func(runtime.Engine, runtime.Stream, *Check) error
	}{
		{"gather_f32", selfTestGather},
		{"gemm_f32", selfTestGemm},
	} {
		check := Check{Name: run.name}
		start := time.Now()
		err := run.fn(e, s, &check)
		check.Elapsed = time.Since(start)
		if err == nil {
			err = compare(check.Got, check.Want)
		}
		if err != nil {
			check.Error = err.Error()
			log.Warn("self-test check failed", zap.String("check", run.name), zap.Error(err))
		} else {
			check.Passed = true
			log.Debug("self-test check passed", zap.String("check", run.name), zap.Duration("elapsed", check.Elapsed))
		}
		report.Checks = append(report.Checks, check)
	}
	if err := s.Finish(); err != nil {
		return report, err
	}
	return report, nil
}

func compare(got, want []float32) error {
	if len(got) != len(want) {
		return fmt.Errorf("got %d values, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tolerance {
			return fmt.Errorf("value %d: got %g, want %g", i, got[i], want[i])
		}
	}
	return nil
}

type allocator struct {
	e    runtime.Engine
	mems []runtime.Memory
}

func (a *allocator) alloc(layout runtime.Layout) (runtime.Memory, error) {
	mem, err := a.e.AllocateMemoryDefault(layout)
	if err != nil {
		return nil, err
	}
	a.mems = append(a.mems, mem)
	return mem, nil
}

func (a *allocator) release() {
	for _, mem := range a.mems {
		mem.Release()
	}
}

func f32(b, f, x, y int) runtime.Layout {
	return runtime.NewLayout(runtime.DataF32, runtime.FormatBFYX, runtime.NewTensor(b, f, x, y))
}

func selfTestGather(e runtime.Engine, s runtime.Stream, check *Check) error {
	a := &allocator{e: e}
	defer a.release()

	dictValues := []float32{1, 2, 3, 4}
	indexValues := []float32{0, 1, 1, 0}
	dict, err := a.alloc(f32(2, 2, 1, 1))
	if err != nil {
		return err
	}
	indices, err := a.alloc(f32(1, 4, 1, 1))
	if err != nil {
		return err
	}
	output, err := a.alloc(f32(1, 4, 2, 1))
	if err != nil {
		return err
	}
	if err := runtime.WriteValues(s, dict, dictValues); err != nil {
		return err
	}
	if err := runtime.WriteValues(s, indices, indexValues); err != nil {
		return err
	}

	rowLen := len(dictValues) / 2
	for _, idx := range indexValues {
		row := int(idx)
		check.Want = append(check.Want, dictValues[row*rowLen:(row+1)*rowLen]...)
	}

	entry, desc, data, err := GatherDispatch(dict, indices, output)
	if err != nil {
		return err
	}
	return dispatch(e, s, entry, desc, data, output, check)
}

func selfTestGemm(e runtime.Engine, s runtime.Stream, check *Check) error {
	a := &allocator{e: e}
	defer a.release()

	const m, n, k = 2, 2, 3
	aValues := []float64{1, 2, 3, 4, 5, 6}
	bValues := []float64{7, 8, 9, 10, 11, 12}

	var want mat.Dense
	want.Mul(mat.NewDense(m, k, aValues), mat.NewDense(k, n, bValues))
	for _, v := range want.RawMatrix().Data {
		check.Want = append(check.Want, float32(v))
	}

	am, err := a.alloc(f32(1, 1, m*k, 1))
	if err != nil {
		return err
	}
	bm, err := a.alloc(f32(1, 1, k*n, 1))
	if err != nil {
		return err
	}
	cm, err := a.alloc(f32(1, 1, m*n, 1))
	if err != nil {
		return err
	}
	if err := runtime.WriteValues(s, am, toF32(aValues)); err != nil {
		return err
	}
	if err := runtime.WriteValues(s, bm, toF32(bValues)); err != nil {
		return err
	}

	desc, data, err := GemmDispatch(am, bm, cm, m, n, k)
	if err != nil {
		return err
	}
	return dispatch(e, s, GemmF32, desc, data, cm, check)
}

func dispatch(e runtime.Engine, s runtime.Stream, entry string, desc runtime.KernelArgumentsDesc, data runtime.KernelArgumentsData, output runtime.Memory, check *Check) error {
	kern, err := Compile(e, entry)
	if err != nil {
		return err
	}
	ev, err := s.EnqueueKernel(kern, desc, data, nil, true)
	if err != nil {
		return err
	}
	if err := ev.Wait(); err != nil {
		return err
	}
	if e.Configuration().EnableProfiling {
		if intervals, err := ev.ProfilingInfo(); err == nil {
			check.Profiling = intervals
			for _, iv := range intervals {
				if iv.Stage == runtime.StageExecuting {
					metrics.KernelExecutionSeconds.WithLabelValues(e.Type().String(), entry).Observe(iv.Duration.Seconds())
				}
			}
		}
	}
	check.Got, err = runtime.ReadValues(s, output)
	return err
}

func toF32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
