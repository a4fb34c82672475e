package kernels

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

func decodeF32(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// gemm computes C = A x B for row-major f32 matrices, one output row per
// work item. Arguments: A, B, C, M, N, K.
func gemm(nd driver.NDRange, args []driver.Arg) error {
	if err := checkArgs("gemm", args, 6); err != nil {
		return err
	}
	var dims [3]uint32
	for i := range dims {
		v, err := args[3+i].Uint32()
		if err != nil {
			return err
		}
		dims[i] = v
	}
	m, n, k := int(dims[0]), int(dims[1]), int(dims[2])
	ab, bb, cb := args[0].Mem.Bytes(), args[1].Mem.Bytes(), args[2].Mem.Bytes()
	switch {
	case nd.GlobalSize() != m:
		return fmt.Errorf("gemm: %d work items for %d rows", nd.GlobalSize(), m)
	case len(ab) < m*k*4, len(bb) < k*n*4, len(cb) < m*n*4:
		return fmt.Errorf("gemm: buffers too small for %dx%dx%d", m, n, k)
	}

	a := decodeF32(ab, m*k)
	b := blas32.General{Rows: k, Cols: n, Stride: n, Data: decodeF32(bb, k*n)}
	c := make([]float32, m*n)
	err := nd.ParallelFor(func(row int) error {
		x := blas32.Vector{N: k, Data: a[row*k : (row+1)*k], Inc: 1}
		y := blas32.Vector{N: n, Data: c[row*n : (row+1)*n], Inc: 1}
		blas32.Gemv(blas.Trans, 1, b, x, 0, y)
		return nil
	})
	if err != nil {
		return err
	}
	for i, v := range c {
		binary.LittleEndian.PutUint32(cb[i*4:], math.Float32bits(v))
	}
	return nil
}

// GemmDispatch prepares C = A x B where A is m x k and B is k x n.
func GemmDispatch(a, b, c runtime.Memory, m, n, k int) (runtime.KernelArgumentsDesc, runtime.KernelArgumentsData, error) {
	for _, mem := range []runtime.Memory{a, b, c} {
		if mem.Layout().DataType != runtime.DataF32 {
			return runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gemm over %s", runtime.ErrInvalidArgument, mem.Layout().DataType)
		}
	}
	if a.Layout().Count() < m*k || b.Layout().Count() < k*n || c.Layout().Count() < m*n {
		return runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gemm operands too small for %dx%dx%d", runtime.ErrInvalidArgument, m, n, k)
	}
	desc := runtime.KernelArgumentsDesc{
		WorkGroups: runtime.WorkGroupSizes{Global: []int{m}},
		Arguments: []runtime.ArgumentDesc{
			{Type: runtime.ArgInput, Index: 0},
			{Type: runtime.ArgWeights},
			{Type: runtime.ArgOutput},
			{Type: runtime.ArgScalar, Index: 0},
			{Type: runtime.ArgScalar, Index: 1},
			{Type: runtime.ArgScalar, Index: 2},
		},
		LayerID: "gemm",
	}
	data := runtime.KernelArgumentsData{
		Inputs:  []runtime.Memory{a},
		Weights: b,
		Output:  c,
		Scalars: []runtime.ScalarDesc{
			runtime.Uint32Scalar(uint32(m)),
			runtime.Uint32Scalar(uint32(n)),
			runtime.Uint32Scalar(uint32(k)),
		},
	}
	return desc, data, nil
}
