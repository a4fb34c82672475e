package kernels

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxnlabs/gpurt/internal/driver"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

// gather copies dictionary rows selected by f32 indices into the output.
// Arguments: dictionary, indices, output, row length, dictionary rows.
func gather(elemSize int) driver.KernelFunc {
	return func(nd driver.NDRange, args []driver.Arg) error {
		if err := checkArgs("gather", args, 5); err != nil {
			return err
		}
		rowLen, err := args[3].Uint32()
		if err != nil {
			return err
		}
		rows, err := args[4].Uint32()
		if err != nil {
			return err
		}
		dict, idx, out := args[0].Mem.Bytes(), args[1].Mem.Bytes(), args[2].Mem.Bytes()
		total := nd.GlobalSize()
		switch {
		case rowLen == 0:
			return fmt.Errorf("gather: zero row length")
		case len(dict) < int(rows*rowLen)*elemSize:
			return fmt.Errorf("gather: dictionary holds %d bytes, need %d", len(dict), int(rows*rowLen)*elemSize)
		case len(out) < total*elemSize:
			return fmt.Errorf("gather: output holds %d bytes, need %d", len(out), total*elemSize)
		case len(idx) < total/int(rowLen)*4:
			return fmt.Errorf("gather: %d index bytes for %d work items", len(idx), total)
		}

		return nd.ParallelFor(func(gid int) error {
			i, j := gid/int(rowLen), gid%int(rowLen)
			v := math.Float32frombits(binary.LittleEndian.Uint32(idx[i*4:]))
			row := int(v)
			if row < 0 || row >= int(rows) {
				return fmt.Errorf("gather: index %v out of range [0, %d)", v, rows)
			}
			src := (row*int(rowLen) + j) * elemSize
			copy(out[gid*elemSize:(gid+1)*elemSize], dict[src:src+elemSize])
			return nil
		})
	}
}

// GatherDispatch prepares a gather along the batch axis: every index selects
// one batch of dict. indices is an f32 tensor; output must hold one
// dictionary row per index.
func GatherDispatch(dict, indices, output runtime.Memory) (string, runtime.KernelArgumentsDesc, runtime.KernelArgumentsData, error) {
	var entry string
	switch dt := dict.Layout().DataType; dt {
	case runtime.DataF32:
		entry = GatherF32
	case runtime.DataF16:
		entry = GatherF16
	default:
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather over %s", runtime.ErrInvalidArgument, dt)
	}
	if indices.Layout().DataType != runtime.DataF32 {
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather indices must be f32", runtime.ErrInvalidArgument)
	}
	if output.Layout().DataType != dict.Layout().DataType {
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather output type %s, dictionary %s",
			runtime.ErrInvalidArgument, output.Layout().DataType, dict.Layout().DataType)
	}

	rows := dict.Layout().Size.Batch
	if rows <= 0 || dict.Layout().Count() == 0 {
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather over empty dictionary %s",
			runtime.ErrInvalidArgument, dict.Layout())
	}
	rowLen := dict.Layout().Count() / rows
	n := indices.Layout().Count()
	if n == 0 {
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather without indices", runtime.ErrInvalidArgument)
	}
	if output.Layout().Count() != n*rowLen {
		return "", runtime.KernelArgumentsDesc{}, runtime.KernelArgumentsData{}, fmt.Errorf("%w: gather output has %d elements, want %d",
			runtime.ErrInvalidArgument, output.Layout().Count(), n*rowLen)
	}

	desc := runtime.KernelArgumentsDesc{
		WorkGroups: runtime.WorkGroupSizes{Global: []int{n * rowLen}},
		Arguments: []runtime.ArgumentDesc{
			{Type: runtime.ArgInput, Index: 0},
			{Type: runtime.ArgInput, Index: 1},
			{Type: runtime.ArgOutput},
			{Type: runtime.ArgScalar, Index: 0},
			{Type: runtime.ArgScalar, Index: 1},
		},
		LayerID: "gather",
	}
	data := runtime.KernelArgumentsData{
		Inputs:  []runtime.Memory{dict, indices},
		Output:  output,
		Scalars: []runtime.ScalarDesc{runtime.Uint32Scalar(uint32(rowLen)), runtime.Uint32Scalar(uint32(rows))},
	}
	return entry, desc, data, nil
}
