package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/gpurt/internal/driver"
)

func testBuffer(t *testing.T, layout Layout) *NativeMemory {
	t.Helper()
	dev := driver.DefaultSystem().Platforms()[0].Devices(driver.DeviceTypeGPU)[0]
	ctx, err := driver.NewContext(dev)
	require.NoError(t, err)
	buf, err := ctx.CreateBuffer(driver.MemReadWrite, int(layout.BytesCount()), nil)
	require.NoError(t, err)
	mem := NewNativeMemory(nil, layout, AllocationCLMem, buf, false)
	t.Cleanup(mem.Release)
	return mem
}

func TestScalarBytes(t *testing.T) {
	assert.Equal(t, []byte{0xff}, Int8Scalar(-1).Bytes())
	assert.Equal(t, []byte{0x34, 0x12}, Uint16Scalar(0x1234).Bytes())
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, Float32Scalar(1).Bytes())
	assert.Len(t, Float64Scalar(1).Bytes(), 8)
	assert.Len(t, Int64Scalar(-2).Bytes(), 8)
}

func TestResolveArguments(t *testing.T) {
	in := testBuffer(t, NewLayout(DataF32, FormatBFYX, NewTensor(1, 1, 4, 1)))
	out := testBuffer(t, NewLayout(DataF32, FormatBFYX, NewTensor(1, 1, 4, 1)))
	weights := testBuffer(t, NewLayout(DataF32, FormatBFYX, NewTensor(1, 1, 2, 1)))

	desc := KernelArgumentsDesc{
		WorkGroups: WorkGroupSizes{Global: []int{4}},
		Arguments: []ArgumentDesc{
			{Type: ArgInput, Index: 0},
			{Type: ArgWeights},
			{Type: ArgOutput},
			{Type: ArgScalar, Index: 1},
			{Type: ArgSplit},
		},
	}
	data := KernelArgumentsData{
		Inputs:  []Memory{in},
		Weights: weights,
		Output:  out,
		Scalars: []ScalarDesc{Uint8Scalar(1), Uint32Scalar(7)},
		Split:   2,
	}

	args, err := ResolveArguments(desc, data)
	require.NoError(t, err)
	require.Len(t, args, 5)
	assert.Same(t, in.Native(), args[0].Mem)
	assert.Same(t, weights.Native(), args[1].Mem)
	assert.Same(t, out.Native(), args[2].Mem)
	v, err := args[3].Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
	split, err := args[4].Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), split)

	nd, err := desc.WorkGroups.NDRange()
	require.NoError(t, err)
	assert.Equal(t, 4, nd.GlobalSize())
}

func TestResolveArgumentsErrors(t *testing.T) {
	in := testBuffer(t, NewLayout(DataF32, FormatBFYX, NewTensor(1, 1, 4, 1)))
	tests := []struct {
		name string
		arg  ArgumentDesc
	}{
		{"input index", ArgumentDesc{Type: ArgInput, Index: 3}},
		{"unbound bias", ArgumentDesc{Type: ArgBias}},
		{"scalar index", ArgumentDesc{Type: ArgScalar, Index: 0}},
		{"fused input", ArgumentDesc{Type: ArgInputOfFusedPrimitive, Index: 0}},
		{"unknown type", ArgumentDesc{Type: ArgumentType(99)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := KernelArgumentsDesc{Arguments: []ArgumentDesc{tt.arg}}
			_, err := ResolveArguments(desc, KernelArgumentsData{Inputs: []Memory{in}})
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err := WorkGroupSizes{Global: []int{6}, Local: []int{4}}.NDRange()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNativeMemoryRefCount(t *testing.T) {
	mem := testBuffer(t, NewLayout(DataU8, FormatBFYX, NewTensor(1, 1, 8, 1)))
	assert.Equal(t, 1, mem.RefCount())
	mem.Retain()
	assert.Equal(t, 2, mem.RefCount())
	mem.Release()
	assert.Equal(t, uint64(8), mem.Size())
	assert.Equal(t, SharedMemBuffer, mem.SharedParams().Type)
}
