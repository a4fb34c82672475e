package runtime

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxnlabs/gpurt/internal/driver"
)

// WorkGroupSizes are the global and local ND-range sizes of a dispatch.
type WorkGroupSizes struct {
	Global []int
	Local  []int
}

// ScalarType is the type of a scalar kernel argument.
type ScalarType int

const (
	ScalarUint8 ScalarType = iota
	ScalarUint16
	ScalarUint32
	ScalarUint64
	ScalarInt8
	ScalarInt16
	ScalarInt32
	ScalarInt64
	ScalarFloat32
	ScalarFloat64
)

// ScalarDesc is a typed scalar argument value.
type ScalarDesc struct {
	Type ScalarType
	bits uint64
}

func Uint8Scalar(v uint8) ScalarDesc     { return ScalarDesc{Type: ScalarUint8, bits: uint64(v)} }
func Uint16Scalar(v uint16) ScalarDesc   { return ScalarDesc{Type: ScalarUint16, bits: uint64(v)} }
func Uint32Scalar(v uint32) ScalarDesc   { return ScalarDesc{Type: ScalarUint32, bits: uint64(v)} }
func Uint64Scalar(v uint64) ScalarDesc   { return ScalarDesc{Type: ScalarUint64, bits: v} }
func Int8Scalar(v int8) ScalarDesc       { return ScalarDesc{Type: ScalarInt8, bits: uint64(uint8(v))} }
func Int16Scalar(v int16) ScalarDesc     { return ScalarDesc{Type: ScalarInt16, bits: uint64(uint16(v))} }
func Int32Scalar(v int32) ScalarDesc     { return ScalarDesc{Type: ScalarInt32, bits: uint64(uint32(v))} }
func Int64Scalar(v int64) ScalarDesc     { return ScalarDesc{Type: ScalarInt64, bits: uint64(v)} }
func Float32Scalar(v float32) ScalarDesc { return ScalarDesc{Type: ScalarFloat32, bits: uint64(math.Float32bits(v))} }
func Float64Scalar(v float64) ScalarDesc { return ScalarDesc{Type: ScalarFloat64, bits: math.Float64bits(v)} }

// Bytes is the little-endian encoding of the value at its natural size.
func (s ScalarDesc) Bytes() []byte {
	var size int
	switch s.Type {
	case ScalarUint8, ScalarInt8:
		size = 1
	case ScalarUint16, ScalarInt16:
		size = 2
	case ScalarUint32, ScalarInt32, ScalarFloat32:
		size = 4
	default:
		size = 8
	}
	return binary.LittleEndian.AppendUint64(nil, s.bits)[:size]
}

// ArgumentType selects which field of KernelArgumentsData an argument is
// taken from.
type ArgumentType int

const (
	ArgInput ArgumentType = iota
	ArgOutput
	ArgWeights
	ArgBias
	ArgScaleTable
	ArgSlope
	ArgSplit
	ArgInternalBuffer
	ArgScalar
	ArgRecurrent
	ArgHidden
	ArgCell
	ArgLSTMPack
	ArgWeightsZeroPoints
	ArgActivationsZeroPoints
	ArgCompensation
	ArgInputOfFusedPrimitive
)

var argumentTypeNames = [...]string{
	"input", "output", "weights", "bias", "scale_table", "slope", "split",
	"internal_buffer", "scalar", "recurrent", "hidden", "cell", "lstm_pack",
	"weights_zero_points", "activations_zero_points", "compensation",
	"input_of_fused_primitive",
}

func (t ArgumentType) String() string {
	if int(t) < 0 || int(t) >= len(argumentTypeNames) {
		return fmt.Sprintf("argument(%d)", int(t))
	}
	return argumentTypeNames[t]
}

// ArgumentDesc is one kernel argument slot. Index selects the element for
// list-valued sources (inputs, intermediates, scalars, fused inputs).
type ArgumentDesc struct {
	Type  ArgumentType
	Index uint32
}

// KernelArgumentsDesc describes how to launch a kernel.
type KernelArgumentsDesc struct {
	WorkGroups WorkGroupSizes
	Arguments  []ArgumentDesc
	LayerID    string
}

// KernelArgumentsData binds concrete memories and scalars to a dispatch.
type KernelArgumentsData struct {
	Inputs                []Memory
	Intermediates         []Memory
	Output                Memory
	Weights               Memory
	Recurrent             Memory
	Hidden                Memory
	Cell                  Memory
	Bias                  Memory
	WeightsZeroPoints     Memory
	ActivationsZeroPoints Memory
	Compensation          Memory
	LookupTable           Memory
	ScaleTable            Memory
	Slope                 Memory
	FusedOpInputs         []Memory
	Split                 int32
	Scalars               []ScalarDesc
}

func pick(list []Memory, i uint32, what string) (Memory, error) {
	if int(i) >= len(list) {
		return nil, fmt.Errorf("%w: %s index %d out of %d", ErrInvalidArgument, what, i, len(list))
	}
	return list[i], nil
}

func (d KernelArgumentsData) memoryFor(a ArgumentDesc) (Memory, error) {
	switch a.Type {
	case ArgInput:
		return pick(d.Inputs, a.Index, "input")
	case ArgInputOfFusedPrimitive:
		return pick(d.FusedOpInputs, a.Index, "fused input")
	case ArgInternalBuffer:
		return pick(d.Intermediates, a.Index, "internal buffer")
	case ArgOutput:
		return d.Output, nil
	case ArgWeights:
		return d.Weights, nil
	case ArgBias:
		return d.Bias, nil
	case ArgScaleTable:
		return d.ScaleTable, nil
	case ArgSlope:
		return d.Slope, nil
	case ArgRecurrent:
		return d.Recurrent, nil
	case ArgHidden:
		return d.Hidden, nil
	case ArgCell:
		return d.Cell, nil
	case ArgLSTMPack:
		return d.LookupTable, nil
	case ArgWeightsZeroPoints:
		return d.WeightsZeroPoints, nil
	case ArgActivationsZeroPoints:
		return d.ActivationsZeroPoints, nil
	case ArgCompensation:
		return d.Compensation, nil
	}
	return nil, fmt.Errorf("%w: argument type %s", ErrInvalidArgument, a.Type)
}

// ResolveArguments maps the argument slots of desc to native kernel
// arguments.
func ResolveArguments(desc KernelArgumentsDesc, data KernelArgumentsData) ([]driver.Arg, error) {
	args := make([]driver.Arg, 0, len(desc.Arguments))
	for i, a := range desc.Arguments {
		switch a.Type {
		case ArgScalar:
			if int(a.Index) >= len(data.Scalars) {
				return nil, fmt.Errorf("%w: argument %d: scalar index %d out of %d", ErrInvalidArgument, i, a.Index, len(data.Scalars))
			}
			args = append(args, driver.ScalarArg(data.Scalars[a.Index].Bytes()))
		case ArgSplit:
			args = append(args, driver.ScalarArg(Int32Scalar(data.Split).Bytes()))
		default:
			mem, err := data.memoryFor(a)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			if mem == nil {
				return nil, fmt.Errorf("%w: argument %d (%s) has no memory bound", ErrInvalidArgument, i, a.Type)
			}
			args = append(args, driver.MemArg(mem.Native()))
		}
	}
	return args, nil
}

// NDRange converts the work-group sizes to a native range.
func (w WorkGroupSizes) NDRange() (driver.NDRange, error) {
	nd, err := driver.NewNDRange(w.Global, w.Local)
	if err != nil {
		return driver.NDRange{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nd, nil
}
