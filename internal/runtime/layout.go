package runtime

import "fmt"

// DataType is the element type of a layout.
type DataType int

const (
	DataF32 DataType = iota
	DataF16
	DataI8
	DataU8
	DataI32
	DataI64
	DataBin
)

var dataTypeNames = map[DataType]string{
	DataF32: "f32",
	DataF16: "f16",
	DataI8:  "i8",
	DataU8:  "u8",
	DataI32: "i32",
	DataI64: "i64",
	DataBin: "bin",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("data_type(%d)", int(t))
}

// Size is the element size in bytes. Binary data packs 32 elements into four
// bytes and reports 0 here.
func (t DataType) Size() int {
	switch t {
	case DataF16:
		return 2
	case DataI8, DataU8:
		return 1
	case DataI64:
		return 8
	case DataBin:
		return 0
	default:
		return 4
	}
}

// Format is the memory order of a layout.
type Format int

const (
	FormatBFYX Format = iota
	FormatYXFB
	FormatBYXF
	FormatFYXB
	FormatBFSYXFSV16
	FormatImage2DWeightsC4FYXB
	FormatImage2DRGBA
)

var formatNames = map[Format]string{
	FormatBFYX:                 "bfyx",
	FormatYXFB:                 "yxfb",
	FormatBYXF:                 "byxf",
	FormatFYXB:                 "fyxb",
	FormatBFSYXFSV16:           "b_fs_yx_fsv16",
	FormatImage2DWeightsC4FYXB: "image_2d_weights_c4_fyx_b",
	FormatImage2DRGBA:          "image_2d_rgba",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// IsImage2D reports whether the format is backed by a 2D image.
func (f Format) IsImage2D() bool {
	return f == FormatImage2DWeightsC4FYXB || f == FormatImage2DRGBA
}

// featureBlock is the feature padding of blocked and image formats.
func (f Format) featureBlock() int {
	switch f {
	case FormatBFSYXFSV16:
		return 16
	case FormatImage2DWeightsC4FYXB, FormatImage2DRGBA:
		return 4
	default:
		return 1
	}
}

// Tensor is a 4D shape.
type Tensor struct {
	Batch   int `json:"b"`
	Feature int `json:"f"`
	X       int `json:"x"`
	Y       int `json:"y"`
}

// NewTensor builds a shape from batch, feature, x and y.
func NewTensor(b, f, x, y int) Tensor {
	return Tensor{Batch: b, Feature: f, X: x, Y: y}
}

// Count is the number of elements.
func (t Tensor) Count() int {
	return t.Batch * t.Feature * t.X * t.Y
}

func (t Tensor) String() string {
	return fmt.Sprintf("b:%d,f:%d,x:%d,y:%d", t.Batch, t.Feature, t.X, t.Y)
}

// Layout is the shape, element type and memory order of a buffer.
type Layout struct {
	DataType DataType `json:"dataType"`
	Format   Format   `json:"format"`
	Size     Tensor   `json:"size"`
}

// NewLayout builds a layout.
func NewLayout(dt DataType, f Format, size Tensor) Layout {
	return Layout{DataType: dt, Format: f, Size: size}
}

// Count is the number of logical elements.
func (l Layout) Count() int {
	return l.Size.Count()
}

// PhysicalCount is the element count with the feature dimension padded to
// the format block size.
func (l Layout) PhysicalCount() int {
	block := l.Format.featureBlock()
	f := (l.Size.Feature + block - 1) / block * block
	return l.Size.Batch * f * l.Size.X * l.Size.Y
}

// BytesCount is the allocation size in bytes.
func (l Layout) BytesCount() uint64 {
	n := l.PhysicalCount()
	if n <= 0 {
		return 0
	}
	if l.DataType == DataBin {
		return uint64((n+31)/32) * 4
	}
	return uint64(n) * uint64(l.DataType.Size())
}

// ImageSize returns the width and height of the 2D image backing an image
// layout: width covers x with four features per pixel, height covers y and
// batch.
func (l Layout) ImageSize() (width, height int) {
	f := (l.Size.Feature + 3) / 4
	return l.Size.X * f, l.Size.Y * l.Size.Batch
}

func (l Layout) String() string {
	return fmt.Sprintf("%s:%s:%s", l.DataType, l.Format, l.Size)
}
