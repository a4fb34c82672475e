package runtime

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// WriteValues converts values to the data type of mem and copies them to the
// device, blocking until the copy completed. f32, f16 and i32 are supported.
func WriteValues(s Stream, mem Memory, values []float32) error {
	dt := mem.Layout().DataType
	size := dt.Size()
	if dt != DataF32 && dt != DataF16 && dt != DataI32 {
		return fmt.Errorf("%w: host conversion to %s", ErrInvalidArgument, dt)
	}
	buf := make([]byte, len(values)*size)
	for i, v := range values {
		switch dt {
		case DataF32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		case DataF16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		case DataI32:
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
		}
	}
	_, err := mem.CopyFromHost(s, buf, true)
	return err
}

// ReadValues copies the logical elements of mem to the host as float32,
// blocking until the copy completed.
func ReadValues(s Stream, mem Memory) ([]float32, error) {
	dt := mem.Layout().DataType
	if dt != DataF32 && dt != DataF16 && dt != DataI32 {
		return nil, fmt.Errorf("%w: host conversion from %s", ErrInvalidArgument, dt)
	}
	n := mem.Layout().Count()
	buf := make([]byte, n*dt.Size())
	if _, err := mem.CopyToHost(s, buf, true); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		switch dt {
		case DataF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		case DataF16:
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		case DataI32:
			out[i] = float32(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	}
	return out, nil
}
