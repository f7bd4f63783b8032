package tensor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// ErrUnknownDType is returned by ParseDType for unrecognised names.
var ErrUnknownDType = errors.New("unknown dtype")

// DType is the precision tensors are stored at. Values are always held as
// float32 in memory; lower precisions are emulated by rounding through the
// narrower format, so results match what that format can represent.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

// ParseDType accepts the torch names and their common short forms.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimPrefix(s, "torch.")) {
	case "float32", "float", "fp32", "f32":
		return Float32, nil
	case "float16", "half", "fp16", "f16":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Size returns the number of bytes one element occupies at this precision.
func (d DType) Size() int {
	if d == Float32 {
		return 4
	}
	return 2
}

// RoundSlice rounds every value of data to the precision of d in place.
func (d DType) RoundSlice(data []float32) {
	switch d {
	case Float16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case BFloat16:
		for i, v := range data {
			data[i] = bfloat16.ToFloat32(ToBFloat16(v))
		}
	}
}

// ToBFloat16 converts v to bfloat16, rounding to nearest even as torch does.
// bfloat16.FromFloat32 on its own truncates.
func ToBFloat16(v float32) bfloat16.BF16 {
	u := math.Float32bits(v)
	if u&0x7fffffff > 0x7f800000 {
		// keep NaN a NaN once the low mantissa bits are dropped
		return bfloat16.FromFloat32(math.Float32frombits(u | 0x00400000))
	}
	u += 0x7fff + (u>>16)&1
	return bfloat16.FromFloat32(math.Float32frombits(u &^ 0xffff))
}

// Round rounds t to the precision of d in place and returns t.
func (t *Tensor) Round(d DType) *Tensor {
	d.RoundSlice(t.Data)
	return t
}

// Bytes returns the storage size of t at precision d.
func (t *Tensor) Bytes(d DType) int64 {
	return int64(len(t.Data)) * int64(d.Size())
}
