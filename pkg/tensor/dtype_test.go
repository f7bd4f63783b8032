package tensor

import (
	"errors"
	"math"
	"testing"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		input    string
		expected DType
	}{
		{"float32", Float32},
		{"fp32", Float32},
		{"torch.float16", Float16},
		{"half", Float16},
		{"bfloat16", BFloat16},
		{"BF16", BFloat16},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDType(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}

	if _, err := ParseDType("int8"); !errors.Is(err, ErrUnknownDType) {
		t.Errorf("Expected ErrUnknownDType, got %v", err)
	}
}

func TestDTypeSize(t *testing.T) {
	if Float32.Size() != 4 || Float16.Size() != 2 || BFloat16.Size() != 2 {
		t.Errorf("Unexpected sizes: %d %d %d", Float32.Size(), Float16.Size(), BFloat16.Size())
	}

	x := NewTensor([]int{3, 4})
	if x.Bytes(BFloat16) != 24 {
		t.Errorf("Expected 24 bytes, got %d", x.Bytes(BFloat16))
	}
}

// TestRound tests that rounding loses precision the way the narrow format does
func TestRound(t *testing.T) {
	tests := []struct {
		dtype    DType
		input    float32
		expected float32
	}{
		{Float32, 1.0001, 1.0001},
		// 1 + 2^-10 is exactly representable in float16
		{Float16, 1.0009765625, 1.0009765625},
		// bfloat16 has 7 mantissa bits, so 1 + 2^-10 rounds down to 1
		{BFloat16, 1.0009765625, 1},
		// above half an ulp rounds up
		{BFloat16, 1 + 0x1p-8 + 0x1p-9, 1.0078125},
		{BFloat16, 1.0078, 1.0078125},
		{BFloat16, -1.0078, -1.0078125},
		// ties go to the even mantissa
		{BFloat16, 1 + 0x1p-8, 1},
		{BFloat16, 1 + 3*0x1p-8, 1.015625},
		{BFloat16, 1.5, 1.5},
		{BFloat16, -2, -2},
	}

	for _, tt := range tests {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			x, _ := FromSlice([]float32{tt.input}, []int{1})
			x.Round(tt.dtype)
			if x.Data[0] != tt.expected {
				t.Errorf("Round(%v) of %v: expected %v, got %v", tt.dtype, tt.input, tt.expected, x.Data[0])
			}
		})
	}
}

func TestRoundBFloat16_Special(t *testing.T) {
	data := []float32{
		float32(math.NaN()),
		math.Float32frombits(0x7f800001), // NaN with only low mantissa bits set
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		0,
	}
	BFloat16.RoundSlice(data)

	if !math.IsNaN(float64(data[0])) || !math.IsNaN(float64(data[1])) {
		t.Errorf("Expected NaN to stay NaN, got %v %v", data[0], data[1])
	}
	if !math.IsInf(float64(data[2]), 1) || !math.IsInf(float64(data[3]), -1) {
		t.Errorf("Expected infinities to be kept, got %v %v", data[2], data[3])
	}
	if data[4] != 0 {
		t.Errorf("Expected 0, got %v", data[4])
	}
}

func TestRoundSlice_NoAllocs(t *testing.T) {
	data := make([]float32, 256)
	for i := range data {
		data[i] = float32(i) * 1.0009765625
	}

	for _, d := range []DType{Float16, BFloat16} {
		allocs := testing.AllocsPerRun(10, func() { d.RoundSlice(data) })
		if allocs != 0 {
			t.Errorf("%v: expected no allocations, got %v", d, allocs)
		}
	}
}
