package model

import (
	"math"
	"testing"

	"blockbench/pkg/tensor"
)

func TestAlibiSlopes(t *testing.T) {
	tests := []struct {
		numHeads int
		want     []float64
	}{
		{1, []float64{0.00390625}},
		{6, []float64{0.25, 0.0625, 0.015625, 0.00390625, 0.5, 0.125}},
		{8, []float64{0.5, 0.25, 0.125, 0.0625, 0.03125, 0.015625, 0.0078125, 0.00390625}},
	}

	for _, tt := range tests {
		got := AlibiSlopes(tt.numHeads)
		if len(got) != len(tt.want) {
			t.Fatalf("%d heads: expected %d slopes, got %d", tt.numHeads, len(tt.want), len(got))
		}
		for i := range got {
			if math.Abs(got[i]-tt.want[i]) > 1e-12 {
				t.Errorf("%d heads: slope[%d] = %v, expected %v", tt.numHeads, i, got[i], tt.want[i])
			}
		}
	}
}

func TestAlibiSlopes_Count(t *testing.T) {
	for _, n := range []int{3, 5, 12, 16, 112} {
		if got := len(AlibiSlopes(n)); got != n {
			t.Errorf("AlibiSlopes(%d) returned %d slopes", n, got)
		}
	}
}

func TestBuildAlibiTensor(t *testing.T) {
	alibi, err := BuildAlibiTensor(5, 8, tensor.Float32)
	if err != nil {
		t.Fatalf("BuildAlibiTensor failed: %v", err)
	}

	if !shapeEquals(alibi.Shape, []int{8, 1, 5}) {
		t.Fatalf("Expected shape [8 1 5], got %v", alibi.Shape)
	}

	slopes := AlibiSlopes(8)
	for h := 0; h < 8; h++ {
		for j := 0; j < 5; j++ {
			want := float32(slopes[h]) * float32(j)
			if got := alibi.Data[h*5+j]; got != want {
				t.Errorf("alibi[%d,0,%d] = %v, expected %v", h, j, got, want)
			}
		}
	}
}

func TestBuildAlibiTensor_Rounded(t *testing.T) {
	alibi, err := BuildAlibiTensor(300, 6, tensor.BFloat16)
	if err != nil {
		t.Fatalf("BuildAlibiTensor failed: %v", err)
	}

	again := alibi.Clone().Round(tensor.BFloat16)
	if !again.Equals(alibi, 0) {
		t.Error("Expected values already rounded to bfloat16")
	}
}

func TestBuildAlibiTensor_Invalid(t *testing.T) {
	if _, err := BuildAlibiTensor(0, 8, tensor.Float32); err == nil {
		t.Error("Expected error for zero length")
	}
	if _, err := BuildAlibiTensor(4, 0, tensor.Float32); err == nil {
		t.Error("Expected error for zero heads")
	}
}

func shapeEquals(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
