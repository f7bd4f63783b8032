package tensor

import (
	"strings"
	"testing"
)

// TestLinear tests x @ W^T + b against a hand-computed result
func TestLinear(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{1, 2, 3})
	// Two output features: [1, 0, 1] and [0, 1, -1]
	w, _ := FromSlice([]float32{1, 0, 1, 0, 1, -1}, []int{2, 3})
	b, _ := FromSlice([]float32{10, 20}, []int{2})

	result, err := Linear(x, w, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !shapeEquals(result.Shape, []int{1, 2, 2}) {
		t.Fatalf("Expected shape [1 2 2], got %v", result.Shape)
	}

	expected := []float32{14, 19, 20, 19}
	for i, v := range result.Data {
		if v != expected[i] {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
		}
	}
}

// TestLinearMatchesMatmul checks the transposed-weight layout
func TestLinearMatchesMatmul(t *testing.T) {
	n := NewNormal(0, 1, 3)
	x := RandN([]int{2, 3, 7}, n)
	w := RandN([]int{5, 7}, n)

	got, err := Linear(x, w, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wt, _ := w.Transpose(0, 1)
	want, err := Matmul(x, wt)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !got.Equals(want, 1e-4) {
		t.Error("Linear does not match Matmul with the transposed weight")
	}
}

func TestLinear_InvalidShapes(t *testing.T) {
	x := NewTensor([]int{1, 3})
	tests := []struct {
		name      string
		weight    *Tensor
		bias      *Tensor
		errString string
	}{
		{"1D weight", NewTensor([]int{3}), nil, "must be 2D"},
		{"wrong input features", NewTensor([]int{2, 4}), nil, "doesn't match linear input"},
		{"wrong bias", NewTensor([]int{2, 3}), NewTensor([]int{3}), "bias shape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Linear(x, tt.weight, tt.bias)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errString) {
				t.Errorf("Expected error containing %q, got %q", tt.errString, err.Error())
			}
		})
	}
}

func TestWorkers(t *testing.T) {
	defer SetWorkers(0)

	SetWorkers(3)
	if Workers() != 3 {
		t.Errorf("Expected 3 workers, got %d", Workers())
	}

	SetWorkers(-1)
	if Workers() < 1 {
		t.Errorf("Expected reset to GOMAXPROCS, got %d", Workers())
	}
}

func BenchmarkLinear(b *testing.B) {
	n := NewNormal(0, 1, 1)
	x := RandN([]int{1, 1, 1024}, n)
	w := RandN([]int{4096, 1024}, n)
	bias := NewTensor([]int{4096})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Linear(x, w, bias)
	}
}
