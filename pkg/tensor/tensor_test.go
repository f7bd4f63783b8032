package tensor

import (
	"math"
	"strings"
	"testing"
)

// TestNewTensor tests tensor creation
func TestNewTensor(t *testing.T) {
	tests := []struct {
		name     string
		shape    []int
		expected int
	}{
		{"1D", []int{5}, 5},
		{"2D", []int{3, 4}, 12},
		{"4D", []int{1, 2, 3, 4}, 24},
		{"empty dim", []int{2, 0, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor := NewTensor(tt.shape)

			if !shapeEquals(tensor.Shape, tt.shape) {
				t.Errorf("Expected shape %v, got %v", tt.shape, tensor.Shape)
			}

			if len(tensor.Data) != tt.expected {
				t.Errorf("Expected data length %d, got %d", tt.expected, len(tensor.Data))
			}

			for i, v := range tensor.Data {
				if v != 0 {
					t.Errorf("Expected zero at index %d, got %f", i, v)
				}
			}
		})
	}
}

// TestFromSlice tests creating tensor from slice
func TestFromSlice(t *testing.T) {
	tests := []struct {
		name      string
		data      []float32
		shape     []int
		wantErr   bool
		errString string
	}{
		{name: "valid 2D", data: []float32{1, 2, 3, 4, 5, 6}, shape: []int{2, 3}},
		{name: "valid 3D", data: []float32{1, 2, 3, 4, 5, 6, 7, 8}, shape: []int{2, 2, 2}},
		{name: "size mismatch", data: []float32{1, 2, 3}, shape: []int{2, 2}, wantErr: true, errString: "does not match shape"},
		{name: "negative dim", data: []float32{}, shape: []int{-1, 2}, wantErr: true, errString: "invalid dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := FromSlice(tt.data, tt.shape)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected error containing %q, got %q", tt.errString, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			// FromSlice must copy
			tt.data[0] = 100
			if tensor.Data[0] == 100 {
				t.Error("FromSlice should copy the input data")
			}
		})
	}
}

// TestWrapSharesData tests that Wrap does not copy
func TestWrapSharesData(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	tensor, err := Wrap(data, []int{2, 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	data[3] = 40
	if tensor.Data[3] != 40 {
		t.Errorf("Expected wrapped tensor to see update, got %f", tensor.Data[3])
	}

	if _, err := Wrap(data, []int{3}); err == nil {
		t.Error("Expected error for mismatched shape")
	}
}

// TestView tests reshaping without copying
func TestView(t *testing.T) {
	tensor, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})

	view, err := tensor.View([]int{3, 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !shapeEquals(view.Shape, []int{3, 2}) || !shapeEquals(view.Strides, []int{2, 1}) {
		t.Errorf("Expected shape [3 2] with strides [2 1], got %v %v", view.Shape, view.Strides)
	}

	view.Data[0] = 10
	if tensor.Data[0] != 10 {
		t.Error("View should share data with the original tensor")
	}

	if _, err := tensor.View([]int{4, 2}); err == nil {
		t.Error("Expected error for incompatible view")
	}
}

// TestTranspose tests dimension swapping
func TestTranspose(t *testing.T) {
	t.Run("2D", func(t *testing.T) {
		tensor, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})
		result, err := tensor.Transpose(0, 1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		expected := []float32{1, 4, 2, 5, 3, 6}
		if !shapeEquals(result.Shape, []int{3, 2}) {
			t.Errorf("Expected shape [3 2], got %v", result.Shape)
		}
		for i, v := range result.Data {
			if v != expected[i] {
				t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
			}
		}
	})

	t.Run("4D heads", func(t *testing.T) {
		// (batch=1, seq=2, heads=3, dim=2) -> (1, 3, 2, 2)
		data := make([]float32, 12)
		for i := range data {
			data[i] = float32(i)
		}
		tensor, _ := FromSlice(data, []int{1, 2, 3, 2})
		result, err := tensor.Transpose(1, 2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		for s := 0; s < 2; s++ {
			for h := 0; h < 3; h++ {
				for d := 0; d < 2; d++ {
					want := tensor.Data[(s*3+h)*2+d]
					got := result.Data[(h*2+s)*2+d]
					if want != got {
						t.Errorf("Mismatch at s=%d h=%d d=%d: expected %f, got %f", s, h, d, want, got)
					}
				}
			}
		}
	})

	t.Run("invalid dims", func(t *testing.T) {
		tensor := NewTensor([]int{2, 2})
		if _, err := tensor.Transpose(0, 2); err == nil {
			t.Error("Expected error for out-of-range dimension")
		}
	})
}

// TestSliceN tests sub-tensor extraction
func TestSliceN(t *testing.T) {
	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i)
	}
	tensor, _ := FromSlice(data, []int{2, 3, 4})

	result, err := tensor.SliceN([]int{1, 1, 1}, []int{2, 3, 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !shapeEquals(result.Shape, []int{1, 2, 2}) {
		t.Fatalf("Expected shape [1 2 2], got %v", result.Shape)
	}

	expected := []float32{17, 18, 21, 22}
	for i, v := range result.Data {
		if v != expected[i] {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
		}
	}

	if _, err := tensor.SliceN([]int{0, 0, 0}, []int{3, 3, 4}); err == nil {
		t.Error("Expected error for end beyond dimension size")
	}
	if _, err := tensor.SliceN([]int{0, 0}, []int{1, 1}); err == nil {
		t.Error("Expected error for wrong number of ranges")
	}
}

// TestEquals tests approximate comparison
func TestEquals(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3}, []int{3})
	b, _ := FromSlice([]float32{1, 2, 3.0001}, []int{3})
	c, _ := FromSlice([]float32{1, 2, 3}, []int{1, 3})

	if !a.Equals(b, 1e-3) {
		t.Error("Expected a and b to be equal within tolerance")
	}
	if a.Equals(b, 1e-6) {
		t.Error("Expected a and b to differ at tight tolerance")
	}
	if a.Equals(c, 1) {
		t.Error("Expected tensors with different shapes to differ")
	}
}

// Helper functions

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

func floatEquals(a, b, tolerance float32) bool {
	return math.Abs(float64(a-b)) < float64(tolerance)
}
