package tensor

import "math"

// GELU applies the Gaussian Error Linear Unit activation function.
//
// The tanh approximation is used, matching BLOOM's bloom_gelu_forward:
//
//	GELU(x) = 0.5 * x * (1 + tanh(sqrt(2/π) * x * (1 + 0.044715 * x^2)))
//
// Reference: https://arxiv.org/abs/1606.08415
//
// Input: tensor of any shape
// Output: tensor of the same shape with GELU applied element-wise
func (t *Tensor) GELU() *Tensor {
	result := NewTensor(t.Shape)

	const (
		sqrt2OverPi = 0.79788456 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i, x := range t.Data {
		inner := sqrt2OverPi * x * (1 + coeff*x*x)
		result.Data[i] = 0.5 * x * (1 + float32(math.Tanh(float64(inner))))
	}

	return result
}
