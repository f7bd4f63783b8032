package model

import (
	"fmt"
	"math"

	"blockbench/pkg/tensor"
)

// LayerNorm implements layer normalization with learnable weight and bias.
//
// Formula:
//
//	mean = mean(x, dim=-1)
//	var = var(x, dim=-1)  # biased
//	output = (x - mean) / sqrt(var + eps) * weight + bias
//
// BLOOM applies one before attention and one before the MLP.
type LayerNorm struct {
	Weight *tensor.Tensor // (hidden,) - gamma
	Bias   *tensor.Tensor // (hidden,) - beta
	Eps    float32
}

// NewLayerNorm creates a LayerNorm with weight=1 and bias=0.
func NewLayerNorm(dim int, eps float32) *LayerNorm {
	return &LayerNorm{
		Weight: tensor.NewTensor([]int{dim}).Fill(1),
		Bias:   tensor.NewTensor([]int{dim}),
		Eps:    eps,
	}
}

// Forward normalises each position of x over its last dimension.
//
// Input shape: (..., hidden)
// Output shape: same as input
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply LayerNorm to 0D tensor")
	}

	dim := x.Dim(-1)
	if dim != len(ln.Weight.Data) {
		return nil, fmt.Errorf("input last dimension %d doesn't match LayerNorm dimension %d",
			dim, len(ln.Weight.Data))
	}

	result := tensor.NewTensor(x.Shape)
	for off := 0; off < len(x.Data); off += dim {
		row := x.Data[off : off+dim]
		out := result.Data[off : off+dim]

		// Statistics are accumulated in float64; rows can be 14k wide.
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(dim)

		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(dim)

		invStd := 1 / math.Sqrt(variance+float64(ln.Eps))
		for i, v := range row {
			norm := float32((float64(v) - mean) * invStd)
			out[i] = norm*ln.Weight.Data[i] + ln.Bias.Data[i]
		}
	}

	return result, nil
}
