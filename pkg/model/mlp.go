package model

import (
	"fmt"

	"blockbench/pkg/tensor"
)

// MLP implements the BLOOM feed-forward network.
//
// Architecture:
//  1. dense_h_to_4h: (batch, seq, hidden) -> (batch, seq, 4*hidden)
//  2. GELU (tanh approximation)
//  3. dense_4h_to_h: (batch, seq, 4*hidden) -> (batch, seq, hidden)
//  4. + residual
//
// Weights use the torch nn.Linear layout (out_features, in_features).
type MLP struct {
	DenseHTo4H     *tensor.Tensor // (4*hidden, hidden)
	DenseHTo4HBias *tensor.Tensor // (4*hidden,)
	Dense4HToH     *tensor.Tensor // (hidden, 4*hidden)
	Dense4HToHBias *tensor.Tensor // (hidden,)

	// DType is the precision intermediate activations are rounded to.
	DType tensor.DType
}

// NewMLP allocates a zero-initialised MLP for the given width.
func NewMLP(hidden int) *MLP {
	return &MLP{
		DenseHTo4H:     tensor.NewTensor([]int{4 * hidden, hidden}),
		DenseHTo4HBias: tensor.NewTensor([]int{4 * hidden}),
		Dense4HToH:     tensor.NewTensor([]int{hidden, 4 * hidden}),
		Dense4HToHBias: tensor.NewTensor([]int{hidden}),
		DType:          tensor.Float32,
	}
}

// Forward computes mlp(x) + residual.
//
// Input shapes:
//   - x: (batch, seq, hidden), the post-attention layernorm output
//   - residual: (batch, seq, hidden)
//
// Output shape: (batch, seq, hidden)
func (m *MLP) Forward(x, residual *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected at least 2D input, got %dD", len(x.Shape))
	}

	hidden, err := tensor.Linear(x, m.DenseHTo4H, m.DenseHTo4HBias)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dense_h_to_4h: %w", err)
	}
	hidden.Round(m.DType)

	activated := hidden.GELU().Round(m.DType)

	out, err := tensor.Linear(activated, m.Dense4HToH, m.Dense4HToHBias)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dense_4h_to_h: %w", err)
	}
	out.Round(m.DType)

	out, err = tensor.Add(out, residual)
	if err != nil {
		return nil, fmt.Errorf("failed to add mlp residual: %w", err)
	}

	return out.Round(m.DType), nil
}
