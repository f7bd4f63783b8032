// Package attention implements BLOOM self-attention: a fused QKV projection,
// ALiBi positional bias and an incrementally grown key/value cache.
package attention

import (
	"fmt"
	"math"

	"blockbench/pkg/kvcache"
	"blockbench/pkg/tensor"
)

// Config holds the parameters of one attention layer.
type Config struct {
	HiddenSize int
	NumHeads   int

	// LayerIndex is the position of the block in the model. BLOOM scales
	// scores by it to keep half-precision products in range.
	LayerIndex int

	SoftmaxInFP32 bool
}

// SelfAttention implements BLOOM multi-head attention with ALiBi.
//
// Architecture:
//   - One fused projection produces Q, K and V, laid out per head as
//     (num_heads, 3, head_dim)
//   - New K/V are appended to the layer's cache
//   - scores = q·k / sqrt(head_dim) + alibi, causally masked
//   - Output projection, then the residual is added
type SelfAttention struct {
	NumHeads    int
	HeadDim     int
	HiddenSize  int
	LayerNumber int // max(1, layer index)

	SoftmaxInFP32 bool
	DType         tensor.DType

	QueryKeyValue     *tensor.Tensor // (3*hidden, hidden)
	QueryKeyValueBias *tensor.Tensor // (3*hidden,)
	Dense             *tensor.Tensor // (hidden, hidden)
	DenseBias         *tensor.Tensor // (hidden,)
}

// New creates a zero-initialised attention layer.
func New(config Config) (*SelfAttention, error) {
	if config.NumHeads <= 0 || config.HiddenSize%config.NumHeads != 0 {
		return nil, fmt.Errorf("hidden_size (%d) must be divisible by num_heads (%d)",
			config.HiddenSize, config.NumHeads)
	}

	h := config.HiddenSize
	return &SelfAttention{
		NumHeads:          config.NumHeads,
		HeadDim:           h / config.NumHeads,
		HiddenSize:        h,
		LayerNumber:       max(1, config.LayerIndex),
		SoftmaxInFP32:     config.SoftmaxInFP32,
		DType:             tensor.Float32,
		QueryKeyValue:     tensor.NewTensor([]int{3 * h, h}),
		QueryKeyValueBias: tensor.NewTensor([]int{3 * h}),
		Dense:             tensor.NewTensor([]int{h, h}),
		DenseBias:         tensor.NewTensor([]int{h}),
	}, nil
}

// Forward computes attention(x) + residual.
//
// Input shapes:
//   - x: (batch, seq, hidden), the input layernorm output
//   - residual: (batch, seq, hidden)
//   - alibi: (num_heads, 1, kv_len') with kv_len' >= past + seq; only the
//     first past+seq positions are used
//   - layerPast: cached keys/values from earlier steps, or nil
//
// When useCache is set the new keys and values are appended to layerPast
// (a cache is created if it is nil) and the cache is returned as present.
// Otherwise layerPast is read but left unchanged and present is nil.
//
// Output shape: (batch, seq, hidden)
func (a *SelfAttention) Forward(x, residual, alibi *tensor.Tensor, layerPast *kvcache.Cache, useCache bool) (*tensor.Tensor, *kvcache.Cache, error) {
	if len(x.Shape) != 3 {
		return nil, nil, fmt.Errorf("expected 3D input (batch, seq, hidden), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batchSize, seqLen, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	if hidden != a.HiddenSize {
		return nil, nil, fmt.Errorf("input dimension %d doesn't match expected %d", hidden, a.HiddenSize)
	}

	// Step 1: fused projection, (batch, seq, 3*hidden)
	fused, err := tensor.Linear(x, a.QueryKeyValue, a.QueryKeyValueBias)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute query_key_value: %w", err)
	}
	fused.Round(a.DType)

	// Step 2: split heads, each (batch, num_heads, seq, head_dim)
	q, k, v := a.splitHeads(fused, batchSize, seqLen)

	// Step 3: extend keys and values with the past
	var present *kvcache.Cache
	switch {
	case useCache:
		present = layerPast
		if present == nil {
			present = kvcache.New(batchSize, a.NumHeads, a.HeadDim, seqLen)
		}
		if k, v, err = present.Update(k, v); err != nil {
			return nil, nil, fmt.Errorf("failed to update layer cache: %w", err)
		}
	case layerPast != nil && layerPast.Len() > 0:
		pastK, pastV, _ := layerPast.KV()
		if k, err = tensor.Concatenate([]*tensor.Tensor{pastK, k}, 2); err != nil {
			return nil, nil, fmt.Errorf("failed to concatenate past keys: %w", err)
		}
		if v, err = tensor.Concatenate([]*tensor.Tensor{pastV, v}, 2); err != nil {
			return nil, nil, fmt.Errorf("failed to concatenate past values: %w", err)
		}
	}
	kvLen := k.Shape[2]

	if len(alibi.Shape) != 3 || alibi.Shape[0] != a.NumHeads || alibi.Shape[1] != 1 || alibi.Shape[2] < kvLen {
		return nil, nil, fmt.Errorf("alibi shape %v doesn't cover %d heads and %d key positions",
			alibi.Shape, a.NumHeads, kvLen)
	}

	// Step 4: raw scores, (batch, num_heads, seq, kv_len)
	kt, err := k.Transpose(2, 3)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to transpose keys: %w", err)
	}
	scores, err := tensor.Matmul(q, kt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}

	// Step 5: scale and bias. BLOOM folds the layer number into both terms,
	//   (alibi/layer + q·k/(sqrt(d)*layer)) * layer
	layer := float32(a.LayerNumber)
	invNorm := float32(1 / (math.Sqrt(float64(a.HeadDim)) * float64(a.LayerNumber)))
	alibiStride := alibi.Shape[2]
	for bh := 0; bh < batchSize*a.NumHeads; bh++ {
		bias := alibi.Data[(bh%a.NumHeads)*alibiStride:]
		for i := 0; i < seqLen; i++ {
			row := scores.Data[(bh*seqLen+i)*kvLen : (bh*seqLen+i+1)*kvLen]
			for j := range row {
				row[j] = (bias[j]/layer + row[j]*invNorm) * layer
			}
		}
	}
	scores.Round(a.DType)

	// Step 6: causal mask and softmax
	scores, err = tensor.ApplyMask(scores, tensor.CreateCausalMask(seqLen, kvLen))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply causal mask: %w", err)
	}
	if !a.SoftmaxInFP32 {
		scores.Round(a.DType)
	}
	probs, err := tensor.Softmax(scores, 3)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply softmax: %w", err)
	}
	probs.Round(a.DType)

	// Step 7: weighted values, (batch, num_heads, seq, head_dim)
	attnOutput, err := tensor.Matmul(probs, v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply attention to values: %w", err)
	}
	attnOutput.Round(a.DType)

	// Step 8: merge heads back to (batch, seq, hidden)
	attnOutput, err = attnOutput.Transpose(1, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge heads: %w", err)
	}
	attnOutput = attnOutput.Reshape([]int{batchSize, seqLen, a.HiddenSize})

	// Step 9: output projection and residual
	out, err := tensor.Linear(attnOutput, a.Dense, a.DenseBias)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply output projection: %w", err)
	}
	out.Round(a.DType)

	out, err = tensor.Add(out, residual)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add attention residual: %w", err)
	}

	return out.Round(a.DType), present, nil
}

// splitHeads separates the fused projection into per-head queries, keys and
// values. The fused last dimension is laid out as (num_heads, 3, head_dim).
func (a *SelfAttention) splitHeads(fused *tensor.Tensor, batchSize, seqLen int) (q, k, v *tensor.Tensor) {
	shape := []int{batchSize, a.NumHeads, seqLen, a.HeadDim}
	q, k, v = tensor.NewTensor(shape), tensor.NewTensor(shape), tensor.NewTensor(shape)

	d := a.HeadDim
	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			src := fused.Data[(b*seqLen+s)*3*a.HiddenSize:]
			for h := 0; h < a.NumHeads; h++ {
				dst := ((b*a.NumHeads+h)*seqLen + s) * d
				base := h * 3 * d
				copy(q.Data[dst:dst+d], src[base:base+d])
				copy(k.Data[dst:dst+d], src[base+d:base+2*d])
				copy(v.Data[dst:dst+d], src[base+2*d:base+3*d])
			}
		}
	}
	return q, k, v
}
