package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"blockbench/pkg/kvcache"
	"blockbench/pkg/model/attention"
	"blockbench/pkg/tensor"
	"blockbench/pkg/weights"
)

// Block is one BLOOM decoder layer.
//
// Architecture:
//
//	ln1 = input_layernorm(x)
//	attn = self_attention(ln1) + residual1
//	ln2 = post_attention_layernorm(attn)
//	out = mlp(ln2) + residual2
//
// residual1 is x and residual2 is attn, unless the config applies residuals
// post-layernorm, in which case they are ln1 and ln2.
type Block struct {
	Config     Config
	LayerIndex int
	DType      tensor.DType

	InputLayerNorm         *LayerNorm
	SelfAttention          *attention.SelfAttention
	PostAttentionLayerNorm *LayerNorm
	MLP                    *MLP
}

// NewBlock creates block layerIndex of the model described by cfg, with
// LayerNorms set to identity and every linear layer zeroed.
func NewBlock(cfg Config, layerIndex int) (*Block, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if layerIndex < 0 || layerIndex >= cfg.NumLayers {
		return nil, fmt.Errorf("layer index %d out of range for a model with %d layers",
			layerIndex, cfg.NumLayers)
	}

	attn, err := attention.New(attention.Config{
		HiddenSize:    cfg.HiddenSize,
		NumHeads:      cfg.NumHeads,
		LayerIndex:    layerIndex,
		SoftmaxInFP32: cfg.AttentionSoftmaxInFP32,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attention: %w", err)
	}

	return &Block{
		Config:                 cfg,
		LayerIndex:             layerIndex,
		DType:                  tensor.Float32,
		InputLayerNorm:         NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEpsilon),
		SelfAttention:          attn,
		PostAttentionLayerNorm: NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEpsilon),
		MLP:                    NewMLP(cfg.HiddenSize),
	}, nil
}

// Initialize fills linear weights from N(0, initializer_range²) and resets
// biases to zero and LayerNorms to identity, as BloomPreTrainedModel does.
// Parameters are visited in name order so a seed always gives the same block.
func (b *Block) Initialize(seed uint64) {
	normal := tensor.NewNormal(0, float64(b.Config.InitializerRange), seed)

	sd := b.StateDict()
	for _, name := range sd.Keys() {
		p := sd[name]
		switch {
		case strings.HasSuffix(name, "layernorm.weight"):
			p.Fill(1)
		case strings.HasSuffix(name, ".bias"):
			p.Fill(0)
		default:
			normal.Fill(p)
		}
		p.Round(b.DType)
	}
}

// StateDict returns the block parameters keyed by their torch names. The
// tensors are shared with the block.
func (b *Block) StateDict() weights.StateDict {
	return weights.StateDict{
		"input_layernorm.weight":                b.InputLayerNorm.Weight,
		"input_layernorm.bias":                  b.InputLayerNorm.Bias,
		"self_attention.query_key_value.weight": b.SelfAttention.QueryKeyValue,
		"self_attention.query_key_value.bias":   b.SelfAttention.QueryKeyValueBias,
		"self_attention.dense.weight":           b.SelfAttention.Dense,
		"self_attention.dense.bias":             b.SelfAttention.DenseBias,
		"post_attention_layernorm.weight":       b.PostAttentionLayerNorm.Weight,
		"post_attention_layernorm.bias":         b.PostAttentionLayerNorm.Bias,
		"mlp.dense_h_to_4h.weight":              b.MLP.DenseHTo4H,
		"mlp.dense_h_to_4h.bias":                b.MLP.DenseHTo4HBias,
		"mlp.dense_4h_to_h.weight":              b.MLP.Dense4HToH,
		"mlp.dense_4h_to_h.bias":                b.MLP.Dense4HToHBias,
	}
}

// LoadStateDict copies sd into the block parameters. Keys may carry the
// h.<i>. or transformer.h.<i>. prefix of a full checkpoint. Every parameter
// must be present with a matching shape and no other keys are allowed.
func (b *Block) LoadStateDict(sd weights.StateDict) error {
	sd = sd.ForLayer(b.LayerIndex)
	params := b.StateDict()

	var missing, unexpected []string
	for _, name := range slices.Sorted(maps.Keys(params)) {
		if _, ok := sd[name]; !ok {
			missing = append(missing, name)
		}
	}
	for _, name := range sd.Keys() {
		if _, ok := params[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return fmt.Errorf("state dict mismatch: missing keys %v, unexpected keys %v", missing, unexpected)
	}

	for name, p := range params {
		src := sd[name]
		if !p.ShapeEquals(src) {
			return fmt.Errorf("size mismatch for %s: checkpoint has %v, block expects %v",
				name, src.Shape, p.Shape)
		}
	}
	for name, p := range params {
		copy(p.Data, sd[name].Data)
		p.Round(b.DType)
	}
	return nil
}

// To rounds every parameter to d and makes d the precision of activations.
func (b *Block) To(d tensor.DType) *Block {
	b.DType = d
	b.SelfAttention.DType = d
	b.MLP.DType = d
	for _, p := range b.StateDict() {
		p.Round(d)
	}
	return b
}

// NumParameters returns the number of scalar parameters in the block.
func (b *Block) NumParameters() int {
	return b.StateDict().NumParameters()
}

// ParameterBytes returns the parameter storage size at the block precision.
func (b *Block) ParameterBytes() int64 {
	return int64(b.NumParameters()) * int64(b.DType.Size())
}

// Forward runs the block on hidden.
//
// Input shapes:
//   - hidden: (batch, seq, hidden)
//   - alibi: (num_heads, 1, kv_len) covering past and new positions
//   - layerPast: the block's cache from previous steps, or nil
//
// With useCache the new keys and values are appended to layerPast and the
// cache is returned as present; otherwise present is nil.
//
// Output shape: (batch, seq, hidden)
func (b *Block) Forward(hidden, alibi *tensor.Tensor, layerPast *kvcache.Cache, useCache bool) (*tensor.Tensor, *kvcache.Cache, error) {
	if len(hidden.Shape) != 3 || hidden.Shape[2] != b.Config.HiddenSize {
		return nil, nil, fmt.Errorf("expected input of shape (batch, seq, %d), got %v",
			b.Config.HiddenSize, hidden.Shape)
	}

	ln1, err := b.InputLayerNorm.Forward(hidden)
	if err != nil {
		return nil, nil, fmt.Errorf("input_layernorm: %w", err)
	}
	ln1.Round(b.DType)

	residual := hidden
	if b.Config.ApplyResidualConnectionPostLayernorm {
		residual = ln1
	}

	attn, present, err := b.SelfAttention.Forward(ln1, residual, alibi, layerPast, useCache)
	if err != nil {
		return nil, nil, fmt.Errorf("self_attention: %w", err)
	}

	ln2, err := b.PostAttentionLayerNorm.Forward(attn)
	if err != nil {
		return nil, nil, fmt.Errorf("post_attention_layernorm: %w", err)
	}
	ln2.Round(b.DType)

	residual = attn
	if b.Config.ApplyResidualConnectionPostLayernorm {
		residual = ln2
	}

	out, err := b.MLP.Forward(ln2, residual)
	if err != nil {
		return nil, nil, fmt.Errorf("mlp: %w", err)
	}

	return out, present, nil
}
