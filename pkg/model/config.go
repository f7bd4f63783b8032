// Package model implements a single BLOOM decoder block for inference.
//
// BLOOM Key Features:
//   - LayerNorm with weight and bias, applied before attention and MLP
//   - Fused query/key/value projection, interleaved per head
//   - ALiBi positional bias added to attention scores (no position embeddings)
//   - GELU (tanh approximation) feed-forward with 4x expansion
package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the hyperparameters of a BLOOM model, decoded from a Hugging
// Face config.json. Only the fields a single block needs are interpreted.
type Config struct {
	// VocabSize is the size of the token vocabulary (250880 for BLOOM)
	VocabSize int `json:"vocab_size"`

	// HiddenSize is the model width (14336 for BLOOM-176B). Older configs call it n_embed.
	HiddenSize int `json:"hidden_size"`

	// NumLayers is the number of blocks in the full model (70 for BLOOM-176B)
	NumLayers int `json:"n_layer"`

	// NumHeads is the number of attention heads (112 for BLOOM-176B)
	NumHeads int `json:"n_head"`

	LayerNormEpsilon float32 `json:"layer_norm_epsilon"`

	// InitializerRange is the std of the normal distribution used for random weights
	InitializerRange float32 `json:"initializer_range"`

	// ApplyResidualConnectionPostLayernorm takes residuals from the normalised
	// activations instead of the block input
	ApplyResidualConnectionPostLayernorm bool `json:"apply_residual_connection_post_layernorm"`

	HiddenDropout    float32 `json:"hidden_dropout"`
	AttentionDropout float32 `json:"attention_dropout"`

	// AttentionSoftmaxInFP32 keeps attention probabilities in float32 even
	// when the block runs at a lower precision
	AttentionSoftmaxInFP32 bool `json:"attention_softmax_in_fp32"`

	PretrainingTP int    `json:"pretraining_tp"`
	SlowButExact  bool   `json:"slow_but_exact"`
	TorchDType    string `json:"torch_dtype,omitempty"`

	// Fields added by the distributed serving config. They are carried so
	// such configs load unchanged; a single block does not use them.
	DHTPrefix    string   `json:"dht_prefix,omitempty"`
	InitialPeers []string `json:"initial_peers,omitempty"`
}

// DefaultConfig returns the defaults of transformers' BloomConfig.
func DefaultConfig() Config {
	return Config{
		VocabSize:              250880,
		HiddenSize:             64,
		NumLayers:              2,
		NumHeads:               8,
		LayerNormEpsilon:       1e-5,
		InitializerRange:       0.02,
		AttentionSoftmaxInFP32: true,
		PretrainingTP:          1,
	}
}

// UnmarshalJSON decodes a config, accepting the legacy key names
// n_embed, num_hidden_layers and num_attention_heads.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	aux := struct {
		*plain
		NEmbed            *int `json:"n_embed"`
		NumHiddenLayers   *int `json:"num_hidden_layers"`
		NumAttentionHeads *int `json:"num_attention_heads"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	if aux.NEmbed != nil {
		c.HiddenSize = *aux.NEmbed
	}
	if aux.NumHiddenLayers != nil {
		c.NumLayers = *aux.NumHiddenLayers
	}
	if aux.NumAttentionHeads != nil {
		c.NumHeads = *aux.NumAttentionHeads
	}
	return nil
}

// LoadConfig reads and validates a config.json file. Keys absent from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid and consistent.
func (c Config) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("n_head must be positive, got %d", c.NumHeads)
	}
	if c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("hidden_size (%d) must be divisible by n_head (%d)",
			c.HiddenSize, c.NumHeads)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("n_layer must be positive, got %d", c.NumLayers)
	}
	if c.LayerNormEpsilon <= 0 {
		return fmt.Errorf("layer_norm_epsilon must be positive, got %g", c.LayerNormEpsilon)
	}
	return nil
}

// HeadDim returns the dimension per attention head.
func (c Config) HeadDim() int {
	return c.HiddenSize / c.NumHeads
}
