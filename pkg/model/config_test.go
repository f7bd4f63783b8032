package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"apply_residual_connection_post_layernorm": false,
		"attention_dropout": 0.0,
		"attention_softmax_in_fp32": true,
		"hidden_size": 14336,
		"initializer_range": 0.02,
		"layer_norm_epsilon": 1e-05,
		"n_head": 112,
		"n_layer": 70,
		"pretraining_tp": 4,
		"slow_but_exact": false,
		"torch_dtype": "bfloat16",
		"vocab_size": 250880,
		"dht_prefix": "bigscience/bloom-petals"
	}`)

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := Config{
		VocabSize:              250880,
		HiddenSize:             14336,
		NumLayers:              70,
		NumHeads:               112,
		LayerNormEpsilon:       1e-5,
		InitializerRange:       0.02,
		AttentionSoftmaxInFP32: true,
		PretrainingTP:          4,
		TorchDType:             "bfloat16",
		DHTPrefix:              "bigscience/bloom-petals",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	if got.HeadDim() != 128 {
		t.Errorf("Expected HeadDim=128, got %d", got.HeadDim())
	}
}

func TestLoadConfig_LegacyKeys(t *testing.T) {
	path := writeConfig(t, `{"n_embed": 32, "num_hidden_layers": 3, "num_attention_heads": 4}`)

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := DefaultConfig()
	want.HiddenSize, want.NumLayers, want.NumHeads = 32, 3, 4
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		errString string
	}{
		{"malformed", `{"hidden_size": `, "failed to parse"},
		{"indivisible heads", `{"hidden_size": 30, "n_head": 8}`, "divisible"},
		{"no layers", `{"n_layer": 0}`, "n_layer"},
		{"bad epsilon", `{"layer_norm_epsilon": 0}`, "layer_norm_epsilon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errString) {
				t.Errorf("Expected error containing %q, got %q", tt.errString, err.Error())
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
