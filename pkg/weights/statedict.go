// Package weights reads and writes the parameter files a block is shipped in:
// PyTorch pickles produced by torch.save and safetensors files.
package weights

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"blockbench/pkg/tensor"
)

// ErrUnsupportedFormat is returned when a file is neither a torch pickle nor
// a safetensors file.
var ErrUnsupportedFormat = errors.New("unsupported weights format")

// StateDict maps parameter names to tensors, as torch's state_dict does.
type StateDict map[string]*tensor.Tensor

// Keys returns the parameter names in sorted order.
func (sd StateDict) Keys() []string {
	return slices.Sorted(maps.Keys(sd))
}

// NumParameters returns the total number of elements over all tensors.
func (sd StateDict) NumParameters() int {
	var n int
	for _, t := range sd {
		n += t.Size()
	}
	return n
}

var layerPrefix = regexp.MustCompile(`^(?:transformer\.)?h\.(\d+)\.`)

// ForLayer returns the entries belonging to one block with the block prefix
// removed. A dict without any layer prefix was saved from a bare block and
// passes through unchanged. Otherwise it is a model checkpoint, and its
// top-level entries (word_embeddings.*, ln_f.*) are dropped with the other
// layers.
func (sd StateDict) ForLayer(layerIndex int) StateDict {
	out := make(StateDict, len(sd))
	want := fmt.Sprint(layerIndex)
	var prefixed bool
	for k, t := range sd {
		m := layerPrefix.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		prefixed = true
		if m[1] == want {
			out[strings.TrimPrefix(k, m[0])] = t
		}
	}
	if !prefixed {
		maps.Copy(out, sd)
	}
	return out
}

// Load reads a state dict, picking the reader from the file extension and,
// failing that, from the first bytes of the file.
func Load(path string) (StateDict, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return LoadSafetensors(path)
	case ".pt", ".pth", ".bin", ".ckpt":
		return LoadTorch(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}

	switch {
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		// torch >= 1.6 writes a zip archive
		return LoadTorch(path)
	case isSafetensorsHeader(magic):
		return LoadSafetensors(path)
	case magic[0] == 0x80:
		// legacy pickle protocol marker
		return LoadTorch(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
