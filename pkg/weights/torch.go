package weights

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"blockbench/pkg/tensor"
)

// LoadTorch reads a state dict written by torch.save.
func LoadTorch(path string) (StateDict, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load torch file %s: %w", path, err)
	}

	sd := make(StateDict)
	add := func(k, v any) error {
		name, ok := k.(string)
		if !ok {
			return fmt.Errorf("unexpected key type %T in %s", k, path)
		}
		pt, ok := v.(*pytorch.Tensor)
		if !ok {
			return fmt.Errorf("entry %q in %s is %T, not a tensor", name, path, v)
		}
		t, err := fromTorch(pt)
		if err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
		sd[name] = t
		return nil
	}

	switch dict := pt.(type) {
	case *types.OrderedDict:
		for e := dict.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	case *types.Dict:
		for _, k := range dict.Keys() {
			if err := add(k, dict.MustGet(k)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%s does not contain a state dict (got %T)", path, pt)
	}

	return sd, nil
}

// fromTorch copies a contiguous torch tensor into a float32 tensor.
func fromTorch(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	var data []float32
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		data = s.Data
	case *pytorch.HalfStorage:
		data = s.Data
	case *pytorch.BFloat16Storage:
		data = s.Data
	case *pytorch.DoubleStorage:
		data = make([]float32, len(s.Data))
		for i, v := range s.Data {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type %T", pt.Source)
	}

	shape := pt.Size
	n, stride := 1, 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 && pt.Stride[i] != stride {
			return nil, fmt.Errorf("non-contiguous tensor with shape %v and stride %v", shape, pt.Stride)
		}
		stride *= shape[i]
		n *= shape[i]
	}

	start := pt.StorageOffset
	if start < 0 || start+n > len(data) {
		return nil, fmt.Errorf("tensor of %d elements at offset %d exceeds storage of %d", n, start, len(data))
	}

	return tensor.FromSlice(data[start:start+n], shape)
}
