// Package kvcache stores the keys and values a decoder block has already
// computed, so each autoregressive step only projects the newest positions.
//
// Without a cache every step recomputes K and V for the whole prefix, O(n²)
// work per token; with it each step is O(n).
package kvcache

import (
	"fmt"

	"blockbench/pkg/tensor"
)

// Cache holds past keys and values for one block.
//
// Shapes:
//   - K: (batch, num_heads, capacity, head_dim)
//   - V: (batch, num_heads, capacity, head_dim)
//
// The first Len() positions of the sequence dimension are valid. Capacity
// grows geometrically when an update does not fit.
type Cache struct {
	k, v *tensor.Tensor

	length   int
	batch    int
	numHeads int
	headDim  int
}

// New creates an empty cache with room for capacity positions.
func New(batch, numHeads, headDim, capacity int) *Cache {
	capacity = max(capacity, 1)
	shape := []int{batch, numHeads, capacity, headDim}
	return &Cache{
		k:        tensor.NewTensor(shape),
		v:        tensor.NewTensor(shape),
		batch:    batch,
		numHeads: numHeads,
		headDim:  headDim,
	}
}

// Update appends new keys and values and returns the full cached K and V.
//
// Parameters:
//   - newK: (batch, num_heads, new_tokens, head_dim)
//   - newV: same shape as newK
//
// Returns K and V of shape (batch, num_heads, Len(), head_dim). The returned
// tensors are copies; later updates do not change them.
func (c *Cache) Update(newK, newV *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(newK.Shape) != 4 || len(newV.Shape) != 4 {
		return nil, nil, fmt.Errorf("expected 4D tensors, got K=%dD, V=%dD",
			len(newK.Shape), len(newV.Shape))
	}
	if !newK.ShapeEquals(newV) {
		return nil, nil, fmt.Errorf("newK and newV must have same shape, got K=%v, V=%v",
			newK.Shape, newV.Shape)
	}

	batch, heads, newTokens, headDim := newK.Shape[0], newK.Shape[1], newK.Shape[2], newK.Shape[3]
	if batch != c.batch {
		return nil, nil, fmt.Errorf("batch size mismatch: expected %d, got %d", c.batch, batch)
	}
	if heads != c.numHeads {
		return nil, nil, fmt.Errorf("num_heads mismatch: expected %d, got %d", c.numHeads, heads)
	}
	if headDim != c.headDim {
		return nil, nil, fmt.Errorf("head_dim mismatch: expected %d, got %d", c.headDim, headDim)
	}

	if need := c.length + newTokens; need > c.Capacity() {
		c.grow(max(need, 2*c.Capacity()))
	}

	capacity := c.Capacity()
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			src := (b*heads + h) * newTokens * headDim
			dst := ((b*heads+h)*capacity + c.length) * headDim
			n := newTokens * headDim
			copy(c.k.Data[dst:dst+n], newK.Data[src:src+n])
			copy(c.v.Data[dst:dst+n], newV.Data[src:src+n])
		}
	}
	c.length += newTokens

	k, v, _ := c.KV()
	return k, v, nil
}

// KV returns copies of the cached K and V up to Len().
func (c *Cache) KV() (k, v *tensor.Tensor, length int) {
	return c.compact(c.k), c.compact(c.v), c.length
}

// grow reallocates storage for capacity positions, keeping cached entries.
func (c *Cache) grow(capacity int) {
	shape := []int{c.batch, c.numHeads, capacity, c.headDim}
	k, v := tensor.NewTensor(shape), tensor.NewTensor(shape)

	old := c.Capacity()
	n := c.length * c.headDim
	for bh := 0; bh < c.batch*c.numHeads; bh++ {
		src := bh * old * c.headDim
		dst := bh * capacity * c.headDim
		copy(k.Data[dst:dst+n], c.k.Data[src:src+n])
		copy(v.Data[dst:dst+n], c.v.Data[src:src+n])
	}
	c.k, c.v = k, v
}

// compact extracts the first Len() positions of each (batch, head) row.
func (c *Cache) compact(t *tensor.Tensor) *tensor.Tensor {
	out := tensor.NewTensor([]int{c.batch, c.numHeads, c.length, c.headDim})
	capacity := c.Capacity()
	n := c.length * c.headDim
	for bh := 0; bh < c.batch*c.numHeads; bh++ {
		src := bh * capacity * c.headDim
		copy(out.Data[bh*n:(bh+1)*n], t.Data[src:src+n])
	}
	return out
}

// Len returns the number of cached positions.
func (c *Cache) Len() int {
	return c.length
}

// Capacity returns how many positions fit before the cache reallocates.
func (c *Cache) Capacity() int {
	return c.k.Shape[2]
}

// Size returns the bytes held by the cached keys and values at precision d.
// Only valid positions are counted.
func (c *Cache) Size(d tensor.DType) int64 {
	elements := int64(c.batch) * int64(c.numHeads) * int64(c.length) * int64(c.headDim)
	return 2 * elements * int64(d.Size())
}

// Reserved returns the bytes of allocated storage, including spare capacity.
func (c *Cache) Reserved(d tensor.DType) int64 {
	return c.k.Bytes(d) + c.v.Bytes(d)
}
