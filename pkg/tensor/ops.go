package tensor

import (
	"fmt"
	"math"
)

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// A 2D right operand is broadcast across the batch dimensions of the left one.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	m, n := a.Dim(-2), a.Dim(-1)
	n2, p := b.Dim(-2), b.Dim(-1)
	if n != n2 {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, n, n2)
	}

	batchDims := a.Shape[:len(a.Shape)-2]
	batchSize := numElements(batchDims)

	broadcastB := len(b.Shape) == 2
	if !broadcastB {
		if !shapesEqual(batchDims, b.Shape[:len(b.Shape)-2]) {
			return nil, fmt.Errorf("incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
		}
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)

	parallelFor(batchSize*m, func(start, end int) {
		for row := start; row < end; row++ {
			batch, i := row/m, row%m
			aRow := a.Data[(batch*m+i)*n : (batch*m+i+1)*n]
			bOffset := 0
			if !broadcastB {
				bOffset = batch * n * p
			}
			out := result.Data[row*p : (row+1)*p]
			for j, av := range aRow {
				if av == 0 {
					continue
				}
				bRow := b.Data[bOffset+j*p : bOffset+(j+1)*p]
				for k, bv := range bRow {
					out[k] += av * bv
				}
			}
		}
	})

	return result, nil
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x + y })
}

// elementWiseOp performs an element-wise operation with broadcasting
func elementWiseOp(a, b *Tensor, op func(float32, float32) float32) (*Tensor, error) {
	if shapesEqual(a.Shape, b.Shape) {
		result := NewTensor(a.Shape)
		for i := range a.Data {
			result.Data[i] = op(a.Data[i], b.Data[i])
		}
		return result, nil
	}

	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(outShape)
	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)

	idx := make([]int, len(outShape))
	for out := range result.Data {
		aIdx, bIdx := 0, 0
		for i, v := range idx {
			aIdx += v * aStrides[i]
			bIdx += v * bStrides[i]
		}
		result.Data[out] = op(a.Data[aIdx], b.Data[bIdx])

		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}

	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := max(len(a), len(b))
	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA, dimB := 1, 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		result[maxLen-1-i] = max(dimA, dimB)
	}

	return result, nil
}

// broadcastStrides returns strides of in aligned to out, with zero stride on
// broadcast dimensions.
func broadcastStrides(in, out []int) []int {
	strides := make([]int, len(out))
	inStrides := computeStrides(in)
	diff := len(out) - len(in)
	for i := range in {
		if in[i] != 1 {
			strides[i+diff] = inStrides[i]
		}
	}
	return strides
}

// Softmax applies softmax along the specified dimension.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	if dim == len(t.Shape)-1 {
		result := t.Clone()
		if n := t.Shape[dim]; n > 0 {
			for off := 0; off < len(result.Data); off += n {
				SoftmaxInPlace(result.Data[off : off+n])
			}
		}
		return result, nil
	}

	// Move dim last, normalise, move it back.
	moved, err := t.Transpose(dim, len(t.Shape)-1)
	if err != nil {
		return nil, err
	}
	normed, err := Softmax(moved, len(t.Shape)-1)
	if err != nil {
		return nil, err
	}
	return normed.Transpose(dim, len(t.Shape)-1)
}

// SoftmaxInPlace normalises row so it sums to one. The maximum is subtracted
// first, so rows containing -Inf entries stay finite.
func SoftmaxInPlace(row []float32) {
	maxVal := float32(math.Inf(-1))
	for _, v := range row {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - maxVal))
		row[i] = float32(e)
		sum += e
	}

	inv := float32(1 / sum)
	for i := range row {
		row[i] *= inv
	}
}

// ApplyMask sets elements to -inf where mask is 0. The mask covers the
// trailing dimensions of t and is repeated over the leading ones.
func ApplyMask(t, mask *Tensor) (*Tensor, error) {
	n := len(mask.Data)
	if n == 0 || len(t.Data)%n != 0 {
		return nil, fmt.Errorf("mask of shape %v does not tile tensor of shape %v", mask.Shape, t.Shape)
	}

	result := t.Clone()
	negInf := float32(math.Inf(-1))
	for i := range result.Data {
		if mask.Data[i%n] == 0 {
			result.Data[i] = negInf
		}
	}
	return result, nil
}

// CreateCausalMask creates a causal attention mask of shape (queryLen, keyLen).
// The queries are the last queryLen positions of the key sequence, so query i
// may attend key j when j <= keyLen-queryLen+i.
func CreateCausalMask(queryLen, keyLen int) *Tensor {
	mask := NewTensor([]int{queryLen, keyLen})
	offset := keyLen - queryLen
	for i := 0; i < queryLen; i++ {
		for j := 0; j < keyLen && j <= offset+i; j++ {
			mask.Data[i*keyLen+j] = 1
		}
	}
	return mask
}

// Concatenate concatenates tensors along a dimension.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}

	if dim < 0 || dim >= len(tensors[0].Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(tensors[0].Shape))
	}

	outShape := copyShape(tensors[0].Shape)
	concatSize := tensors[0].Shape[dim]

	for i := 1; i < len(tensors); i++ {
		t := tensors[i]
		if len(t.Shape) != len(outShape) {
			return nil, fmt.Errorf("tensor %d has %d dimensions, expected %d", i, len(t.Shape), len(outShape))
		}
		for j := range outShape {
			if j == dim {
				concatSize += t.Shape[j]
			} else if t.Shape[j] != outShape[j] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v at dimension %d", i, t.Shape, outShape, j)
			}
		}
	}
	outShape[dim] = concatSize

	result := NewTensor(outShape)

	// Each input contributes one contiguous block per outer index.
	outer := numElements(outShape[:dim])
	dstOffset := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			block := numElements(t.Shape[dim:])
			copy(result.Data[dstOffset:dstOffset+block], t.Data[o*block:(o+1)*block])
			dstOffset += block
		}
	}

	return result, nil
}
