package model

import (
	"fmt"
	"math"

	"blockbench/pkg/tensor"
)

// AlibiSlopes returns the per-head ALiBi slopes.
//
// For a power-of-two head count n the slopes are the geometric sequence
// 2^(-8/n), 2^(-16/n), ..., 2^-8. Other counts take the sequence for the
// closest smaller power of two p and append every other slope of the
// sequence for 2p until n slopes exist.
//
// Reference: https://arxiv.org/abs/2108.12409
func AlibiSlopes(numHeads int) []float64 {
	closest := 1 << int(math.Floor(math.Log2(float64(numHeads))))
	base := math.Pow(2, -math.Pow(2, -(math.Log2(float64(closest)) - 3)))

	slopes := make([]float64, 0, numHeads)
	for i := 1; i <= closest; i++ {
		slopes = append(slopes, math.Pow(base, float64(i)))
	}

	if closest != numHeads {
		extraBase := math.Pow(2, -math.Pow(2, -(math.Log2(float64(2*closest)) - 3)))
		remaining := min(closest, numHeads-closest)
		for i := 1; i < 1+2*remaining; i += 2 {
			slopes = append(slopes, math.Pow(extraBase, float64(i)))
		}
	}

	return slopes
}

// BuildAlibiTensor builds the ALiBi bias for a key sequence of maxSeqLen.
//
// Output shape: (num_heads, 1, max_seq_len), with
//
//	alibi[h, 0, j] = slope_h * j
//
// The bias only depends on the key position: the per-query offset it omits is
// constant along each softmax row and cancels out.
func BuildAlibiTensor(maxSeqLen, numHeads int, dtype tensor.DType) (*tensor.Tensor, error) {
	if maxSeqLen <= 0 {
		return nil, fmt.Errorf("max_seq_len must be positive, got %d", maxSeqLen)
	}
	if numHeads <= 0 {
		return nil, fmt.Errorf("num_heads must be positive, got %d", numHeads)
	}

	alibi := tensor.NewTensor([]int{numHeads, 1, maxSeqLen})
	for h, slope := range AlibiSlopes(numHeads) {
		row := alibi.Data[h*maxSeqLen : (h+1)*maxSeqLen]
		for j := range row {
			row[j] = float32(slope) * float32(j)
		}
	}

	return alibi.Round(dtype), nil
}
