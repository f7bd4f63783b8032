package tensor

import "fmt"

// Linear computes x @ weight^T + bias, the affine map of a torch nn.Linear.
//
// Shapes:
//   - x: (..., in_features)
//   - weight: (out_features, in_features)
//   - bias: (out_features,) or nil
//
// Output shape: (..., out_features)
//
// Rows of weight are contiguous, so each output is a dot product over two
// contiguous slices. Work is split over output features, which keeps every
// worker busy even for a single decoding position.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("linear requires at least 1D input")
	}
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("linear weight must be 2D, got shape %v", weight.Shape)
	}

	out, in := weight.Shape[0], weight.Shape[1]
	if x.Dim(-1) != in {
		return nil, fmt.Errorf("input dimension %d doesn't match linear input dimension %d", x.Dim(-1), in)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != out) {
		return nil, fmt.Errorf("linear bias shape %v doesn't match %d output features", bias.Shape, out)
	}

	rows := len(x.Data) / max(in, 1)
	outShape := copyShape(x.Shape)
	outShape[len(outShape)-1] = out
	result := NewTensor(outShape)

	parallelFor(out, func(start, end int) {
		for r := 0; r < rows; r++ {
			xRow := x.Data[r*in : (r+1)*in]
			dst := result.Data[r*out : (r+1)*out]
			for o := start; o < end; o++ {
				w := weight.Data[o*in : (o+1)*in]
				sum := dot(xRow, w)
				if bias != nil {
					sum += bias.Data[o]
				}
				dst[o] = sum
			}
		}
	})

	return result, nil
}

// dot is the inner product of two equal-length slices.
func dot(a, b []float32) float32 {
	b = b[:len(a)]
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}
