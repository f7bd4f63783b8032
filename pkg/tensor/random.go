package tensor

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Normal draws samples from N(mean, std²) with a seeded source.
type Normal struct {
	dist distuv.Normal
}

// NewNormal returns a normal sampler seeded with seed.
func NewNormal(mean, std float64, seed uint64) *Normal {
	return &Normal{dist: distuv.Normal{Mu: mean, Sigma: std, Src: rand.NewSource(seed)}}
}

// Fill overwrites t with samples and returns it.
func (n *Normal) Fill(t *Tensor) *Tensor {
	for i := range t.Data {
		t.Data[i] = float32(n.dist.Rand())
	}
	return t
}

// RandN returns a tensor of the given shape filled with samples from n.
// With NewNormal(0, 1, seed) this is torch.randn.
func RandN(shape []int, n *Normal) *Tensor {
	return n.Fill(NewTensor(shape))
}
