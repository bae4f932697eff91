package nn

import (
	"fmt"
	"math/rand"
)

// Embedding is a lookup table of Num vectors of size Dim, stored row-major in Weight.
type Embedding struct {
	Num    int
	Dim    int
	Weight *Param
}

// NewEmbedding initializes the table from N(0, 1).
func NewEmbedding(num, dim int, rng *rand.Rand) *Embedding {
	weight := NewParam(ModuleEmbedding, num, dim)
	for i := range weight.Data {
		weight.Data[i] = float32(rng.NormFloat64())
	}
	return &Embedding{Num: num, Dim: dim, Weight: weight}
}

// Row returns the embedding vector for index i. The slice aliases the weights.
func (e *Embedding) Row(i int) []float32 {
	return e.Weight.Data[i*e.Dim : (i+1)*e.Dim]
}

// Lookup gathers rows into a [len(indices), Dim] tensor.
func (e *Embedding) Lookup(indices []int) (*Tensor[float32], error) {
	out := NewTensor[float32](len(indices), e.Dim)
	for i, idx := range indices {
		if idx < 0 || idx >= e.Num {
			return nil, fmt.Errorf("%w: embedding index %d out of range [0, %d)", ErrShapeMismatch, idx, e.Num)
		}
		copy(out.Data[i*e.Dim:(i+1)*e.Dim], e.Row(idx))
	}
	return out, nil
}

// AccumulateGrad scatter-adds rows of grad ([len(indices), Dim]) into the
// gradient of the looked-up rows.
func (e *Embedding) AccumulateGrad(indices []int, grad []float32) error {
	if len(grad) != len(indices)*e.Dim {
		return fmt.Errorf("%w: embedding grad has %d elements, want %d", ErrShapeMismatch, len(grad), len(indices)*e.Dim)
	}
	for i, idx := range indices {
		row := e.Weight.Grad[idx*e.Dim : (idx+1)*e.Dim]
		for j, g := range grad[i*e.Dim : (i+1)*e.Dim] {
			row[j] += g
		}
	}
	return nil
}

// SetRows overwrites the first len(weights)/Dim rows in place.
func (e *Embedding) SetRows(weights []float32) error {
	if len(weights)%e.Dim != 0 || len(weights) > len(e.Weight.Data) {
		return fmt.Errorf("%w: cannot copy %d values into a %dx%d embedding", ErrShapeMismatch, len(weights), e.Num, e.Dim)
	}
	copy(e.Weight.Data, weights)
	return nil
}

func (e *Embedding) NamedParameters(prefix string) []NamedParam {
	return []NamedParam{{Name: JoinName(prefix, "weight"), Param: e.Weight}}
}
