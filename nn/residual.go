package nn

import (
	"fmt"
	"math/rand"
)

// ResBlock is a shape-preserving residual unit:
//
//	out = relu(x + conv1x1(relu(conv3x3(x))))
type ResBlock struct {
	Conv *Sequential

	sum *Tensor[float32]
}

// NewResBlock builds a residual block over inChannels with a hidden width of channels.
func NewResBlock(inChannels, channels int, rng *rand.Rand) *ResBlock {
	return &ResBlock{
		Conv: NewSequential(
			NewConv2D(inChannels, channels, 3, 1, 1, rng),
			NewReLU(),
			NewConv2D(channels, inChannels, 1, 1, 0, rng),
		),
	}
}

func (r *ResBlock) Forward(x *Tensor[float32]) (*Tensor[float32], error) {
	branch, err := r.Conv.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("resblock: %w", err)
	}
	if len(branch.Data) != len(x.Data) {
		return nil, fmt.Errorf("%w: resblock branch %v does not match input %v", ErrShapeMismatch, branch.Shape, x.Shape)
	}

	sum := NewTensor[float32](x.Shape...)
	out := NewTensor[float32](x.Shape...)
	for i := range x.Data {
		sum.Data[i] = branch.Data[i] + x.Data[i]
		out.Data[i] = relu(sum.Data[i])
	}
	r.sum = sum
	return out, nil
}

func (r *ResBlock) Backward(grad *Tensor[float32]) (*Tensor[float32], error) {
	if r.sum == nil || len(grad.Data) != len(r.sum.Data) {
		return nil, fmt.Errorf("%w: resblock backward without matching forward", ErrShapeMismatch)
	}

	gradSum := NewTensor[float32](grad.Shape...)
	for i, g := range grad.Data {
		if r.sum.Data[i] > 0 {
			gradSum.Data[i] = g
		}
	}

	// d(x + f(x))/dx = 1 + f'(x): the skip path receives gradSum unchanged.
	gradInput, err := r.Conv.Backward(gradSum)
	if err != nil {
		return nil, fmt.Errorf("resblock: %w", err)
	}
	for i, g := range gradSum.Data {
		gradInput.Data[i] += g
	}
	return gradInput, nil
}

func (r *ResBlock) NamedParameters(prefix string) []NamedParam {
	return r.Conv.NamedParameters(JoinName(prefix, "conv"))
}
