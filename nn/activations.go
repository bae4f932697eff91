package nn

import "fmt"

// ReLU applies max(0, v) element-wise.
type ReLU struct {
	mask []bool
}

// NewReLU returns a ReLU layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

func (r *ReLU) Forward(x *Tensor[float32]) (*Tensor[float32], error) {
	out := NewTensor[float32](x.Shape...)
	r.mask = make([]bool, len(x.Data))
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			r.mask[i] = true
		}
	}
	return out, nil
}

func (r *ReLU) Backward(grad *Tensor[float32]) (*Tensor[float32], error) {
	if len(grad.Data) != len(r.mask) {
		return nil, fmt.Errorf("%w: relu grad has %d elements, forward had %d", ErrShapeMismatch, len(grad.Data), len(r.mask))
	}
	out := NewTensor[float32](grad.Shape...)
	for i, g := range grad.Data {
		if r.mask[i] {
			out.Data[i] = g
		}
	}
	return out, nil
}

func (r *ReLU) NamedParameters(string) []NamedParam { return nil }

// relu is the scalar form used where a full layer is unnecessary.
func relu(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}
