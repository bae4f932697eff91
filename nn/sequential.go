package nn

import (
	"fmt"
	"strconv"
)

// Sequential runs sub-layers in order. Parameters are named by position,
// e.g. "encoder.0.weight".
type Sequential struct {
	Layers []Layer
}

// NewSequential groups layers into a single Layer.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *Tensor[float32]) (*Tensor[float32], error) {
	current := x
	for i, layer := range s.Layers {
		out, err := layer.Forward(current)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		current = out
	}
	return current, nil
}

func (s *Sequential) Backward(grad *Tensor[float32]) (*Tensor[float32], error) {
	current := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		g, err := s.Layers[i].Backward(current)
		if err != nil {
			return nil, fmt.Errorf("layer %d backward: %w", i, err)
		}
		current = g
	}
	return current, nil
}

func (s *Sequential) NamedParameters(prefix string) []NamedParam {
	var params []NamedParam
	for i, layer := range s.Layers {
		params = append(params, layer.NamedParameters(JoinName(prefix, strconv.Itoa(i)))...)
	}
	return params
}
