package nn

// Layer is a differentiable building block.
//
// Forward caches whatever Backward needs, so Backward must be called after
// the Forward it differentiates and before the next Forward. Backward returns
// the gradient with respect to the Forward input and accumulates parameter
// gradients into Param.Grad.
type Layer interface {
	Forward(x *Tensor[float32]) (*Tensor[float32], error)
	Backward(grad *Tensor[float32]) (*Tensor[float32], error)
	NamedParameters(prefix string) []NamedParam
}
