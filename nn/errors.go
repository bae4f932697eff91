package nn

import "errors"

var (
	// ErrShapeMismatch is returned when a tensor does not have the shape a layer expects.
	ErrShapeMismatch = errors.New("nn: shape mismatch")

	// ErrParamPartition is returned when parameters cannot be split into an
	// exact, disjoint decay/no-decay cover.
	ErrParamPartition = errors.New("nn: invalid weight decay partition")
)
