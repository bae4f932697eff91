package vqvae

import "errors"

var (
	// ErrUnknownFlavor is returned when a quantizer selector names no known variant.
	ErrUnknownFlavor = errors.New("vqvae: unknown quantizer flavor")

	// ErrInvalidConfig is returned when model or trainer configuration is unusable.
	ErrInvalidConfig = errors.New("vqvae: invalid configuration")

	// ErrNoForward is returned when Backward runs without a preceding Forward.
	ErrNoForward = errors.New("vqvae: backward called before forward")

	// ErrEmptyBatch is returned when codebook seeding sees no feature vectors.
	ErrEmptyBatch = errors.New("vqvae: empty batch")
)
