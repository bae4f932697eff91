package vqvae

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/openfluke/vqvae/nn"
)

// Flavor selects a quantizer variant.
type Flavor string

const (
	// FlavorNearest is the nearest-neighbor (hard) quantizer with a
	// straight-through gradient and k-means codebook seeding.
	FlavorNearest Flavor = "vqvae"
	// FlavorGumbel is the Gumbel-softmax (soft) relaxation quantizer.
	FlavorGumbel Flavor = "gumbel"
)

// ParseFlavor maps a selector string to a Flavor. "vqvae", "nearest" and
// "hard" select FlavorNearest; "gumbel" and "soft" select FlavorGumbel.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vqvae", "nearest", "hard":
		return FlavorNearest, nil
	case "gumbel", "soft":
		return FlavorGumbel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFlavor, s)
	}
}

// IndexGrid holds one codebook index per spatial location, laid out [B][H][W].
type IndexGrid struct {
	B, H, W int
	Data    []int
}

// At returns the index selected at (b, h, w).
func (g *IndexGrid) At(b, h, w int) int {
	return g.Data[(b*g.H+h)*g.W+w]
}

// Quantized is the result of a quantizer forward pass.
type Quantized struct {
	// Grid is the quantized embedding grid, [B, EmbeddingDim, H, W].
	Grid *nn.Tensor[float32]
	// Loss is the auxiliary loss term to add to the reconstruction loss.
	Loss float32
	// Indices is the discrete latent code.
	Indices *IndexGrid
}

// Quantizer maps a continuous feature grid onto a learned codebook.
type Quantizer interface {
	// Quantize runs the forward pass on a [B, NumHiddens, H, W] grid.
	Quantize(z *nn.Tensor[float32]) (*Quantized, error)

	// Backward takes the gradient of the training loss w.r.t. the quantized
	// grid and w.r.t. the auxiliary loss, accumulates parameter gradients and
	// returns the gradient w.r.t. the input grid of the last Quantize call.
	Backward(gradGrid *nn.Tensor[float32], gradLoss float32) (*nn.Tensor[float32], error)

	SetTraining(training bool)
	Training() bool

	NumEmbeddings() int
	EmbeddingDim() int

	NamedParameters(prefix string) []nn.NamedParam
}

// QuantizerConfig is fixed at construction.
type QuantizerConfig struct {
	NumHiddens    int
	EmbeddingDim  int
	NumEmbeddings int

	// StraightThrough selects hard sampling during training for the Gumbel
	// flavor. Evaluation always samples hard.
	StraightThrough bool

	Seed   int64
	Logger *Logger
}

// NewQuantizer builds the quantizer variant named by flavor.
func NewQuantizer(flavor Flavor, cfg QuantizerConfig) (Quantizer, error) {
	if cfg.NumHiddens <= 0 || cfg.EmbeddingDim <= 0 || cfg.NumEmbeddings <= 0 {
		return nil, fmt.Errorf("%w: quantizer sizes must be positive (hiddens=%d, dim=%d, n_embed=%d)",
			ErrInvalidConfig, cfg.NumHiddens, cfg.EmbeddingDim, cfg.NumEmbeddings)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	logger := orNoop(cfg.Logger).WithComponent("quantizer")

	switch flavor {
	case FlavorNearest:
		return newNearestNeighbor(cfg, rng, logger), nil
	case FlavorGumbel:
		return newGumbelQuantizer(cfg, rng, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlavor, string(flavor))
	}
}
