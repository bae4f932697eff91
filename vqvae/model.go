package vqvae

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/vqvae/nn"
)

// Config describes the model architecture.
type Config struct {
	InChannels         int    `yaml:"in_channels"`
	NumHiddens         int    `yaml:"num_hiddens"`
	NumResidualHiddens int    `yaml:"num_residual_hiddens"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	NumEmbeddings      int    `yaml:"num_embeddings"`
	Flavor             Flavor `yaml:"flavor"`
	StraightThrough    bool   `yaml:"straight_through"`
	Seed               int64  `yaml:"seed"`
}

// DefaultConfig returns the CIFAR-10 configuration.
func DefaultConfig() Config {
	return Config{
		InChannels:         3,
		NumHiddens:         128,
		NumResidualHiddens: 32,
		EmbeddingDim:       64,
		NumEmbeddings:      512,
		Flavor:             FlavorNearest,
		StraightThrough:    true,
		Seed:               1337,
	}
}

// Validate reports the first problem with c, wrapping ErrInvalidConfig or
// ErrUnknownFlavor.
func (c Config) Validate() error {
	switch {
	case c.InChannels <= 0:
		return fmt.Errorf("%w: in_channels must be positive, got %d", ErrInvalidConfig, c.InChannels)
	case c.NumHiddens <= 0 || c.NumHiddens%2 != 0:
		return fmt.Errorf("%w: num_hiddens must be a positive even number, got %d", ErrInvalidConfig, c.NumHiddens)
	case c.NumResidualHiddens <= 0:
		return fmt.Errorf("%w: num_residual_hiddens must be positive, got %d", ErrInvalidConfig, c.NumResidualHiddens)
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidConfig, c.EmbeddingDim)
	case c.NumEmbeddings <= 0:
		return fmt.Errorf("%w: num_embeddings must be positive, got %d", ErrInvalidConfig, c.NumEmbeddings)
	}
	if _, err := ParseFlavor(string(c.Flavor)); err != nil {
		return err
	}
	return nil
}

// NewEncoder maps [B, in, H, W] to [B, hiddens, H/4, W/4].
func NewEncoder(in, hiddens, residualHiddens int, rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.NewConv2D(in, hiddens/2, 4, 2, 1, rng),
		nn.NewReLU(),
		nn.NewConv2D(hiddens/2, hiddens, 4, 2, 1, rng),
		nn.NewReLU(),
		nn.NewConv2D(hiddens, hiddens, 3, 1, 1, rng),
		nn.NewReLU(),
		nn.NewResBlock(hiddens, residualHiddens, rng),
		nn.NewResBlock(hiddens, residualHiddens, rng),
	)
}

// NewDecoder maps [B, embeddingDim, H/4, W/4] to [B, out, H, W].
func NewDecoder(embeddingDim, hiddens, residualHiddens, out int, rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.NewConv2D(embeddingDim, hiddens, 3, 1, 1, rng),
		nn.NewReLU(),
		nn.NewResBlock(hiddens, residualHiddens, rng),
		nn.NewResBlock(hiddens, residualHiddens, rng),
		nn.NewConvTranspose2D(hiddens, hiddens/2, 4, 2, 1, rng),
		nn.NewReLU(),
		nn.NewConvTranspose2D(hiddens/2, out, 4, 2, 1, rng),
	)
}

// Model is the VQ-VAE: encoder, quantizer and decoder.
type Model struct {
	Config Config

	Encoder   *nn.Sequential
	Quantizer Quantizer
	Decoder   *nn.Sequential

	logger   *Logger
	training bool
}

// Output is the result of a full forward pass.
type Output struct {
	Recon      *nn.Tensor[float32]
	LatentLoss float32
	Indices    *IndexGrid
}

// New builds a model from cfg. A nil logger discards output.
func New(cfg Config, logger *Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flavor, err := ParseFlavor(string(cfg.Flavor))
	if err != nil {
		return nil, err
	}
	logger = orNoop(logger)

	rng := rand.New(rand.NewSource(cfg.Seed))
	q, err := NewQuantizer(flavor, QuantizerConfig{
		NumHiddens:      cfg.NumHiddens,
		EmbeddingDim:    cfg.EmbeddingDim,
		NumEmbeddings:   cfg.NumEmbeddings,
		StraightThrough: cfg.StraightThrough,
		Seed:            rng.Int63(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		Config:    cfg,
		Encoder:   NewEncoder(cfg.InChannels, cfg.NumHiddens, cfg.NumResidualHiddens, rng),
		Quantizer: q,
		Decoder:   NewDecoder(cfg.EmbeddingDim, cfg.NumHiddens, cfg.NumResidualHiddens, cfg.InChannels, rng),
		logger:    logger.WithComponent("model"),
		training:  true,
	}, nil
}

// SetTraining switches the model between training and evaluation mode.
func (m *Model) SetTraining(training bool) {
	m.training = training
	m.Quantizer.SetTraining(training)
}

func (m *Model) Training() bool { return m.training }

// Forward runs image -> encoder -> quantizer -> decoder. H and W must be
// divisible by 4.
func (m *Model) Forward(x *nn.Tensor[float32]) (*Output, error) {
	_, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, err
	}
	if c != m.Config.InChannels {
		return nil, fmt.Errorf("%w: model expects %d input channels, got %d", nn.ErrShapeMismatch, m.Config.InChannels, c)
	}
	if h%4 != 0 || w%4 != 0 {
		return nil, fmt.Errorf("%w: spatial size %dx%d is not divisible by 4", nn.ErrShapeMismatch, h, w)
	}

	z, err := m.Encoder.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	q, err := m.Quantizer.Quantize(z)
	if err != nil {
		return nil, fmt.Errorf("quantizer: %w", err)
	}
	recon, err := m.Decoder.Forward(q.Grid)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return &Output{Recon: recon, LatentLoss: q.Loss, Indices: q.Indices}, nil
}

// Backward propagates the reconstruction gradient and the latent loss
// weight through the last Forward, accumulating parameter gradients.
func (m *Model) Backward(gradRecon *nn.Tensor[float32], gradLatent float32) error {
	gradQ, err := m.Decoder.Backward(gradRecon)
	if err != nil {
		return fmt.Errorf("decoder backward: %w", err)
	}
	gradZ, err := m.Quantizer.Backward(gradQ, gradLatent)
	if err != nil {
		return fmt.Errorf("quantizer backward: %w", err)
	}
	if _, err := m.Encoder.Backward(gradZ); err != nil {
		return fmt.Errorf("encoder backward: %w", err)
	}
	return nil
}

// NamedParameters lists every trainable parameter under a dotted path.
func (m *Model) NamedParameters() []nn.NamedParam {
	var params []nn.NamedParam
	params = append(params, m.Encoder.NamedParameters("encoder")...)
	params = append(params, m.Quantizer.NamedParameters("quantizer")...)
	params = append(params, m.Decoder.NamedParameters("decoder")...)
	return params
}
