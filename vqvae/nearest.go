package vqvae

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/vqvae/nn"
)

const (
	commitmentCost = 0.25

	// seedSampleSize caps how many projected vectors feed k-means seeding.
	seedSampleSize = 20000
	seedIterations = 10
)

type codebookState uint8

const (
	codebookUninitialized codebookState = iota
	codebookSeeded
)

// NearestNeighbor is the hard VQ-VAE quantizer (van den Oord et al. 2017).
//
// Each projected feature vector is replaced by its nearest codebook entry.
// The gradient skips the selection: it flows to the projected vector as if
// quantization were the identity. The codebook is seeded once from k-means
// over the first training batch.
//
// Seeding state is per instance. Data-parallel replicas each seed from their
// own shard; nothing coordinates them.
type NearestNeighbor struct {
	proj  *nn.Conv2D
	embed *nn.Embedding

	state    codebookState
	training bool
	rng      *rand.Rand
	logger   *Logger

	seedRuns int

	// forward cache
	b, h, w int
	ze      []float32 // projected vectors, [N, D]
	zq      []float32 // selected codebook vectors, [N, D]
	ind     []int
}

func newNearestNeighbor(cfg QuantizerConfig, rng *rand.Rand, logger *Logger) *NearestNeighbor {
	return &NearestNeighbor{
		proj:     nn.NewConv2D(cfg.NumHiddens, cfg.EmbeddingDim, 1, 1, 0, rng),
		embed:    nn.NewEmbedding(cfg.NumEmbeddings, cfg.EmbeddingDim, rng),
		training: true,
		rng:      rng,
		logger:   logger,
	}
}

func (q *NearestNeighbor) SetTraining(training bool) { q.training = training }
func (q *NearestNeighbor) Training() bool            { return q.training }
func (q *NearestNeighbor) NumEmbeddings() int        { return q.embed.Num }
func (q *NearestNeighbor) EmbeddingDim() int         { return q.embed.Dim }

// Seeded reports whether the codebook has been initialized from data.
func (q *NearestNeighbor) Seeded() bool { return q.state == codebookSeeded }

// Codebook returns the embedding table.
func (q *NearestNeighbor) Codebook() *nn.Embedding { return q.embed }

func (q *NearestNeighbor) Quantize(z *nn.Tensor[float32]) (*Quantized, error) {
	projected, err := q.proj.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("quantizer projection: %w", err)
	}
	b, _, h, w, err := projected.Dims4()
	if err != nil {
		return nil, err
	}
	flat, err := nn.ChannelsLast(projected)
	if err != nil {
		return nil, err
	}
	ze := flat.Data
	dim := q.embed.Dim

	if q.training && q.state == codebookUninitialized {
		if err := q.seed(ze); err != nil {
			return nil, err
		}
	}

	ind, err := nn.NearestRows(ze, q.embed.Weight.Data, dim)
	if err != nil {
		return nil, fmt.Errorf("codebook lookup: %w", err)
	}
	gathered, err := q.embed.Lookup(ind)
	if err != nil {
		return nil, err
	}
	zq := gathered.Data

	// ||sg[zq] - ze||^2 trains the encoder, ||zq - sg[ze]||^2 the codebook.
	// Both are plain means of squared error, not halved.
	var sq float64
	for i := range ze {
		d := float64(zq[i] - ze[i])
		sq += d * d
	}
	mse := sq / float64(len(ze))
	commitment, codebook := mse, mse
	loss := commitmentCost*commitment + codebook

	// Straight-through: the value is zq, the gradient belongs to ze.
	st := nn.NewTensor[float32](len(ze)/dim, dim)
	for i := range ze {
		st.Data[i] = ze[i] + (zq[i] - ze[i])
	}
	grid, err := nn.ChannelsFirst(st, b, h, w)
	if err != nil {
		return nil, err
	}

	q.b, q.h, q.w = b, h, w
	q.ze, q.zq, q.ind = ze, zq, ind

	return &Quantized{
		Grid:    grid,
		Loss:    float32(loss),
		Indices: &IndexGrid{B: b, H: h, W: w, Data: ind},
	}, nil
}

// seed overwrites the codebook with k-means centers of a random sample of
// the projected vectors. It runs at most once per instance.
func (q *NearestNeighbor) seed(ze []float32) error {
	dim := q.embed.Dim
	n := len(ze) / dim
	if n == 0 {
		return fmt.Errorf("codebook seeding: %w", ErrEmptyBatch)
	}
	m := min(n, seedSampleSize)

	sample := make([]float32, m*dim)
	for i, idx := range q.rng.Perm(n)[:m] {
		copy(sample[i*dim:(i+1)*dim], ze[idx*dim:(idx+1)*dim])
	}

	q.logger.LogSeeding(m, n, q.embed.Num)
	centroids, _, err := nn.KMeans(sample, dim, q.embed.Num, seedIterations, q.rng)
	if err != nil {
		return fmt.Errorf("codebook seeding: %w", err)
	}
	if err := q.embed.SetRows(centroids); err != nil {
		return fmt.Errorf("codebook seeding: %w", err)
	}

	q.state = codebookSeeded
	q.seedRuns++
	return nil
}

func (q *NearestNeighbor) Backward(gradGrid *nn.Tensor[float32], gradLoss float32) (*nn.Tensor[float32], error) {
	if q.ze == nil {
		return nil, ErrNoForward
	}
	g, err := nn.ChannelsLast(gradGrid)
	if err != nil {
		return nil, err
	}
	if len(g.Data) != len(q.ze) {
		return nil, fmt.Errorf("%w: quantizer grad has %d elements, want %d", nn.ErrShapeMismatch, len(g.Data), len(q.ze))
	}

	// g.Data is the straight-through gradient for ze; add the loss terms.
	scale := 2 * gradLoss / float32(len(q.ze))
	gradCodebook := make([]float32, len(q.ze))
	for i, ze := range q.ze {
		diff := ze - q.zq[i]
		g.Data[i] += commitmentCost * scale * diff
		gradCodebook[i] = -scale * diff
	}
	if err := q.embed.AccumulateGrad(q.ind, gradCodebook); err != nil {
		return nil, err
	}

	gradProjected, err := nn.ChannelsFirst(g, q.b, q.h, q.w)
	if err != nil {
		return nil, err
	}
	return q.proj.Backward(gradProjected)
}

func (q *NearestNeighbor) NamedParameters(prefix string) []nn.NamedParam {
	return append(
		q.proj.NamedParameters(nn.JoinName(prefix, "proj")),
		q.embed.NamedParameters(nn.JoinName(prefix, "embed"))...,
	)
}
