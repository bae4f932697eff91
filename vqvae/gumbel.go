package vqvae

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/openfluke/vqvae/nn"
)

const (
	gumbelTemperature = 1.0

	// kldScale is small because the reconstruction term is an unnormalized MSE.
	kldScale = 5e-4
	logFloor = 1e-10
)

// GumbelQuantizer is the Gumbel-softmax quantizer (Jang et al. 2016).
//
// Features are projected to one logit per codebook entry; a relaxed
// categorical sample mixes the codebook vectors. Hard samples are exact
// one-hot vectors whose gradient flows through the soft sample. Evaluation
// always samples hard.
type GumbelQuantizer struct {
	proj  *nn.Conv2D
	embed *nn.Embedding

	straightThrough bool
	training        bool
	rng             *rand.Rand
	logger          *Logger

	// forward cache, all [N, K]
	b, h, w int
	weights []float32
	soft    []float32
	qy      []float32
}

func newGumbelQuantizer(cfg QuantizerConfig, rng *rand.Rand, logger *Logger) *GumbelQuantizer {
	return &GumbelQuantizer{
		proj:            nn.NewConv2D(cfg.NumHiddens, cfg.NumEmbeddings, 1, 1, 0, rng),
		embed:           nn.NewEmbedding(cfg.NumEmbeddings, cfg.EmbeddingDim, rng),
		straightThrough: cfg.StraightThrough,
		training:        true,
		rng:             rng,
		logger:          logger,
	}
}

func (q *GumbelQuantizer) SetTraining(training bool) { q.training = training }
func (q *GumbelQuantizer) Training() bool            { return q.training }
func (q *GumbelQuantizer) NumEmbeddings() int        { return q.embed.Num }
func (q *GumbelQuantizer) EmbeddingDim() int         { return q.embed.Dim }

// Codebook returns the embedding table.
func (q *GumbelQuantizer) Codebook() *nn.Embedding { return q.embed }

// hard reports whether samples are discretized. Inference must quantize.
func (q *GumbelQuantizer) hard() bool {
	if !q.training {
		return true
	}
	return q.straightThrough
}

func (q *GumbelQuantizer) Quantize(z *nn.Tensor[float32]) (*Quantized, error) {
	logits, err := q.proj.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("quantizer projection: %w", err)
	}
	b, _, h, w, err := logits.Dims4()
	if err != nil {
		return nil, err
	}
	flat, err := nn.ChannelsLast(logits)
	if err != nil {
		return nil, err
	}

	k, dim := q.embed.Num, q.embed.Dim
	n := len(flat.Data) / k
	hard := q.hard()

	weights := make([]float32, n*k)
	soft := make([]float32, n*k)
	qy := make([]float32, n*k)
	ind := make([]int, n)
	zq := nn.NewTensor[float32](n, dim)

	var kl float64
	for i := 0; i < n; i++ {
		row := flat.Data[i*k : (i+1)*k]

		sample := nn.GumbelSoftmax(row, gumbelTemperature, hard, q.rng)
		copy(weights[i*k:(i+1)*k], sample.Weights)
		copy(soft[i*k:(i+1)*k], sample.Soft)
		ind[i] = sample.Index

		// zq[i] = sum_k weights[i,k] * embed[k]
		out := zq.Data[i*dim : (i+1)*dim]
		for c, wt := range sample.Weights {
			if wt == 0 {
				continue
			}
			for d, e := range q.embed.Row(c) {
				out[d] += wt * e
			}
		}

		// KL(softmax(logits) || uniform)
		p := nn.Softmax(row, 1, qy[i*k:(i+1)*k])
		for _, v := range p {
			kl += float64(v) * math.Log(float64(v)*float64(k)+logFloor)
		}
	}

	grid, err := nn.ChannelsFirst(zq, b, h, w)
	if err != nil {
		return nil, err
	}

	q.b, q.h, q.w = b, h, w
	q.weights, q.soft, q.qy = weights, soft, qy

	return &Quantized{
		Grid:    grid,
		Loss:    float32(kldScale * kl / float64(n)),
		Indices: &IndexGrid{B: b, H: h, W: w, Data: ind},
	}, nil
}

func (q *GumbelQuantizer) Backward(gradGrid *nn.Tensor[float32], gradLoss float32) (*nn.Tensor[float32], error) {
	if q.weights == nil {
		return nil, ErrNoForward
	}
	g, err := nn.ChannelsLast(gradGrid)
	if err != nil {
		return nil, err
	}
	k, dim := q.embed.Num, q.embed.Dim
	n := len(q.weights) / k
	if len(g.Data) != n*dim {
		return nil, fmt.Errorf("%w: quantizer grad has %d elements, want %d", nn.ErrShapeMismatch, len(g.Data), n*dim)
	}

	gradLogits := nn.NewTensor[float32](n, k)
	gradWeights := make([]float32, k)
	gradQy := make([]float32, k)
	klCoeff := gradLoss * kldScale / float32(n)

	for i := 0; i < n; i++ {
		gz := g.Data[i*dim : (i+1)*dim]
		weights := q.weights[i*k : (i+1)*k]

		for c := 0; c < k; c++ {
			row := q.embed.Row(c)
			var dot float32
			for d, gv := range gz {
				dot += gv * row[d]
			}
			gradWeights[c] = dot

			if wt := weights[c]; wt != 0 {
				grad := q.embed.Weight.Grad[c*dim : (c+1)*dim]
				for d, gv := range gz {
					grad[d] += wt * gv
				}
			}
		}

		// Hard samples pass their gradient straight through to the soft sample.
		out := gradLogits.Data[i*k : (i+1)*k]
		copy(out, nn.SoftmaxBackward(gradWeights, q.soft[i*k:(i+1)*k], gumbelTemperature))

		if klCoeff != 0 {
			qy := q.qy[i*k : (i+1)*k]
			for c, p := range qy {
				a := float64(p)*float64(k) + logFloor
				gradQy[c] = klCoeff * float32(math.Log(a)+float64(p)*float64(k)/a)
			}
			for c, v := range nn.SoftmaxBackward(gradQy, qy, 1) {
				out[c] += v
			}
		}
	}

	gradProjected, err := nn.ChannelsFirst(gradLogits, q.b, q.h, q.w)
	if err != nil {
		return nil, err
	}
	return q.proj.Backward(gradProjected)
}

func (q *GumbelQuantizer) NamedParameters(prefix string) []nn.NamedParam {
	return append(
		q.proj.NamedParameters(nn.JoinName(prefix, "proj")),
		q.embed.NamedParameters(nn.JoinName(prefix, "embed"))...,
	)
}
