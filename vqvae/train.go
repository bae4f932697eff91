package vqvae

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/openfluke/vqvae/nn"
)

// DataVariance is the pixel variance of the CIFAR-10 training set after
// normalization. Reconstruction error is reported relative to it.
const DataVariance = 0.06327039811675479

// Batch is one (image, label) pair from a Loader.
type Batch struct {
	Images *nn.Tensor[float32] // [B, C, H, W]
	Labels []int
}

// StepResult holds the losses of one training step.
type StepResult struct {
	Loss       float32
	ReconLoss  float32
	LatentLoss float32
}

// ValidationMetrics holds the diagnostics of one validation batch, or their
// mean over several batches.
type ValidationMetrics struct {
	Loss       float32
	ReconLoss  float32
	LatentLoss float32

	// Perplexity is exp(entropy) of codebook usage, in [1, NumEmbeddings].
	Perplexity float64
	// ClusterUse counts codebook entries selected at least once.
	ClusterUse int
	// ReconError is ReconLoss / DataVariance.
	ReconError float64
}

// TrainingStep runs forward and backward on one batch in training mode.
// Gradients accumulate into the parameters; the caller zeroes them and steps
// the optimizer.
func (m *Model) TrainingStep(b Batch) (StepResult, error) {
	if !m.training {
		m.SetTraining(true)
	}
	out, err := m.Forward(b.Images)
	if err != nil {
		return StepResult{}, err
	}
	recon, gradRecon, err := nn.MSELoss(out.Recon, b.Images)
	if err != nil {
		return StepResult{}, fmt.Errorf("reconstruction loss: %w", err)
	}
	// loss = recon + latent, so both upstream gradients are unit weighted.
	if err := m.Backward(gradRecon, 1); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Loss:       recon + out.LatentLoss,
		ReconLoss:  recon,
		LatentLoss: out.LatentLoss,
	}, nil
}

// ValidationStep evaluates one batch in evaluation mode and restores the
// previous mode afterwards.
func (m *Model) ValidationStep(b Batch) (ValidationMetrics, error) {
	prev := m.training
	m.SetTraining(false)
	defer m.SetTraining(prev)

	out, err := m.Forward(b.Images)
	if err != nil {
		return ValidationMetrics{}, err
	}
	recon, _, err := nn.MSELoss(out.Recon, b.Images)
	if err != nil {
		return ValidationMetrics{}, fmt.Errorf("reconstruction loss: %w", err)
	}
	perplexity, used := Perplexity(out.Indices.Data, m.Quantizer.NumEmbeddings())

	return ValidationMetrics{
		Loss:       recon + out.LatentLoss,
		ReconLoss:  recon,
		LatentLoss: out.LatentLoss,
		Perplexity: perplexity,
		ClusterUse: used,
		ReconError: float64(recon) / DataVariance,
	}, nil
}

// Perplexity returns exp(entropy) of the empirical distribution of indices
// over k codes, and the number of codes used at least once.
func Perplexity(indices []int, k int) (float64, int) {
	if len(indices) == 0 || k <= 0 {
		return 0, 0
	}
	probs := make([]float64, k)
	for _, idx := range indices {
		probs[idx]++
	}
	floats.Scale(1/float64(len(indices)), probs)

	var entropy float64
	used := 0
	for _, p := range probs {
		if p > 0 {
			used++
		}
		entropy -= p * math.Log(p+1e-10)
	}
	return math.Exp(entropy), used
}

// mean averages per-batch validation metrics. ClusterUse is rounded.
func mean(ms []ValidationMetrics) ValidationMetrics {
	if len(ms) == 0 {
		return ValidationMetrics{}
	}
	var loss, recon, latent, perplexity, use, reconErr []float64
	for _, m := range ms {
		loss = append(loss, float64(m.Loss))
		recon = append(recon, float64(m.ReconLoss))
		latent = append(latent, float64(m.LatentLoss))
		perplexity = append(perplexity, m.Perplexity)
		use = append(use, float64(m.ClusterUse))
		reconErr = append(reconErr, m.ReconError)
	}
	n := float64(len(ms))
	return ValidationMetrics{
		Loss:       float32(floats.Sum(loss) / n),
		ReconLoss:  float32(floats.Sum(recon) / n),
		LatentLoss: float32(floats.Sum(latent) / n),
		Perplexity: floats.Sum(perplexity) / n,
		ClusterUse: int(math.Round(floats.Sum(use) / n)),
		ReconError: floats.Sum(reconErr) / n,
	}
}
