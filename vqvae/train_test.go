package vqvae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerplexity(t *testing.T) {
	t.Run("uniform usage", func(t *testing.T) {
		const k = 16
		var indices []int
		for rep := 0; rep < 5; rep++ {
			for c := 0; c < k; c++ {
				indices = append(indices, c)
			}
		}
		p, used := Perplexity(indices, k)
		assert.InDelta(t, float64(k), p, 1e-6)
		assert.Equal(t, k, used)
	})

	t.Run("single code", func(t *testing.T) {
		p, used := Perplexity([]int{3, 3, 3, 3, 3, 3}, 16)
		assert.InDelta(t, 1.0, p, 1e-6)
		assert.Equal(t, 1, used)
	})

	t.Run("two codes", func(t *testing.T) {
		p, used := Perplexity([]int{0, 5, 0, 5}, 8)
		assert.InDelta(t, 2.0, p, 1e-6)
		assert.Equal(t, 2, used)
	})

	t.Run("empty", func(t *testing.T) {
		p, used := Perplexity(nil, 8)
		assert.Zero(t, p)
		assert.Zero(t, used)
	})
}

func TestTrainingStepAccumulatesGradients(t *testing.T) {
	for _, flavor := range []Flavor{FlavorNearest, FlavorGumbel} {
		m := newSmallModel(t, flavor)
		// 2x4x4 = 32 latent vectors for 16 codes, so seeding cannot give
		// every vector its own centroid.
		batch, err := NewSyntheticLoader(1, 2, 3, 16, 16, 1).Batch(0)
		require.NoError(t, err)

		res, err := m.TrainingStep(batch)
		require.NoError(t, err)
		assert.InDelta(t, res.ReconLoss+res.LatentLoss, res.Loss, 1e-6)
		assert.Greater(t, res.ReconLoss, float32(0))

		for _, p := range m.NamedParameters() {
			var norm float64
			for _, g := range p.Grad {
				norm += float64(g * g)
			}
			if p.Name == "quantizer.embed.weight" {
				assert.Greater(t, norm, 0.0, "%s (%s)", p.Name, flavor)
			}
			if p.Name == "encoder.0.weight" {
				assert.Greater(t, norm, 0.0, "%s (%s)", p.Name, flavor)
			}
		}
	}
}

func TestTrainingStepReducesReconstructionLoss(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)
	opt, err := m.ConfigureOptimizer(OptimizerConfig{Name: "adamw", LearningRate: 2e-3})
	require.NoError(t, err)
	batch, err := NewSyntheticLoader(1, 4, 3, 8, 8, 2).Batch(0)
	require.NoError(t, err)

	var first, last StepResult
	for i := 0; i < 15; i++ {
		opt.ZeroGrad()
		res, err := m.TrainingStep(batch)
		require.NoError(t, err)
		opt.Step(2e-3)
		if i == 0 {
			first = res
		}
		last = res
	}
	assert.Less(t, last.ReconLoss, first.ReconLoss)
}

func TestValidationStep(t *testing.T) {
	m := newSmallModel(t, FlavorGumbel)
	batch, err := NewSyntheticLoader(1, 2, 3, 8, 8, 3).Batch(0)
	require.NoError(t, err)

	metrics, err := m.ValidationStep(batch)
	require.NoError(t, err)
	assert.True(t, m.Training(), "mode restored after validation")

	assert.InDelta(t, float64(metrics.ReconLoss)/DataVariance, metrics.ReconError, 1e-6)
	assert.GreaterOrEqual(t, metrics.Perplexity, 1.0-1e-9)
	assert.LessOrEqual(t, metrics.Perplexity, float64(m.Quantizer.NumEmbeddings())+1e-9)
	assert.GreaterOrEqual(t, metrics.ClusterUse, 1)
	assert.LessOrEqual(t, metrics.ClusterUse, 2*2*2)

	m.SetTraining(false)
	_, err = m.ValidationStep(batch)
	require.NoError(t, err)
	assert.False(t, m.Training())
}

func TestValidationStepDoesNotSeed(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)
	batch, err := NewSyntheticLoader(1, 2, 3, 8, 8, 4).Batch(0)
	require.NoError(t, err)

	_, err = m.ValidationStep(batch)
	require.NoError(t, err)
	assert.False(t, m.Quantizer.(*NearestNeighbor).Seeded())

	_, err = m.TrainingStep(batch)
	require.NoError(t, err)
	assert.True(t, m.Quantizer.(*NearestNeighbor).Seeded())
}

func TestMeanValidationMetrics(t *testing.T) {
	got := mean([]ValidationMetrics{
		{Loss: 1, ReconLoss: 0.5, LatentLoss: 0.5, Perplexity: 4, ClusterUse: 4, ReconError: 2},
		{Loss: 3, ReconLoss: 1.5, LatentLoss: 1.5, Perplexity: 8, ClusterUse: 7, ReconError: 4},
	})
	assert.InDelta(t, 2.0, got.Loss, 1e-6)
	assert.InDelta(t, 1.0, got.ReconLoss, 1e-6)
	assert.InDelta(t, 6.0, got.Perplexity, 1e-9)
	assert.Equal(t, 6, got.ClusterUse)
	assert.InDelta(t, 3.0, got.ReconError, 1e-9)

	assert.Equal(t, ValidationMetrics{}, mean(nil))
}
