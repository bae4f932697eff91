package vqvae

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/vqvae/nn"
)

func smallConfig(flavor Flavor) Config {
	return Config{
		InChannels:         3,
		NumHiddens:         8,
		NumResidualHiddens: 4,
		EmbeddingDim:       4,
		NumEmbeddings:      16,
		Flavor:             flavor,
		StraightThrough:    true,
		Seed:               7,
	}
}

func newSmallModel(t *testing.T, flavor Flavor) *Model {
	t.Helper()
	m, err := New(smallConfig(flavor), nil)
	require.NoError(t, err)
	return m
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"odd hiddens", func(c *Config) { c.NumHiddens = 7 }, ErrInvalidConfig},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }, ErrInvalidConfig},
		{"negative codebook", func(c *Config) { c.NumEmbeddings = -1 }, ErrInvalidConfig},
		{"unknown flavor", func(c *Config) { c.Flavor = "rvq" }, ErrUnknownFlavor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)

			_, err := New(cfg, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestModelRoundTripShape(t *testing.T) {
	shapes := [][]int{
		{2, 3, 8, 8},
		{1, 3, 12, 4},
		{3, 3, 16, 8},
	}
	for _, flavor := range []Flavor{FlavorNearest, FlavorGumbel} {
		for _, shape := range shapes {
			m := newSmallModel(t, flavor)
			x := randomTensor(rand.New(rand.NewSource(1)), shape...)

			out, err := m.Forward(x)
			require.NoError(t, err)
			assert.Equal(t, shape, out.Recon.Shape, "flavor %s", flavor)
			assert.Equal(t, shape[0], out.Indices.B)
			assert.Equal(t, shape[2]/4, out.Indices.H)
			assert.Equal(t, shape[3]/4, out.Indices.W)
		}
	}
}

func TestModelEncoderShape(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)
	z, err := m.Encoder.Forward(randomTensor(rand.New(rand.NewSource(2)), 2, 3, 8, 12))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8, 2, 3}, z.Shape)

	recon, err := m.Decoder.Forward(randomTensor(rand.New(rand.NewSource(3)), 2, 4, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8, 12}, recon.Shape)
}

func TestModelForwardRejectsBadInput(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)

	_, err := m.Forward(nn.NewTensor[float32](1, 3, 6, 8))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	_, err = m.Forward(nn.NewTensor[float32](1, 1, 8, 8))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)

	_, err = m.Forward(nn.NewTensor[float32](3, 8, 8))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestModelWeightDecayPartition(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)
	params := m.NamedParameters()

	decay, noDecay, err := nn.SplitWeightDecay(params)
	require.NoError(t, err)

	all := make(map[string]bool)
	for _, p := range params {
		all[p.Name] = true
	}
	seen := make(map[string]bool)
	for _, p := range decay {
		seen[p.Name] = true
	}
	for _, p := range noDecay {
		assert.False(t, seen[p.Name], "%s is in both sets", p.Name)
		seen[p.Name] = true
	}
	assert.Equal(t, all, seen)

	names := func(ps []nn.NamedParam) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Contains(t, names(decay), "encoder.0.weight")
	assert.Contains(t, names(decay), "decoder.4.weight")
	assert.Contains(t, names(decay), "encoder.6.conv.0.weight")
	assert.Contains(t, names(decay), "quantizer.proj.weight")
	assert.Contains(t, names(noDecay), "quantizer.embed.weight")
	assert.Contains(t, names(noDecay), "decoder.6.bias")
}

func TestConfigureOptimizerRejectsNameCollision(t *testing.T) {
	m := newSmallModel(t, FlavorNearest)
	params := m.NamedParameters()
	params = append(params, nn.NamedParam{Name: "encoder.0.weight", Param: nn.NewParam(nn.ModuleEmbedding, 2, 2)})

	_, err := ConfigureOptimizer(params, DefaultOptimizerConfig())
	assert.ErrorIs(t, err, nn.ErrParamPartition)
}

func TestConfigureOptimizerGroups(t *testing.T) {
	m := newSmallModel(t, FlavorGumbel)
	opt, err := m.ConfigureOptimizer(DefaultOptimizerConfig())
	require.NoError(t, err)

	groups := opt.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, float32(1e-5), groups[0].WeightDecay)
	assert.Equal(t, float32(0), groups[1].WeightDecay)
	assert.Equal(t, len(m.NamedParameters()), len(groups[0].Params)+len(groups[1].Params))

	_, err = m.ConfigureOptimizer(OptimizerConfig{Name: "lbfgs", LearningRate: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = m.ConfigureOptimizer(OptimizerConfig{Name: "adamw"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelSetTrainingPropagates(t *testing.T) {
	m := newSmallModel(t, FlavorGumbel)
	assert.True(t, m.Training())
	assert.True(t, m.Quantizer.Training())

	m.SetTraining(false)
	assert.False(t, m.Training())
	assert.False(t, m.Quantizer.Training())
}
