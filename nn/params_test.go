package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(params []NamedParam) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name
	}
	return out
}

func TestSplitWeightDecay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net := NewSequential(
		NewConv2D(3, 4, 3, 1, 1, rng),
		NewReLU(),
		NewConvTranspose2D(4, 3, 4, 2, 1, rng),
	)
	params := append(net.NamedParameters("net"), NewEmbedding(8, 4, rng).NamedParameters("embed")...)
	params = append(params, NamedParam{Name: "norm.weight", Param: NewParam(ModuleLayerNorm, 4)})

	decay, noDecay, err := SplitWeightDecay(params)
	require.NoError(t, err)

	assert.Equal(t, []string{"net.0.weight", "net.2.weight"}, names(decay))
	assert.Equal(t, []string{"embed.weight", "net.0.bias", "net.2.bias", "norm.weight"}, names(noDecay))
	assert.Len(t, append(decay, noDecay...), len(params))
}

func TestSplitWeightDecayRejectsCollision(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	params := NewConv2D(3, 4, 3, 1, 1, rng).NamedParameters("layer")
	// An embedding weight registered under the same name as the conv weight.
	params = append(params, NamedParam{Name: "layer.weight", Param: NewParam(ModuleEmbedding, 8, 4)})

	_, _, err := SplitWeightDecay(params)
	assert.ErrorIs(t, err, ErrParamPartition)
}

func TestSplitWeightDecayRejectsDuplicateName(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	params := NewConv2D(3, 4, 3, 1, 1, rng).NamedParameters("layer")
	params = append(params, NewConv2D(3, 4, 3, 1, 1, rng).NamedParameters("layer")...)

	_, _, err := SplitWeightDecay(params)
	assert.ErrorIs(t, err, ErrParamPartition)
}

func TestSplitWeightDecayRejectsUnclassified(t *testing.T) {
	params := []NamedParam{{Name: "scale", Param: NewParam(ModuleConv2D, 1)}}

	_, _, err := SplitWeightDecay(params)
	assert.ErrorIs(t, err, ErrParamPartition)
	assert.Contains(t, err.Error(), "scale")
}
