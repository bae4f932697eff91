package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomTensor(rng *rand.Rand, shape ...int) *Tensor[float32] {
	t := NewTensor[float32](shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

// weightedSum is the scalar loss sum(coeff * out); its gradient w.r.t. out is coeff.
func weightedSum(out, coeff *Tensor[float32]) float64 {
	var s float64
	for i, v := range out.Data {
		s += float64(v) * float64(coeff.Data[i])
	}
	return s
}

// checkLinearLayerGrads compares analytic gradients of a layer that is linear
// in both its input and its parameters against central differences.
func checkLinearLayerGrads(t *testing.T, layer Layer, x *Tensor[float32], rng *rand.Rand) {
	t.Helper()
	const eps = 0.5

	out, err := layer.Forward(x)
	require.NoError(t, err)
	coeff := randomTensor(rng, out.Shape...)

	params := layer.NamedParameters("")
	for _, p := range params {
		p.ZeroGrad()
	}
	gradX, err := layer.Backward(coeff)
	require.NoError(t, err)
	require.Equal(t, x.Shape, gradX.Shape)

	loss := func() float64 {
		o, err := layer.Forward(x)
		require.NoError(t, err)
		return weightedSum(o, coeff)
	}

	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + eps
		plus := loss()
		x.Data[i] = orig - eps
		minus := loss()
		x.Data[i] = orig
		assert.InDelta(t, (plus-minus)/(2*eps), gradX.Data[i], 1e-3, "input grad %d", i)
	}

	for _, p := range params {
		analytic := append([]float32(nil), p.Grad...)
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + eps
			plus := loss()
			p.Data[i] = orig - eps
			minus := loss()
			p.Data[i] = orig
			assert.InDelta(t, (plus-minus)/(2*eps), analytic[i], 1e-3, "%s grad %d", p.Name, i)
		}
	}
}

func TestConv2DOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name                 string
		k, stride, pad, outC int
		wantH, wantW         int
	}{
		{"downsample", 4, 2, 1, 5, 4, 4},
		{"same", 3, 1, 1, 5, 8, 8},
		{"pointwise", 1, 1, 0, 7, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConv2D(3, tt.outC, tt.k, tt.stride, tt.pad, rng)
			out, err := conv.Forward(randomTensor(rng, 2, 3, 8, 8))
			require.NoError(t, err)
			assert.Equal(t, []int{2, tt.outC, tt.wantH, tt.wantW}, out.Shape)
		})
	}
}

func TestConv2DKnownValues(t *testing.T) {
	conv := NewConv2D(1, 1, 2, 1, 0, rand.New(rand.NewSource(1)))
	copy(conv.Weight.Data, []float32{1, 0, 0, 1})
	conv.Bias.Data[0] = 0.5

	x := NewTensorFromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)

	out, err := conv.Forward(x)
	require.NoError(t, err)
	// Each output is top-left + bottom-right of a 2x2 window, plus bias.
	assert.Equal(t, []float32{6.5, 8.5, 12.5, 14.5}, out.Data)
}

func TestConv2DChannelMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv2D(3, 4, 3, 1, 1, rng)
	_, err := conv.Forward(randomTensor(rng, 1, 2, 4, 4))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	conv := NewConv2D(2, 3, 3, 2, 1, rng)
	checkLinearLayerGrads(t, conv, randomTensor(rng, 2, 2, 5, 5), rng)
}

func TestConvTranspose2DOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	convT := NewConvTranspose2D(4, 3, 4, 2, 1, rng)
	out, err := convT.Forward(randomTensor(rng, 2, 4, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8, 8}, out.Shape)
}

func TestConvTranspose2DIsAdjointOfConv2D(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conv := NewConv2D(2, 3, 4, 2, 1, rng)
	convT := NewConvTranspose2D(3, 2, 4, 2, 1, rng)
	// Same kernel layout once read as [out][in] vs [in][out].
	copy(convT.Weight.Data, conv.Weight.Data)

	x := randomTensor(rng, 1, 2, 6, 6)
	y := randomTensor(rng, 1, 3, 3, 3)

	cx, err := conv.Forward(x)
	require.NoError(t, err)
	ty, err := convT.Forward(y)
	require.NoError(t, err)

	// <conv(x), y> == <x, convT(y)> with zero biases.
	assert.InDelta(t, weightedSum(cx, y), weightedSum(ty, x), 1e-3)
}

func TestConvTranspose2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	convT := NewConvTranspose2D(3, 2, 4, 2, 1, rng)
	checkLinearLayerGrads(t, convT, randomTensor(rng, 2, 3, 3, 3), rng)
}

func TestResBlockPreservesShape(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	block := NewResBlock(6, 4, rng)
	x := randomTensor(rng, 2, 6, 5, 5)

	out, err := block.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, out.Shape)
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, float32(0))
	}

	names := []string{}
	for _, p := range block.NamedParameters("res") {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"res.conv.0.weight", "res.conv.0.bias", "res.conv.2.weight", "res.conv.2.bias"}, names)
}

func TestResBlockSkipGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	block := NewResBlock(2, 3, rng)
	for _, p := range block.NamedParameters("") {
		clear(p.Data)
	}

	// With a zeroed branch the block is relu(x): the gradient is the mask.
	x := randomTensor(rng, 1, 2, 3, 3)
	_, err := block.Forward(x)
	require.NoError(t, err)

	ones := NewTensor[float32](x.Shape...)
	for i := range ones.Data {
		ones.Data[i] = 1
	}
	grad, err := block.Backward(ones)
	require.NoError(t, err)
	for i, v := range x.Data {
		want := float32(0)
		if v > 0 {
			want = 1
		}
		assert.Equal(t, want, grad.Data[i])
	}
}

func TestMSELoss(t *testing.T) {
	pred := NewTensorFromSlice([]float32{1, 2, 3, 4}, 4)
	target := NewTensorFromSlice([]float32{1, 0, 3, 0}, 4)

	loss, grad, err := MSELoss(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, loss, 1e-6) // (4 + 16) / 4
	assert.InDeltaSlice(t, []float32{0, 1, 0, 2}, grad.Data, 1e-6)

	_, _, err = MSELoss(pred, NewTensor[float32](3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	out := Softmax([]float32{1, 2, 3, 1000}, 1, nil)
	var sum float64
	for _, v := range out {
		assert.False(t, math.IsNaN(float64(v)))
		sum += float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, 1.0, out[3], 1e-6)
}
