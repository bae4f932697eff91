package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGumbelSoftmaxHardIsOneHot(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	logits := []float32{0.1, 2.0, -1.0, 0.5}

	for i := 0; i < 50; i++ {
		s := GumbelSoftmax(logits, 1.0, true, rng)
		var sum float32
		for k, w := range s.Weights {
			assert.True(t, w == 0 || w == 1, "weight %v is not 0/1", w)
			sum += w
			if w == 1 {
				assert.Equal(t, s.Index, k)
			}
		}
		assert.Equal(t, float32(1), sum)
		assert.Equal(t, argmax(s.Soft), s.Index)
	}
}

func TestGumbelSoftmaxSoftIsDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := GumbelSoftmax([]float32{0.1, 2.0, -1.0}, 1.0, false, rng)

	var sum float32
	for _, w := range s.Weights {
		assert.Greater(t, w, float32(0))
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Equal(t, s.Soft, s.Weights)
}

func TestSoftmaxBackward(t *testing.T) {
	logits := []float32{0.3, -0.2, 1.1}
	y := Softmax(logits, 1, nil)
	g := []float32{1, -2, 0.5}

	analytic := SoftmaxBackward(g, y, 1)

	const eps = 1e-3
	for i := range logits {
		orig := logits[i]
		logits[i] = orig + eps
		plus := Softmax(logits, 1, nil)
		logits[i] = orig - eps
		minus := Softmax(logits, 1, nil)
		logits[i] = orig

		var numeric float32
		for j := range g {
			numeric += g[j] * (plus[j] - minus[j]) / (2 * eps)
		}
		assert.InDelta(t, numeric, analytic[i], 1e-3)
	}
}
