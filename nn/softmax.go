package nn

import (
	"math"
	"math/rand"
)

// Softmax writes softmax(logits / temperature) into out and returns it.
// If out is nil a new slice is allocated.
func Softmax(logits []float32, temperature float32, out []float32) []float32 {
	if temperature == 0 {
		temperature = 1.0
	}
	if out == nil {
		out = make([]float32, len(logits))
	}
	if len(logits) == 0 {
		return out
	}

	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64((v - maxVal) / temperature))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// SoftmaxBackward maps a gradient w.r.t. softmax(x/temperature) to a gradient
// w.r.t. x, given the softmax output y.
func SoftmaxBackward(gradOutput, y []float32, temperature float32) []float32 {
	if temperature == 0 {
		temperature = 1.0
	}
	var dot float32
	for i := range y {
		dot += gradOutput[i] * y[i]
	}
	grad := make([]float32, len(y))
	for i := range y {
		grad[i] = y[i] * (gradOutput[i] - dot) / temperature
	}
	return grad
}

// GumbelSample holds one relaxed categorical draw.
type GumbelSample struct {
	// Weights is the value used downstream: the soft distribution, or an exact
	// one-hot vector when the draw is hard.
	Weights []float32
	// Soft is the relaxed distribution softmax((logits + g) / temperature).
	// Gradients always flow through Soft, which is the straight-through rule
	// for hard draws.
	Soft []float32
	// Index is the argmax of Weights.
	Index int
}

// GumbelSoftmax draws a relaxed one-hot sample over len(logits) categories.
func GumbelSoftmax(logits []float32, temperature float32, hard bool, rng *rand.Rand) GumbelSample {
	noisy := make([]float32, len(logits))
	for i, v := range logits {
		// Gumbel noise: -log(-log(uniform))
		u := rng.Float64()
		if u < 1e-10 {
			u = 1e-10
		}
		noisy[i] = v - float32(math.Log(-math.Log(u)))
	}

	soft := Softmax(noisy, temperature, nil)
	index := argmax(soft)

	weights := soft
	if hard {
		weights = make([]float32, len(soft))
		weights[index] = 1
	}
	return GumbelSample{Weights: weights, Soft: soft, Index: index}
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
