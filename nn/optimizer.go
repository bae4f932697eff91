package nn

import (
	"fmt"
	"math"
)

// ParamGroup is a set of parameters sharing a weight decay coefficient.
type ParamGroup struct {
	Params      []NamedParam
	WeightDecay float32
}

// Optimizer defines the contract for all optimizers
type Optimizer interface {
	// Step applies accumulated gradients to every parameter group.
	Step(learningRate float32)

	// ZeroGrad clears accumulated gradients.
	ZeroGrad()

	// Reset clears optimizer state (momentum, etc.)
	Reset()

	// Groups returns the parameter groups the optimizer updates.
	Groups() []ParamGroup

	// Name returns the optimizer name
	Name() string
}

type groupSet []ParamGroup

func (g groupSet) ZeroGrad() {
	for _, group := range g {
		for _, p := range group.Params {
			p.ZeroGrad()
		}
	}
}

func (g groupSet) Groups() []ParamGroup {
	return g
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	groupSet
	momentum   float32
	dampening  float32
	nesterov   bool
	velocities map[string][]float32
}

func NewSGDOptimizer(groups []ParamGroup) *SGDOptimizer {
	return NewSGDOptimizerWithMomentum(groups, 0, 0, false)
}

func NewSGDOptimizerWithMomentum(groups []ParamGroup, momentum, dampening float32, nesterov bool) *SGDOptimizer {
	return &SGDOptimizer{
		groupSet:   groups,
		momentum:   momentum,
		dampening:  dampening,
		nesterov:   nesterov,
		velocities: make(map[string][]float32),
	}
}

func (opt *SGDOptimizer) Step(learningRate float32) {
	for _, group := range opt.groupSet {
		for _, p := range group.Params {
			var v []float32
			if opt.momentum != 0 {
				v = opt.velocities[p.Name]
				if v == nil {
					v = make([]float32, len(p.Data))
					opt.velocities[p.Name] = v
				}
			}

			for j := range p.Data {
				// L2 weight decay folds into the gradient for plain SGD.
				grad := p.Grad[j] + group.WeightDecay*p.Data[j]

				if opt.momentum == 0 {
					p.Data[j] -= learningRate * grad
					continue
				}

				v[j] = opt.momentum*v[j] + (1-opt.dampening)*grad
				if opt.nesterov {
					p.Data[j] -= learningRate * (grad + opt.momentum*v[j])
				} else {
					p.Data[j] -= learningRate * v[j]
				}
			}
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		if opt.nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// AdamW Optimizer (Adam with decoupled weight decay)
// ============================================================================

type AdamWOptimizer struct {
	groupSet
	beta1   float32
	beta2   float32
	epsilon float32
	step    int

	// First moment estimates (momentum)
	m map[string][]float32

	// Second moment estimates (variance)
	v map[string][]float32
}

func NewAdamWOptimizer(groups []ParamGroup, beta1, beta2, epsilon float32) *AdamWOptimizer {
	return &AdamWOptimizer{
		groupSet: groups,
		beta1:    beta1,
		beta2:    beta2,
		epsilon:  epsilon,
		m:        make(map[string][]float32),
		v:        make(map[string][]float32),
	}
}

func NewAdamWOptimizerDefault(groups []ParamGroup) *AdamWOptimizer {
	return NewAdamWOptimizer(groups, 0.9, 0.999, 1e-8)
}

func (opt *AdamWOptimizer) Step(learningRate float32) {
	opt.step++

	// Bias correction factors
	biasCorrection1 := 1.0 - float32(math.Pow(float64(opt.beta1), float64(opt.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(opt.beta2), float64(opt.step)))

	for _, group := range opt.groupSet {
		decay := 1 - learningRate*group.WeightDecay
		for _, p := range group.Params {
			m, v := opt.m[p.Name], opt.v[p.Name]
			if m == nil {
				m = make([]float32, len(p.Data))
				v = make([]float32, len(p.Data))
				opt.m[p.Name], opt.v[p.Name] = m, v
			}

			for j := range p.Data {
				grad := p.Grad[j]

				// Decoupled weight decay
				p.Data[j] *= decay

				m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
				v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad

				mHat := m[j] / biasCorrection1
				vHat := v[j] / biasCorrection2

				p.Data[j] -= learningRate * mHat / (float32(math.Sqrt(float64(vHat))) + opt.epsilon)
			}
		}
	}
}

func (opt *AdamWOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamWOptimizer) Name() string {
	return "AdamW"
}

// ============================================================================
// RMSprop Optimizer
// ============================================================================

type RMSpropOptimizer struct {
	groupSet
	alpha    float32 // Decay rate
	epsilon  float32
	momentum float32

	// Running average of squared gradients
	v map[string][]float32

	// Momentum buffer (if momentum > 0)
	buf map[string][]float32
}

func NewRMSpropOptimizer(groups []ParamGroup, alpha, epsilon, momentum float32) *RMSpropOptimizer {
	return &RMSpropOptimizer{
		groupSet: groups,
		alpha:    alpha,
		epsilon:  epsilon,
		momentum: momentum,
		v:        make(map[string][]float32),
		buf:      make(map[string][]float32),
	}
}

func (opt *RMSpropOptimizer) Step(learningRate float32) {
	for _, group := range opt.groupSet {
		for _, p := range group.Params {
			v := opt.v[p.Name]
			if v == nil {
				v = make([]float32, len(p.Data))
				opt.v[p.Name] = v
				if opt.momentum > 0 {
					opt.buf[p.Name] = make([]float32, len(p.Data))
				}
			}
			buf := opt.buf[p.Name]

			for j := range p.Data {
				grad := p.Grad[j] + group.WeightDecay*p.Data[j]

				v[j] = opt.alpha*v[j] + (1-opt.alpha)*grad*grad
				step := grad / (float32(math.Sqrt(float64(v[j]))) + opt.epsilon)

				if opt.momentum > 0 {
					buf[j] = opt.momentum*buf[j] + step
					p.Data[j] -= learningRate * buf[j]
				} else {
					p.Data[j] -= learningRate * step
				}
			}
		}
	}
}

func (opt *RMSpropOptimizer) Reset() {
	opt.v = make(map[string][]float32)
	opt.buf = make(map[string][]float32)
}

func (opt *RMSpropOptimizer) Name() string {
	if opt.momentum > 0 {
		return "RMSprop (momentum)"
	}
	return "RMSprop"
}

// NewOptimizer builds an optimizer by name: "adamw", "sgd" or "rmsprop".
func NewOptimizer(name string, groups []ParamGroup, momentum float32) (Optimizer, error) {
	switch name {
	case "adamw", "":
		return NewAdamWOptimizerDefault(groups), nil
	case "sgd":
		return NewSGDOptimizerWithMomentum(groups, momentum, 0, false), nil
	case "rmsprop":
		return NewRMSpropOptimizer(groups, 0.99, 1e-8, momentum), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
