package vqvae

import (
	"fmt"

	"github.com/openfluke/vqvae/nn"
)

// OptimizerConfig selects and parameterizes the optimizer.
type OptimizerConfig struct {
	Name         string  `yaml:"name"`
	LearningRate float32 `yaml:"learning_rate"`
	WeightDecay  float32 `yaml:"weight_decay"`
	Momentum     float32 `yaml:"momentum"`
}

// DefaultOptimizerConfig is AdamW at 3e-4 with light weight decay.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Name:         "adamw",
		LearningRate: 3e-4,
		WeightDecay:  1e-5,
	}
}

// Validate checks the learning rate and decay range.
func (c OptimizerConfig) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("%w: weight_decay must be non-negative, got %g", ErrInvalidConfig, c.WeightDecay)
	}
	return nil
}

// ConfigureOptimizer partitions params into a decayed and a non-decayed group
// and builds the named optimizer over them. A partition that is not an exact
// disjoint cover is returned as an error wrapping nn.ErrParamPartition.
func ConfigureOptimizer(params []nn.NamedParam, cfg OptimizerConfig) (nn.Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	decay, noDecay, err := nn.SplitWeightDecay(params)
	if err != nil {
		return nil, err
	}
	groups := []nn.ParamGroup{
		{Params: decay, WeightDecay: cfg.WeightDecay},
		{Params: noDecay, WeightDecay: 0},
	}
	opt, err := nn.NewOptimizer(cfg.Name, groups, cfg.Momentum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return opt, nil
}

// ConfigureOptimizer builds the optimizer over every model parameter.
func (m *Model) ConfigureOptimizer(cfg OptimizerConfig) (nn.Optimizer, error) {
	opt, err := ConfigureOptimizer(m.NamedParameters(), cfg)
	if err != nil {
		return nil, err
	}
	m.logger.Info("configured optimizer",
		"optimizer", opt.Name(),
		"learning_rate", cfg.LearningRate,
		"weight_decay", cfg.WeightDecay,
		"decayed", len(opt.Groups()[0].Params),
		"not_decayed", len(opt.Groups()[1].Params),
	)
	return opt, nil
}
