package vqvae

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/openfluke/vqvae/nn"
)

// TrainerConfig holds configuration for training.
type TrainerConfig struct {
	Epochs        int             `yaml:"epochs"`
	LogEvery      int             `yaml:"log_every"`      // log every N steps (0 = epoch summary only)
	ValidateEvery int             `yaml:"validate_every"` // validate every N epochs (0 = never)
	Optimizer     OptimizerConfig `yaml:"optimizer"`
}

// DefaultTrainerConfig returns the defaults used by the CLI.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:        1,
		LogEvery:      10,
		ValidateEvery: 1,
		Optimizer:     DefaultOptimizerConfig(),
	}
}

// TrainingResult contains training statistics.
type TrainingResult struct {
	Steps       int
	FinalLoss   float64
	BestLoss    float64
	TotalTime   time.Duration
	LossHistory []float64 // mean training loss per epoch

	// Validation is the last validation result, if any ran.
	Validation *ValidationMetrics
}

type trainerOptions struct {
	sink   MetricSink
	logger *Logger
}

// TrainerOption configures a Trainer.
type TrainerOption func(*trainerOptions)

// WithSink sets the destination for scalar metrics. If nil is passed,
// metrics are discarded.
func WithSink(s MetricSink) TrainerOption {
	return func(o *trainerOptions) {
		if s == nil {
			s = nopSink{}
		}
		o.sink = s
	}
}

// WithLogger sets the logger. If nil is passed, logs are discarded.
func WithLogger(l *Logger) TrainerOption {
	return func(o *trainerOptions) {
		o.logger = orNoop(l)
	}
}

// Trainer drives the optimization loop: zero gradients, run a training step,
// apply the optimizer.
type Trainer struct {
	model  *Model
	opt    nn.Optimizer
	cfg    TrainerConfig
	sink   MetricSink
	logger *Logger

	step int
}

// NewTrainer configures the optimizer for model. It fails if the weight
// decay partition of the model parameters is not a disjoint cover.
func NewTrainer(model *Model, cfg TrainerConfig, opts ...TrainerOption) (*Trainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, cfg.Epochs)
	}
	o := trainerOptions{sink: nopSink{}, logger: NoopLogger()}
	for _, fn := range opts {
		fn(&o)
	}

	opt, err := model.ConfigureOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		model:  model,
		opt:    opt,
		cfg:    cfg,
		sink:   o.sink,
		logger: o.logger.WithComponent("trainer"),
	}, nil
}

// Optimizer returns the configured optimizer.
func (t *Trainer) Optimizer() nn.Optimizer { return t.opt }

// Fit trains for the configured number of epochs. val may be nil. The
// context is checked between batches.
func (t *Trainer) Fit(ctx context.Context, train, val Loader) (*TrainingResult, error) {
	result := &TrainingResult{
		BestLoss:    math.MaxFloat64,
		LossHistory: make([]float64, 0, t.cfg.Epochs),
	}
	start := time.Now()
	lr := t.cfg.Optimizer.LearningRate

	t.logger.InfoContext(ctx, "starting training",
		"epochs", t.cfg.Epochs,
		"batches_per_epoch", train.Len(),
		"optimizer", t.opt.Name(),
		"parameters", nn.CountParams(t.model.NamedParameters()),
	)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		t.model.SetTraining(true)
		var total float64

		for i := 0; i < train.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			batch, err := train.Batch(i)
			if err != nil {
				return result, fmt.Errorf("load batch %d: %w", i, err)
			}

			t.opt.ZeroGrad()
			res, err := t.model.TrainingStep(batch)
			if err != nil {
				return result, fmt.Errorf("epoch %d step %d: %w", epoch, t.step, err)
			}
			t.opt.Step(lr)

			t.step++
			total += float64(res.Loss)
			t.sink.Log(ctx, MetricTrainLoss, t.step, float64(res.Loss))
			t.sink.Log(ctx, MetricTrainReconLoss, t.step, float64(res.ReconLoss))
			t.sink.Log(ctx, MetricTrainLatentLoss, t.step, float64(res.LatentLoss))
			if t.cfg.LogEvery > 0 && t.step%t.cfg.LogEvery == 0 {
				t.logger.LogStep(ctx, epoch, t.step, res)
			}
		}

		epochLoss := total / float64(max(train.Len(), 1))
		result.LossHistory = append(result.LossHistory, epochLoss)
		result.FinalLoss = epochLoss
		result.BestLoss = min(result.BestLoss, epochLoss)
		t.logger.InfoContext(ctx, "epoch complete", "epoch", epoch, "loss", epochLoss)

		if val != nil && t.cfg.ValidateEvery > 0 && (epoch+1)%t.cfg.ValidateEvery == 0 {
			m, err := t.Validate(ctx, val)
			if err != nil {
				return result, err
			}
			t.logger.LogValidation(ctx, epoch, m)
			result.Validation = &m
		}
	}

	result.Steps = t.step
	result.TotalTime = time.Since(start)
	return result, nil
}

// Validate averages validation metrics over every batch of val and emits
// them to the sink.
func (t *Trainer) Validate(ctx context.Context, val Loader) (ValidationMetrics, error) {
	per := make([]ValidationMetrics, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return ValidationMetrics{}, err
		}
		batch, err := val.Batch(i)
		if err != nil {
			return ValidationMetrics{}, fmt.Errorf("load validation batch %d: %w", i, err)
		}
		m, err := t.model.ValidationStep(batch)
		if err != nil {
			return ValidationMetrics{}, fmt.Errorf("validation batch %d: %w", i, err)
		}
		per = append(per, m)
	}

	m := mean(per)
	t.sink.Log(ctx, MetricValLoss, t.step, float64(m.Loss))
	t.sink.Log(ctx, MetricValPerplexity, t.step, m.Perplexity)
	t.sink.Log(ctx, MetricValClusterUse, t.step, float64(m.ClusterUse))
	t.sink.Log(ctx, MetricValReconError, t.step, m.ReconError)
	return m, nil
}
