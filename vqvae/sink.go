package vqvae

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names emitted by the Trainer.
const (
	MetricTrainLoss       = "train_loss"
	MetricTrainReconLoss  = "train_recon_loss"
	MetricTrainLatentLoss = "train_latent_loss"
	MetricValLoss         = "val_loss"
	MetricValPerplexity   = "val_perplexity"
	MetricValClusterUse   = "val_cluster_use"
	MetricValReconError   = "val_recon_error"
)

// MetricSink accepts named scalar metrics.
type MetricSink interface {
	Log(ctx context.Context, name string, step int, value float64)
}

type nopSink struct{}

func (nopSink) Log(context.Context, string, int, float64) {}

// PrometheusSink exposes the latest value of every metric as a gauge labelled
// by metric name, plus the step at which it was recorded.
type PrometheusSink struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	steps    *prometheus.GaugeVec
}

// NewPrometheusSink registers its collectors on a private registry.
func NewPrometheusSink(namespace string) *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metric_value",
				Help:      "Latest value of a training or validation metric",
			},
			[]string{"name"},
		),
		steps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metric_step",
				Help:      "Global step at which a metric was last recorded",
			},
			[]string{"name"},
		),
	}
	s.registry.MustRegister(s.values, s.steps)
	return s
}

func (s *PrometheusSink) Log(_ context.Context, name string, step int, value float64) {
	s.values.WithLabelValues(name).Set(value)
	s.steps.WithLabelValues(name).Set(float64(step))
}

// Registry returns the registry to serve or gather from.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// Value returns the gauge holding the latest value of name.
func (s *PrometheusSink) Value(name string) prometheus.Gauge {
	return s.values.WithLabelValues(name)
}

// LogSink writes every metric as a debug record.
type LogSink struct {
	logger *Logger
}

func NewLogSink(logger *Logger) *LogSink {
	return &LogSink{logger: orNoop(logger)}
}

func (s *LogSink) Log(ctx context.Context, name string, step int, value float64) {
	s.logger.DebugContext(ctx, "metric", "name", name, "step", step, "value", value)
}

// MultiSink fans every metric out to each sink in order.
type MultiSink []MetricSink

func (m MultiSink) Log(ctx context.Context, name string, step int, value float64) {
	for _, s := range m {
		s.Log(ctx, name, step, value)
	}
}
