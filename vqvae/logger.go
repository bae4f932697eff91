package vqvae

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vqvae-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithComponent tags every record with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogSeeding records the one-time data-driven codebook initialization.
func (l *Logger) LogSeeding(samples, available, numEmbeddings int) {
	l.Info("running k-means codebook seeding",
		"samples", samples,
		"available", available,
		"num_embeddings", numEmbeddings,
	)
}

// LogStep records a training step.
func (l *Logger) LogStep(ctx context.Context, epoch, step int, res StepResult) {
	l.InfoContext(ctx, "train step",
		"epoch", epoch,
		"step", step,
		"loss", res.Loss,
		"recon_loss", res.ReconLoss,
		"latent_loss", res.LatentLoss,
	)
}

// LogValidation records aggregated validation diagnostics.
func (l *Logger) LogValidation(ctx context.Context, epoch int, m ValidationMetrics) {
	l.InfoContext(ctx, "validation",
		"epoch", epoch,
		"loss", m.Loss,
		"perplexity", m.Perplexity,
		"cluster_use", m.ClusterUse,
		"recon_error", m.ReconError,
	)
}

func orNoop(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}
