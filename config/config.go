// Package config loads training configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/vqvae/vqvae"
)

// Config is the full configuration of a training run.
type Config struct {
	Model     vqvae.Config          `yaml:"model"`
	Optimizer vqvae.OptimizerConfig `yaml:"optimizer"`
	Train     TrainConfig           `yaml:"train"`
	Data      DataConfig            `yaml:"data"`
	Log       LogConfig             `yaml:"log"`
}

// TrainConfig controls the training loop.
type TrainConfig struct {
	Epochs        int `yaml:"epochs"`
	LogEvery      int `yaml:"log_every"`
	ValidateEvery int `yaml:"validate_every"`
}

// DataConfig describes the synthetic image source.
type DataConfig struct {
	TrainBatches int   `yaml:"train_batches"`
	ValBatches   int   `yaml:"val_batches"`
	BatchSize    int   `yaml:"batch_size"`
	Height       int   `yaml:"height"`
	Width        int   `yaml:"width"`
	Seed         int64 `yaml:"seed"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a configuration that trains the CIFAR-10 sized model on
// 32x32 synthetic images.
func Default() Config {
	trainer := vqvae.DefaultTrainerConfig()
	return Config{
		Model:     vqvae.DefaultConfig(),
		Optimizer: vqvae.DefaultOptimizerConfig(),
		Train: TrainConfig{
			Epochs:        trainer.Epochs,
			LogEvery:      trainer.LogEvery,
			ValidateEvery: trainer.ValidateEvery,
		},
		Data: DataConfig{
			TrainBatches: 8,
			ValBatches:   2,
			BatchSize:    8,
			Height:       32,
			Width:        32,
			Seed:         1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path and applies it on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("%w: train.epochs must be positive, got %d", vqvae.ErrInvalidConfig, c.Train.Epochs)
	}
	d := c.Data
	if d.TrainBatches <= 0 || d.BatchSize <= 0 {
		return fmt.Errorf("%w: data.train_batches and data.batch_size must be positive", vqvae.ErrInvalidConfig)
	}
	if d.Height <= 0 || d.Width <= 0 || d.Height%4 != 0 || d.Width%4 != 0 {
		return fmt.Errorf("%w: data size %dx%d must be positive multiples of 4", vqvae.ErrInvalidConfig, d.Height, d.Width)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", vqvae.ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Trainer assembles the trainer configuration.
func (c Config) Trainer() vqvae.TrainerConfig {
	return vqvae.TrainerConfig{
		Epochs:        c.Train.Epochs,
		LogEvery:      c.Train.LogEvery,
		ValidateEvery: c.Train.ValidateEvery,
		Optimizer:     c.Optimizer,
	}
}

// TrainLoader and ValLoader build the synthetic data sources. Validation
// batches use a disjoint seed range.
func (c Config) TrainLoader() *vqvae.SyntheticLoader {
	d := c.Data
	return vqvae.NewSyntheticLoader(d.TrainBatches, d.BatchSize, c.Model.InChannels, d.Height, d.Width, d.Seed)
}

func (c Config) ValLoader() *vqvae.SyntheticLoader {
	d := c.Data
	return vqvae.NewSyntheticLoader(d.ValBatches, d.BatchSize, c.Model.InChannels, d.Height, d.Width, d.Seed+int64(d.TrainBatches))
}

// Logger builds a logger writing to w.
func (l LogConfig) Logger(w io.Writer) (*vqvae.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return vqvae.NewLogger(slog.NewJSONHandler(w, opts)), nil
	}
	return vqvae.NewLogger(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("%w: log.level: %v", vqvae.ErrInvalidConfig, err)
	}
	return level, nil
}
