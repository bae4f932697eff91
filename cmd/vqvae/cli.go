package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/openfluke/vqvae/config"
	"github.com/openfluke/vqvae/nn"
	"github.com/openfluke/vqvae/vqvae"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	if cmd.Flags().Changed("flavor") {
		s, _ := cmd.Flags().GetString("flavor")
		flavor, err := vqvae.ParseFlavor(s)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Model.Flavor = flavor
	}
	if cmd.Flags().Changed("epochs") {
		cfg.Train.Epochs, _ = cmd.Flags().GetInt("epochs")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Model.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	return cfg, cfg.Validate()
}

func TrainHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	model, err := vqvae.New(cfg.Model, logger)
	if err != nil {
		return err
	}

	promSink := vqvae.NewPrometheusSink("vqvae")
	sink := vqvae.MultiSink{promSink, vqvae.NewLogSink(logger)}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(promSink.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("serving metrics", "addr", addr)
	}

	trainer, err := vqvae.NewTrainer(model, cfg.Trainer(), vqvae.WithSink(sink), vqvae.WithLogger(logger))
	if err != nil {
		return err
	}

	var val vqvae.Loader
	if cfg.Data.ValBatches > 0 {
		val = cfg.ValLoader()
	}
	result, err := trainer.Fit(cmd.Context(), cfg.TrainLoader(), val)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "steps:       %d\n", result.Steps)
	fmt.Fprintf(out, "final loss:  %.6f\n", result.FinalLoss)
	fmt.Fprintf(out, "best loss:   %.6f\n", result.BestLoss)
	fmt.Fprintf(out, "time:        %s\n", result.TotalTime.Round(time.Millisecond))
	if v := result.Validation; v != nil {
		fmt.Fprintf(out, "perplexity:  %.2f\n", v.Perplexity)
		fmt.Fprintf(out, "cluster use: %d/%d\n", v.ClusterUse, cfg.Model.NumEmbeddings)
		fmt.Fprintf(out, "recon error: %.6f\n", v.ReconError)
	}
	return nil
}

func InspectHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	model, err := vqvae.New(cfg.Model, nil)
	if err != nil {
		return err
	}
	decay, noDecay, err := nn.SplitWeightDecay(model.NamedParameters())
	if err != nil {
		return err
	}
	return printPartition(cmd.OutOrStdout(), decay, noDecay, cfg.Optimizer.WeightDecay)
}

func printPartition(w io.Writer, decay, noDecay []nn.NamedParam, weightDecay float32) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSHAPE\tWEIGHT DECAY")
	for _, p := range decay {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%g\n", p.Name, p.Kind, p.Shape, weightDecay)
	}
	for _, p := range noDecay {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%g\n", p.Name, p.Kind, p.Shape, 0.0)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	total := nn.CountParams(decay) + nn.CountParams(noDecay)
	_, err := fmt.Fprintf(w, "\n%d tensors, %d parameters (%d decayed, %d not decayed)\n",
		len(decay)+len(noDecay), total, len(decay), len(noDecay))
	return err
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vqvae",
		Short: "Train and inspect VQ-VAE image models",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("flavor", "", "Quantizer: vqvae (nearest neighbor) or gumbel")
	rootCmd.PersistentFlags().Int64("seed", 0, "Model initialization seed")

	cobra.EnableCommandSorting = false

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train on synthetic images",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}
	trainCmd.Flags().Int("epochs", 0, "Number of epochs")
	trainCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during training")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print model parameters and their weight decay group",
		Args:  cobra.NoArgs,
		RunE:  InspectHandler,
	}

	rootCmd.AddCommand(trainCmd, inspectCmd)
	return rootCmd
}
