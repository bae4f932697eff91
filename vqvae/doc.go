// Package vqvae implements a vector-quantized variational autoencoder for
// small images.
//
// An encoder downsamples [B, 3, H, W] images by 4 into a feature grid, a
// Quantizer snaps every feature vector onto a learned codebook, and a decoder
// reconstructs the image from the quantized grid. Two quantizers are
// available:
//
//   - FlavorNearest picks the nearest codebook entry and passes gradients
//     straight through the selection. Its codebook is seeded by k-means on
//     the first training batch.
//   - FlavorGumbel mixes codebook entries with a Gumbel-softmax sample and
//     regularizes the logits toward a uniform prior.
//
// Typical use:
//
//	model, err := vqvae.New(vqvae.DefaultConfig(), logger)
//	trainer, err := vqvae.NewTrainer(model, vqvae.DefaultTrainerConfig())
//	result, err := trainer.Fit(ctx, trainLoader, valLoader)
package vqvae
