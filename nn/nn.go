// Package nn provides a small CPU neural network toolkit with explicit
// forward and backward passes.
//
// Layers operate on [batch][channels][height][width] tensors stored flat in
// row-major order. Each layer caches what its backward pass needs during
// Forward; Backward returns the gradient with respect to its input and
// accumulates parameter gradients into Param.Grad, which optimizers consume.
//
// Available building blocks:
//   - Conv2D, ConvTranspose2D: convolution and learned upsampling
//   - ReLU, ResBlock, Sequential: activation, residual unit, composition
//   - Embedding: row lookup table with scatter-add gradients
//   - KMeans, PairwiseSquaredL2: clustering and distance helpers
//   - Softmax, GumbelSoftmax: categorical relaxations
//   - SGD, AdamW, RMSprop: optimizers over named parameter groups
//
// Example usage:
//
//	rng := rand.New(rand.NewSource(1))
//	net := nn.NewSequential(
//		nn.NewConv2D(3, 16, 4, 2, 1, rng),
//		nn.NewReLU(),
//	)
//	out, _ := net.Forward(x)
//	gradX, _ := net.Backward(gradOut)
package nn
