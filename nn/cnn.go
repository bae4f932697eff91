package nn

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Conv2D is a 2D convolution over [batch][inChannels][height][width] input.
// Kernel layout is [filters][inChannels][kernelH][kernelW].
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	Weight *Param
	Bias   *Param

	input *Tensor[float32]
}

// NewConv2D initializes a Conv2D layer with He-initialized weights and zero bias.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) *Conv2D {
	weight := NewParam(ModuleConv2D, outChannels, inChannels, kernelSize, kernelSize)
	stddev := math.Sqrt(2.0 / float64(inChannels*kernelSize*kernelSize))
	for i := range weight.Data {
		weight.Data[i] = float32(rng.NormFloat64() * stddev)
	}

	return &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Weight:      weight,
		Bias:        NewParam(ModuleConv2D, outChannels),
	}
}

// OutputSize returns the spatial output size for an input of size in.
func (c *Conv2D) OutputSize(in int) int {
	return (in+2*c.Padding-c.KernelSize)/c.Stride + 1
}

func (c *Conv2D) Forward(x *Tensor[float32]) (*Tensor[float32], error) {
	batch, inC, inH, inW, err := x.Dims4()
	if err != nil {
		return nil, err
	}
	if inC != c.InChannels {
		return nil, fmt.Errorf("%w: conv2d expects %d input channels, got %d", ErrShapeMismatch, c.InChannels, inC)
	}
	outH, outW := c.OutputSize(inH), c.OutputSize(inW)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%w: conv2d input %dx%d too small for kernel %d", ErrShapeMismatch, inH, inW, c.KernelSize)
	}

	out := NewTensor[float32](batch, c.OutChannels, outH, outW)
	inSize := inC * inH * inW
	outSize := c.OutChannels * outH * outW

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b := 0; b < batch; b++ {
		g.Go(func() error {
			c.forwardSample(x.Data[b*inSize:(b+1)*inSize], out.Data[b*outSize:(b+1)*outSize], inH, inW, outH, outW)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.input = x
	return out, nil
}

func (c *Conv2D) forwardSample(input, output []float32, inH, inW, outH, outW int) {
	k := c.KernelSize
	kernel := c.Weight.Data
	for f := 0; f < c.OutChannels; f++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				sum := c.Bias.Data[f]
				for ic := 0; ic < c.InChannels; ic++ {
					for kh := 0; kh < k; kh++ {
						ih := oh*c.Stride + kh - c.Padding
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							iw := ow*c.Stride + kw - c.Padding
							if iw < 0 || iw >= inW {
								continue
							}
							sum += input[ic*inH*inW+ih*inW+iw] * kernel[((f*c.InChannels+ic)*k+kh)*k+kw]
						}
					}
				}
				output[f*outH*outW+oh*outW+ow] = sum
			}
		}
	}
}

func (c *Conv2D) Backward(grad *Tensor[float32]) (*Tensor[float32], error) {
	if c.input == nil {
		return nil, fmt.Errorf("conv2d: backward called before forward")
	}
	batch, inC, inH, inW, _ := c.input.Dims4()
	outH, outW := c.OutputSize(inH), c.OutputSize(inW)
	if gb, gc, gh, gw, err := grad.Dims4(); err != nil || gb != batch || gc != c.OutChannels || gh != outH || gw != outW {
		return nil, fmt.Errorf("%w: conv2d grad shape %v, want [%d %d %d %d]", ErrShapeMismatch, grad.Shape, batch, c.OutChannels, outH, outW)
	}

	gradInput := NewTensor[float32](batch, inC, inH, inW)
	inSize := inC * inH * inW
	outSize := c.OutChannels * outH * outW

	// Per-sample weight gradients are reduced in batch order afterwards so
	// results do not depend on goroutine scheduling.
	kernelGrads := make([][]float32, batch)
	biasGrads := make([][]float32, batch)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b := 0; b < batch; b++ {
		g.Go(func() error {
			kernelGrads[b] = make([]float32, len(c.Weight.Data))
			biasGrads[b] = make([]float32, c.OutChannels)
			c.backwardSample(
				grad.Data[b*outSize:(b+1)*outSize],
				c.input.Data[b*inSize:(b+1)*inSize],
				gradInput.Data[b*inSize:(b+1)*inSize],
				kernelGrads[b], biasGrads[b],
				inH, inW, outH, outW,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for b := 0; b < batch; b++ {
		for i, v := range kernelGrads[b] {
			c.Weight.Grad[i] += v
		}
		for i, v := range biasGrads[b] {
			c.Bias.Grad[i] += v
		}
	}

	return gradInput, nil
}

func (c *Conv2D) backwardSample(gradOut, input, gradIn, gradKernel, gradBias []float32, inH, inW, outH, outW int) {
	k := c.KernelSize
	kernel := c.Weight.Data
	for f := 0; f < c.OutChannels; f++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				g := gradOut[f*outH*outW+oh*outW+ow]
				gradBias[f] += g
				if g == 0 {
					continue
				}
				for ic := 0; ic < c.InChannels; ic++ {
					for kh := 0; kh < k; kh++ {
						ih := oh*c.Stride + kh - c.Padding
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							iw := ow*c.Stride + kw - c.Padding
							if iw < 0 || iw >= inW {
								continue
							}
							inputIdx := ic*inH*inW + ih*inW + iw
							kernelIdx := ((f*c.InChannels+ic)*k+kh)*k + kw
							gradIn[inputIdx] += g * kernel[kernelIdx]
							gradKernel[kernelIdx] += g * input[inputIdx]
						}
					}
				}
			}
		}
	}
}

func (c *Conv2D) NamedParameters(prefix string) []NamedParam {
	return []NamedParam{
		{Name: JoinName(prefix, "weight"), Param: c.Weight},
		{Name: JoinName(prefix, "bias"), Param: c.Bias},
	}
}
