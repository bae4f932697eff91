package nn

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ConvTranspose2D is the adjoint of Conv2D, used for learned upsampling.
// Kernel layout is [inChannels][outChannels][kernelH][kernelW].
type ConvTranspose2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	Weight *Param
	Bias   *Param

	input *Tensor[float32]
}

// NewConvTranspose2D initializes a transposed convolution with He-initialized
// weights and zero bias.
func NewConvTranspose2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) *ConvTranspose2D {
	weight := NewParam(ModuleConvTranspose2D, inChannels, outChannels, kernelSize, kernelSize)
	stddev := math.Sqrt(2.0 / float64(outChannels*kernelSize*kernelSize))
	for i := range weight.Data {
		weight.Data[i] = float32(rng.NormFloat64() * stddev)
	}

	return &ConvTranspose2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Weight:      weight,
		Bias:        NewParam(ModuleConvTranspose2D, outChannels),
	}
}

// OutputSize returns the spatial output size for an input of size in.
func (c *ConvTranspose2D) OutputSize(in int) int {
	return (in-1)*c.Stride - 2*c.Padding + c.KernelSize
}

func (c *ConvTranspose2D) Forward(x *Tensor[float32]) (*Tensor[float32], error) {
	batch, inC, inH, inW, err := x.Dims4()
	if err != nil {
		return nil, err
	}
	if inC != c.InChannels {
		return nil, fmt.Errorf("%w: conv_transpose2d expects %d input channels, got %d", ErrShapeMismatch, c.InChannels, inC)
	}
	outH, outW := c.OutputSize(inH), c.OutputSize(inW)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%w: conv_transpose2d output %dx%d is empty", ErrShapeMismatch, outH, outW)
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

func (c *ConvTranspose2D) forwardSample(input, output []float32, inH, inW, outH, outW int) {
	k := c.KernelSize
	kernel := c.Weight.Data
	for oc := 0; oc < c.OutChannels; oc++ {
		plane := output[oc*outH*outW : (oc+1)*outH*outW]
		for i := range plane {
			plane[i] = c.Bias.Data[oc]
		}
	}
	for ic := 0; ic < c.InChannels; ic++ {
		for ih := 0; ih < inH; ih++ {
			for iw := 0; iw < inW; iw++ {
				v := input[ic*inH*inW+ih*inW+iw]
				if v == 0 {
					continue
				}
				for oc := 0; oc < c.OutChannels; oc++ {
					for kh := 0; kh < k; kh++ {
						oh := ih*c.Stride + kh - c.Padding
						if oh < 0 || oh >= outH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							ow := iw*c.Stride + kw - c.Padding
							if ow < 0 || ow >= outW {
								continue
							}
							output[oc*outH*outW+oh*outW+ow] += v * kernel[((ic*c.OutChannels+oc)*k+kh)*k+kw]
						}
					}
				}
			}
		}
	}
}

func (c *ConvTranspose2D) Backward(grad *Tensor[float32]) (*Tensor[float32], error) {
	if c.input == nil {
		return nil, fmt.Errorf("conv_transpose2d: backward called before forward")
	}
	batch, inC, inH, inW, _ := c.input.Dims4()
	outH, outW := c.OutputSize(inH), c.OutputSize(inW)
	if gb, gc, gh, gw, err := grad.Dims4(); err != nil || gb != batch || gc != c.OutChannels || gh != outH || gw != outW {
		return nil, fmt.Errorf("%w: conv_transpose2d grad shape %v, want [%d %d %d %d]", ErrShapeMismatch, grad.Shape, batch, c.OutChannels, outH, outW)
	}

	gradInput := NewTensor[float32](batch, inC, inH, inW)
	inSize := inC * inH * inW
	outSize := c.OutChannels * outH * outW
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

func (c *ConvTranspose2D) backwardSample(gradOut, input, gradIn, gradKernel, gradBias []float32, inH, inW, outH, outW int) {
	k := c.KernelSize
	kernel := c.Weight.Data
	for oc := 0; oc < c.OutChannels; oc++ {
		for _, g := range gradOut[oc*outH*outW : (oc+1)*outH*outW] {
			gradBias[oc] += g
		}
	}
	for ic := 0; ic < c.InChannels; ic++ {
		for ih := 0; ih < inH; ih++ {
			for iw := 0; iw < inW; iw++ {
				inputIdx := ic*inH*inW + ih*inW + iw
				v := input[inputIdx]
				var acc float32
				for oc := 0; oc < c.OutChannels; oc++ {
					for kh := 0; kh < k; kh++ {
						oh := ih*c.Stride + kh - c.Padding
						if oh < 0 || oh >= outH {
							continue
						}
						for kw := 0; kw < k; kw++ {
							ow := iw*c.Stride + kw - c.Padding
							if ow < 0 || ow >= outW {
								continue
							}
							g := gradOut[oc*outH*outW+oh*outW+ow]
							kernelIdx := ((ic*c.OutChannels+oc)*k+kh)*k + kw
							acc += g * kernel[kernelIdx]
							gradKernel[kernelIdx] += g * v
						}
					}
				}
				gradIn[inputIdx] = acc
			}
		}
	}
}

func (c *ConvTranspose2D) NamedParameters(prefix string) []NamedParam {
	return []NamedParam{
		{Name: JoinName(prefix, "weight"), Param: c.Weight},
		{Name: JoinName(prefix, "bias"), Param: c.Bias},
	}
}
