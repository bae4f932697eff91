package vqvae

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/openfluke/vqvae/nn"
)

// Loader yields a fixed number of batches per epoch.
type Loader interface {
	Len() int
	Batch(i int) (Batch, error)
}

// SyntheticLoader produces deterministic images of smooth colour waves,
// centred around zero like normalized CIFAR-10 pixels. The label is the
// index of the wave family.
type SyntheticLoader struct {
	NumBatches int
	BatchSize  int
	Channels   int
	Height     int
	Width      int
	Seed       int64
}

// NewSyntheticLoader returns a loader of numBatches batches of
// [batchSize, channels, height, width] images.
func NewSyntheticLoader(numBatches, batchSize, channels, height, width int, seed int64) *SyntheticLoader {
	return &SyntheticLoader{
		NumBatches: numBatches,
		BatchSize:  batchSize,
		Channels:   channels,
		Height:     height,
		Width:      width,
		Seed:       seed,
	}
}

const syntheticClasses = 10

func (l *SyntheticLoader) Len() int { return l.NumBatches }

func (l *SyntheticLoader) Batch(i int) (Batch, error) {
	if i < 0 || i >= l.NumBatches {
		return Batch{}, fmt.Errorf("batch %d out of range [0, %d)", i, l.NumBatches)
	}
	rng := rand.New(rand.NewSource(l.Seed + int64(i)))

	images := nn.NewTensor[float32](l.BatchSize, l.Channels, l.Height, l.Width)
	labels := make([]int, l.BatchSize)
	plane := l.Height * l.Width

	for n := 0; n < l.BatchSize; n++ {
		label := rng.Intn(syntheticClasses)
		labels[n] = label

		fx := float64(label%5+1) * math.Pi / float64(l.Width)
		fy := float64(label/5+1) * math.Pi / float64(l.Height)
		phase := rng.Float64() * 2 * math.Pi

		for c := 0; c < l.Channels; c++ {
			shift := phase + float64(c)*2*math.Pi/3
			img := images.Data[(n*l.Channels+c)*plane : (n*l.Channels+c+1)*plane]
			for y := 0; y < l.Height; y++ {
				for x := 0; x < l.Width; x++ {
					v := 0.5 * math.Sin(fx*float64(x)+shift) * math.Cos(fy*float64(y)-shift)
					img[y*l.Width+x] = float32(v + 0.02*rng.NormFloat64())
				}
			}
		}
	}
	return Batch{Images: images, Labels: labels}, nil
}
