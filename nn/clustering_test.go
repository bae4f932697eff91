package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKMeansRecoversClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	centers := [][]float32{{0, 0}, {10, 10}}

	var data []float32
	for i := 0; i < 200; i++ {
		c := centers[i%2]
		data = append(data, c[0]+float32(rng.NormFloat64()*0.3), c[1]+float32(rng.NormFloat64()*0.3))
	}

	centroids, assignments, err := KMeans(data, 2, 2, 20, rng)
	require.NoError(t, err)
	require.Len(t, centroids, 4)
	require.Len(t, assignments, 200)

	// Points generated from the same center share a cluster.
	for i := 2; i < 200; i++ {
		assert.Equal(t, assignments[i%2], assignments[i], "point %d", i)
	}
	assert.NotEqual(t, assignments[0], assignments[1])

	for _, c := range centers {
		idx, err := NearestRows(c, centroids, 2)
		require.NoError(t, err)
		got := centroids[idx[0]*2 : idx[0]*2+2]
		assert.InDelta(t, c[0], got[0], 0.2)
		assert.InDelta(t, c[1], got[1], 0.2)
	}
}

func TestKMeansClampsK(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	centroids, assignments, err := KMeans([]float32{1, 1, 2, 2}, 2, 8, 10, rng)
	require.NoError(t, err)
	assert.Len(t, centroids, 4)
	assert.Len(t, assignments, 2)
}

func TestKMeansRejectsRaggedInput(t *testing.T) {
	_, _, err := KMeans([]float32{1, 2, 3}, 2, 1, 10, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPairwiseSquaredL2MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	const n, k, dim = 17, 5, 4
	a := randomTensor(rng, n, dim).Data
	b := randomTensor(rng, k, dim).Data

	d, err := PairwiseSquaredL2(a, b, dim)
	require.NoError(t, err)
	rows, cols := d.Dims()
	require.Equal(t, n, rows)
	require.Equal(t, k, cols)

	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			var want float64
			for x := 0; x < dim; x++ {
				diff := float64(a[i*dim+x]) - float64(b[j*dim+x])
				want += diff * diff
			}
			assert.InDelta(t, want, d.At(i, j), 1e-9)
		}
	}
}

func TestNearestRowsTiesPickLowestIndex(t *testing.T) {
	centers := []float32{
		1, 0,
		-1, 0,
		1, 0,
	}
	idx, err := NearestRows([]float32{0, 0, 1, 0}, centers, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, idx)
}
