package nn

import (
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// KMeans clusters the rows of data ([n][dim], flattened) into k centers with
// Lloyd's algorithm. Centers are initialized from k distinct data points
// chosen at random. A cluster that loses all of its points keeps its previous
// center. If n < k, k is reduced to n.
//
// Returns the flattened centroids ([k][dim]) and the cluster index of each row.
func KMeans(data []float32, dim, k, maxIter int, rng *rand.Rand) (centroids []float32, assignments []int, err error) {
	if dim <= 0 || len(data)%dim != 0 {
		return nil, nil, fmt.Errorf("%w: %d values are not a multiple of dim %d", ErrShapeMismatch, len(data), dim)
	}
	n := len(data) / dim
	if n == 0 || k <= 0 {
		return nil, nil, nil
	}
	if k > n {
		k = n
	}

	centroids = make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], data[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments = make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	sums := make([]float32, k*dim)
	counts := make([]int, k)

	for iter := 0; iter < maxIter; iter++ {
		next, err := assignParallel(data, centroids, dim)
		if err != nil {
			return nil, nil, err
		}

		changed := false
		for i, c := range next {
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		clear(sums)
		clear(counts)
		for i, c := range assignments {
			counts[c]++
			row := data[i*dim : (i+1)*dim]
			for d, v := range row {
				sums[c*dim+d] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			scale := 1.0 / float32(counts[c])
			for d := 0; d < dim; d++ {
				centroids[c*dim+d] = sums[c*dim+d] * scale
			}
		}
	}

	return centroids, assignments, nil
}

// assignParallel finds the nearest centroid for every row, splitting rows
// across all available CPUs.
func assignParallel(data, centroids []float32, dim int) ([]int, error) {
	n := len(data) / dim
	out := make([]int, n)

	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			idx, err := NearestRows(data[start*dim:end*dim], centroids, dim)
			if err != nil {
				return err
			}
			copy(out[start:end], idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
