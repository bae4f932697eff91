package nn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PairwiseSquaredL2 returns the n×k matrix of squared Euclidean distances
// between the rows of a ([n][dim]) and b ([k][dim]), using the expansion
// ‖a−b‖² = ‖a‖² − 2a·b + ‖b‖² so pairwise differences are never materialized.
func PairwiseSquaredL2(a []float32, b []float32, dim int) (*mat.Dense, error) {
	if dim <= 0 || len(a) == 0 || len(b) == 0 || len(a)%dim != 0 || len(b)%dim != 0 {
		return nil, fmt.Errorf("%w: cannot compute distances between %d and %d values of dim %d", ErrShapeMismatch, len(a), len(b), dim)
	}
	n, k := len(a)/dim, len(b)/dim

	am := mat.NewDense(n, dim, toFloat64(a))
	bm := mat.NewDense(k, dim, toFloat64(b))

	aNorm := make([]float64, n)
	for i := range aNorm {
		row := am.RawRowView(i)
		aNorm[i] = floats.Dot(row, row)
	}
	bNorm := make([]float64, k)
	for j := range bNorm {
		row := bm.RawRowView(j)
		bNorm[j] = floats.Dot(row, row)
	}

	var dist mat.Dense
	dist.Mul(am, bm.T())
	for i := 0; i < n; i++ {
		row := dist.RawRowView(i)
		for j := range row {
			row[j] = aNorm[i] - 2*row[j] + bNorm[j]
		}
	}
	return &dist, nil
}

// ArgminRows returns, for every row of d, the column holding the smallest
// value. Ties resolve to the lowest column index.
func ArgminRows(d *mat.Dense) []int {
	rows, _ := d.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = floats.MinIdx(d.RawRowView(i))
	}
	return out
}

// NearestRows returns the index of the closest row of centers for each row of points.
func NearestRows(points, centers []float32, dim int) ([]int, error) {
	d, err := PairwiseSquaredL2(points, centers, dim)
	if err != nil {
		return nil, err
	}
	return ArgminRows(d), nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
