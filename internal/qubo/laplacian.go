package qubo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Laplacian builds the discrete second-derivative penalty matrix G for n bins:
//
//	diag    = [-1, -2, ..., -2, -1]
//	offdiag = +1
//
// G is symmetric and every row sums to zero, so the penalty x'G'Gx scores the
// roughness of a spectrum without shifting its normalization. Needs n >= 2.
func Laplacian(n int) (*mat.Dense, error) {
	if n < 2 {
		return nil, fmt.Errorf("laplacian: need at least 2 bins, got %d", n)
	}

	g := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		if i == 0 || i == n-1 {
			g.Set(i, i, -1)
		} else {
			g.Set(i, i, -2)
		}
		if i+1 < n {
			g.Set(i, i+1, 1)
			g.Set(i+1, i, 1)
		}
	}
	return g, nil
}
