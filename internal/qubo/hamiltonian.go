package qubo

import (
	"gonum.org/v1/gonum/mat"
)

// Hamiltonian holds the quadratic objective over the integer bin variables:
//
//	H(x) = sum_i A_i*x_i + sum_ij B_ij*x_i*x_j
//
// with A = -2*R'd and B = R'R + lam*G'G. Up to the constant |d|^2 this equals
// the regularized least squares |Rx - d|^2 + lam*|Gx|^2, so minimizing H
// recovers the unfolded spectrum.
type Hamiltonian struct {
	A []float64
	B *mat.Dense
}

// NewHamiltonian builds the objective coefficients from the response matrix,
// the measured spectrum and the regularization strength. The Laplacian is
// derived from the variable count. Shape mismatches fail here, before any
// compilation or solver work happens.
func NewHamiltonian(response *mat.Dense, measured []float64, lam float64) (*Hamiltonian, error) {
	rows, cols := response.Dims()
	if len(measured) != rows {
		return nil, &DimensionError{Op: "hamiltonian: measured length vs response rows", Want: rows, Got: len(measured)}
	}

	g, err := Laplacian(cols)
	if err != nil {
		return nil, err
	}

	// A = -2 * R^T d
	d := mat.NewVecDense(rows, measured)
	var rtd mat.VecDense
	rtd.MulVec(response.T(), d)
	a := make([]float64, cols)
	for i := range a {
		a[i] = -2 * rtd.AtVec(i)
	}

	// B = R^T R + lam * G^T G
	var rtr, gtg, penalty, b mat.Dense
	rtr.Mul(response.T(), response)
	gtg.Mul(g.T(), g)
	penalty.Scale(lam, &gtg)
	b.Add(&rtr, &penalty)

	return &Hamiltonian{A: a, B: &b}, nil
}
