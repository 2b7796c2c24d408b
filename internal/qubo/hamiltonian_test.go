package qubo

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewHamiltonian_IdentityResponseNoRegularization(t *testing.T) {
	// With R = I and lam = 0 the objective reduces to |x - d|^2 - |d|^2:
	// A = -2d and B = I.
	r := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	d := []float64{10, 20, 30}

	h, err := NewHamiltonian(r, d, 0)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}

	wantA := []float64{-20, -40, -60}
	for i, w := range wantA {
		if h.A[i] != w {
			t.Errorf("Expected A[%d]=%v. Got: %v", i, w, h.A[i])
		}
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if got := h.B.At(i, j); math.Abs(got-want) > 1e-12 {
				t.Errorf("Expected B[%d][%d]=%v. Got: %v", i, j, want, got)
			}
		}
	}
}

func TestNewHamiltonian_GeneralResponse(t *testing.T) {
	// R = [[2,1],[0,3]], d = [5,7]:
	// A = -2*R'd = [-20, -52], B = R'R = [[4,2],[2,10]].
	r := mat.NewDense(2, 2, []float64{
		2, 1,
		0, 3,
	})
	d := []float64{5, 7}

	h, err := NewHamiltonian(r, d, 0)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}

	if h.A[0] != -20 || h.A[1] != -52 {
		t.Errorf("Expected A=[-20 -52]. Got: %v", h.A)
	}

	wantB := [][]float64{{4, 2}, {2, 10}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := h.B.At(i, j); math.Abs(got-wantB[i][j]) > 1e-12 {
				t.Errorf("Expected B[%d][%d]=%v. Got: %v", i, j, wantB[i][j], got)
			}
		}
	}
}

func TestNewHamiltonian_RegularizationPenalty(t *testing.T) {
	// R = I(3), lam = 0.5. For n=3 the Laplacian squares to
	// [[2,-3,1],[-3,6,-3],[1,-3,2]], so B = I + 0.5*G'G.
	r := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	d := []float64{4, 4, 4}

	h, err := NewHamiltonian(r, d, 0.5)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}

	wantB := [][]float64{
		{2, -1.5, 0.5},
		{-1.5, 4, -1.5},
		{0.5, -1.5, 2},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if got := h.B.At(i, j); math.Abs(got-wantB[i][j]) > 1e-12 {
				t.Errorf("Expected B[%d][%d]=%v. Got: %v", i, j, wantB[i][j], got)
			}
		}
	}
}

func TestNewHamiltonian_DimensionMismatch(t *testing.T) {
	r := mat.NewDense(3, 3, nil)
	d := []float64{1, 2}

	_, err := NewHamiltonian(r, d, 0)
	if err == nil {
		t.Fatal("Expected a dimension error for measured length 2 vs 3 rows. Got: nil")
	}
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("Expected *DimensionError. Got: %T", err)
	}
}

func TestNewHamiltonian_SingleBinRejected(t *testing.T) {
	// The curvature regularizer needs at least two bins.
	r := mat.NewDense(1, 1, []float64{1})
	d := []float64{5}

	if _, err := NewHamiltonian(r, d, 0); err == nil {
		t.Error("Expected an error for a single-bin response. Got: nil")
	}
}
