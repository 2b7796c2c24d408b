package qubo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Efficiencies returns the column sums of the response matrix: the probability
// that a true event in bin j is observed anywhere. Columns that sum to zero
// describe truth bins the detector never sees; they are floored to 1 so the
// expected-count division stays defined. The floor is a silent approximation,
// not a statistical statement, and such bins end up with a minimal estimate.
func Efficiencies(response *mat.Dense) []float64 {
	rows, cols := response.Dims()
	effs := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += response.At(i, j)
		}
		if sum == 0 {
			sum = 1
		}
		effs[j] = sum
	}
	return effs
}

// ExpectedCounts estimates the true-bin populations as measured counts
// corrected by efficiency: expected_j = d_j / eff_j. The response must be
// square with len(measured) bins on each side.
func ExpectedCounts(response *mat.Dense, measured []float64) ([]float64, error) {
	rows, cols := response.Dims()
	if rows != cols {
		return nil, &DimensionError{Op: "expected counts: response must be square", Want: rows, Got: cols}
	}
	if len(measured) != rows {
		return nil, &DimensionError{Op: "expected counts: measured length", Want: rows, Got: len(measured)}
	}

	effs := Efficiencies(response)
	expected := make([]float64, cols)
	for j := range expected {
		e := measured[j] / effs[j]
		if e < 0 || math.IsNaN(e) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("expected counts: bin %d is not a finite non-negative count (got %v)", j, e)
		}
		expected[j] = e
	}
	return expected, nil
}

// EncodeVariables maps each expected count to a bounded integer variable.
// The upper bound leaves 20% headroom above the expectation and is rounded up
// to the next power of two minus one, so the binary expansion wastes no range:
//
//	bits_i  = ceil(log2((expected_i + 1) * 1.2))
//	upper_i = 2^bits_i - 1
//
// A zero expectation still gets one bit, so every bin can move off zero.
func EncodeVariables(expected []float64) []Variable {
	vars := make([]Variable, len(expected))
	for i, e := range expected {
		bits := BitWidth(e)
		vars[i] = Variable{
			Label: VarLabel(i),
			Upper: int64(1)<<bits - 1,
			Bits:  bits,
		}
	}
	return vars
}

// BitWidth returns the binary-expansion width used for an expected count.
// Shared by the encoder and the energy evaluator, which must re-derive the
// exact same widths from the original measured spectrum.
func BitWidth(expected float64) int {
	return int(math.Ceil(math.Log2((expected + 1) * 1.2)))
}
