package metrics

import (
	"fmt"
	"math"
)

// ChiSquare computes the Pearson chi-square distance between an observed
// histogram and an expected one.
//
//	χ² = Σ_i (observed_i - expected_i)² / expected_i
//
// Bins with non-positive expectation carry no statistical weight and are
// skipped. Used to score unfolded spectra against a reference truth.
func ChiSquare(observed, expected []float64) (float64, error) {
	if len(observed) != len(expected) {
		return 0, fmt.Errorf("chi2: histogram lengths differ (%d vs %d)", len(observed), len(expected))
	}

	var chi2 float64
	for i, e := range expected {
		if e <= 0 {
			continue
		}
		diff := observed[i] - e
		chi2 += diff * diff / e
	}
	return chi2, nil
}

// ReducedChiSquare is ChiSquare divided by the number of contributing bins,
// a scale-free agreement score: values near 1 mean fluctuation-compatible.
func ReducedChiSquare(observed, expected []float64) (float64, error) {
	chi2, err := ChiSquare(observed, expected)
	if err != nil {
		return 0, err
	}

	dof := 0
	for _, e := range expected {
		if e > 0 {
			dof++
		}
	}
	if dof == 0 {
		return 0, nil
	}
	return chi2 / float64(dof), nil
}

// MaxAbsDiff returns the largest per-bin absolute difference between two
// histograms. Used to quantify backend divergence bin by bin.
func MaxAbsDiff(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("maxdiff: histogram lengths differ (%d vs %d)", len(a), len(b))
	}

	var max float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max, nil
}
