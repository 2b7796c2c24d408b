package unfold

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

// passthroughSolve pretends the solver is perfect on an identity response:
// the unfolded solution is exactly the (resampled) measured spectrum.
func passthroughSolve(ctx context.Context, toy *Unfolder) ([]float64, error) {
	out := make([]float64, len(toy.Measured()))
	copy(out, toy.Measured())
	return out, nil
}

func TestEstimateError_SingleToyIsPoissonApproximation(t *testing.T) {
	// With one toy there is no ensemble: the error is √solution and no
	// matrices are produced. The solve function must never run.
	u := New(identityResponse(3), []float64{16, 25, 36}, 0)
	var calls atomic.Int64
	solve := func(ctx context.Context, toy *Unfolder) ([]float64, error) {
		calls.Add(1)
		return passthroughSolve(ctx, toy)
	}

	unc, err := EstimateError(context.Background(), u, []float64{16, 25, 36}, ToyConfig{NumToys: 1}, solve)
	if err != nil {
		t.Fatalf("EstimateError returned error: %v", err)
	}

	want := []float64{4, 5, 6}
	for i, w := range want {
		if math.Abs(unc.StatError[i]-w) > 1e-12 {
			t.Errorf("Expected error %v at bin %d. Got: %v", w, i, unc.StatError[i])
		}
	}
	if unc.Covariance != nil || unc.Correlation != nil {
		t.Error("Expected no covariance or correlation in single-toy mode")
	}
	if calls.Load() != 0 {
		t.Errorf("Expected the solve function to stay unused. Got: %d calls", calls.Load())
	}
}

func TestEstimateError_EnsembleStatistics(t *testing.T) {
	d := []float64{50, 80, 120}
	u := New(identityResponse(3), d, 0)

	unc, err := EstimateError(context.Background(), u, d, ToyConfig{NumToys: 64, NumCores: 4}, passthroughSolve)
	if err != nil {
		t.Fatalf("EstimateError returned error: %v", err)
	}

	if len(unc.StatError) != 3 {
		t.Fatalf("Expected 3 per-bin errors. Got: %d", len(unc.StatError))
	}
	for j, e := range unc.StatError {
		if e <= 0 {
			t.Errorf("Expected a positive spread at bin %d. Got: %v", j, e)
		}
		// Poisson fluctuations of rate λ spread like √λ; with 64 toys the
		// sample estimate should land within a factor of two.
		expected := math.Sqrt(d[j])
		if e < expected/2 || e > expected*2 {
			t.Errorf("Expected error near √%v=%.2f at bin %d. Got: %v", d[j], expected, j, e)
		}
	}

	cov := unc.Covariance
	corr := unc.Correlation
	if cov == nil || corr == nil {
		t.Fatal("Expected covariance and correlation for a toy ensemble")
	}
	n, _ := cov.Dims()
	if n != 3 {
		t.Fatalf("Expected 3x3 matrices. Got: %dx%d", n, n)
	}
	for i := 0; i < n; i++ {
		// Diagonal of the covariance is the variance behind StatError.
		if diff := math.Abs(cov.At(i, i) - unc.StatError[i]*unc.StatError[i]); diff > 1e-9 {
			t.Errorf("Expected cov[%d][%d] to equal error². Diff: %v", i, i, diff)
		}
		if math.Abs(corr.At(i, i)-1) > 1e-9 {
			t.Errorf("Expected unit correlation diagonal. Got: %v", corr.At(i, i))
		}
		for j := 0; j < n; j++ {
			if math.Abs(cov.At(i, j)-cov.At(j, i)) > 1e-12 {
				t.Errorf("Expected symmetric covariance at (%d,%d)", i, j)
			}
			if c := corr.At(i, j); c < -1-1e-9 || c > 1+1e-9 {
				t.Errorf("Expected correlation in [-1,1]. Got: %v at (%d,%d)", c, i, j)
			}
		}
	}
}

func TestEstimateError_RowsStayWithTheirToy(t *testing.T) {
	// Each fake solution is [c, 2c] with c taken from that toy's resampled
	// spectrum. If ensemble rows mixed results from different toys, the
	// perfect correlation between the two columns would wash out.
	u := New(identityResponse(2), []float64{60, 60}, 0)
	solve := func(ctx context.Context, toy *Unfolder) ([]float64, error) {
		c := toy.Measured()[0]
		return []float64{c, 2 * c}, nil
	}

	unc, err := EstimateError(context.Background(), u, []float64{60, 120}, ToyConfig{NumToys: 32, NumCores: 8}, solve)
	if err != nil {
		t.Fatalf("EstimateError returned error: %v", err)
	}

	if c := unc.Correlation.At(0, 1); c < 0.999 {
		t.Errorf("Expected near-perfect column correlation. Got: %v", c)
	}
}

func TestEstimateError_ToyFailureAbortsEstimation(t *testing.T) {
	u := New(identityResponse(2), []float64{30, 40}, 0)
	boom := errors.New("backend unreachable")
	var calls atomic.Int64
	solve := func(ctx context.Context, toy *Unfolder) ([]float64, error) {
		if calls.Add(1) == 3 {
			return nil, boom
		}
		return passthroughSolve(ctx, toy)
	}

	unc, err := EstimateError(context.Background(), u, []float64{30, 40}, ToyConfig{NumToys: 16, NumCores: 2}, solve)
	if err == nil {
		t.Fatal("Expected the failing toy to abort the estimation. Got: nil")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected the backend error in the chain. Got: %v", err)
	}
	if unc != nil {
		t.Error("Expected no partial uncertainty after a toy failure")
	}
}

func TestEstimateError_EmptyBinsProduceZeroSpread(t *testing.T) {
	// A bin with zero measured counts resamples to zero in every toy, so
	// its spread is exactly zero.
	d := []float64{0, 90}
	u := New(identityResponse(2), d, 0)

	var mu sync.Mutex
	var seen [][]float64
	solve := func(ctx context.Context, toy *Unfolder) ([]float64, error) {
		mu.Lock()
		seen = append(seen, append([]float64(nil), toy.Measured()...))
		mu.Unlock()
		return passthroughSolve(ctx, toy)
	}

	unc, err := EstimateError(context.Background(), u, d, ToyConfig{NumToys: 8, NumCores: 2}, solve)
	if err != nil {
		t.Fatalf("EstimateError returned error: %v", err)
	}

	if unc.StatError[0] != 0 {
		t.Errorf("Expected zero spread for the empty bin. Got: %v", unc.StatError[0])
	}
	for _, m := range seen {
		if m[0] != 0 {
			t.Errorf("Expected the empty bin to stay empty under resampling. Got: %v", m)
		}
	}
}

func TestEstimateError_ProgressReportsEveryToy(t *testing.T) {
	u := New(identityResponse(2), []float64{40, 50}, 0)

	var mu sync.Mutex
	var dones []int
	cfg := ToyConfig{
		NumToys:  8,
		NumCores: 2,
		Progress: func(done, total int) {
			mu.Lock()
			dones = append(dones, done)
			mu.Unlock()
			if total != 8 {
				t.Errorf("Expected total 8 in progress callback. Got: %d", total)
			}
		},
	}

	if _, err := EstimateError(context.Background(), u, []float64{40, 50}, cfg, passthroughSolve); err != nil {
		t.Fatalf("EstimateError returned error: %v", err)
	}

	if len(dones) != 8 {
		t.Fatalf("Expected 8 progress calls. Got: %d", len(dones))
	}
	max := 0
	for _, v := range dones {
		if v > max {
			max = v
		}
	}
	if max != 8 {
		t.Errorf("Expected the done count to reach 8. Got max: %d", max)
	}
}

func TestDefaultCores_AtLeastOne(t *testing.T) {
	if DefaultCores() < 1 {
		t.Errorf("Expected at least one worker. Got: %d", DefaultCores())
	}
}
