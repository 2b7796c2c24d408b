package unfold

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ToyConfig tunes the toy Monte Carlo error estimation.
type ToyConfig struct {
	// NumToys is the ensemble size. Values below 2 select the no-ensemble
	// Poisson approximation.
	NumToys int
	// NumCores bounds the worker pool; 0 means DefaultCores().
	NumCores int
	// Progress, when set, is called after each completed toy with the done
	// count and the total. Called from worker goroutines, so it must be
	// safe for concurrent use.
	Progress func(done, total int)
}

// DefaultCores leaves two cores for the caller, with at least one worker.
func DefaultCores() int {
	cores := runtime.NumCPU() - 2
	if cores < 1 {
		cores = 1
	}
	return cores
}

// Uncertainty is the aggregated outcome of the toy ensemble. Covariance and
// Correlation are nil in the no-ensemble mode.
type Uncertainty struct {
	StatError   []float64
	Covariance  *mat.SymDense
	Correlation *mat.SymDense
}

// SolveFunc runs the full solve pipeline on one formulation. The estimator
// calls it once per toy with a freshly compiled Unfolder.
type SolveFunc func(ctx context.Context, u *Unfolder) ([]float64, error)

// EstimateError derives the statistical uncertainty of an unfolded solution.
//
// With fewer than two toys the per-bin error is √solution, the plain Poisson
// counting approximation, and no ensemble is built. Otherwise each toy i
// draws d' ~ Poisson(d) elementwise, builds a fresh formulation with the
// same response and regularization but the resampled spectrum (the variable
// bounds depend on the measured counts, so compilation must be redone), and
// solves it. Row i of the ensemble always holds toy i's solution regardless
// of completion order. The first failing toy aborts the whole estimation.
//
// The Poisson draws come from per-toy streams split off a process-wide
// random value, so ensembles differ between runs even when the solves
// themselves are seeded.
func EstimateError(ctx context.Context, u *Unfolder, nominal []float64, cfg ToyConfig, solve SolveFunc) (*Uncertainty, error) {
	n := len(nominal)
	if cfg.NumToys <= 1 {
		errs := make([]float64, n)
		for i, v := range nominal {
			errs[i] = math.Sqrt(v)
		}
		return &Uncertainty{StatError: errs}, nil
	}

	toys := cfg.NumToys
	cores := cfg.NumCores
	if cores <= 0 {
		cores = DefaultCores()
	}

	ensemble := mat.NewDense(toys, n, nil)
	measured := u.Measured()
	base := rand.Uint64()

	var done atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cores)
	for i := 0; i < toys; i++ {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			src := rand.NewPCG(base, uint64(i))
			resampled := poissonResample(measured, src)

			toy := New(u.Response(), resampled, u.Lam())
			if err := toy.Initialize(); err != nil {
				return fmt.Errorf("toy %d: %w", i, err)
			}
			solution, err := solve(gCtx, toy)
			if err != nil {
				return fmt.Errorf("toy %d: %w", i, err)
			}
			if len(solution) != n {
				return fmt.Errorf("toy %d: solution has %d bins, want %d", i, len(solution), n)
			}
			ensemble.SetRow(i, solution)

			if cfg.Progress != nil {
				cfg.Progress(int(done.Add(1)), toys)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	errs := make([]float64, n)
	col := make([]float64, toys)
	for j := 0; j < n; j++ {
		mat.Col(col, j, ensemble)
		errs[j] = stat.StdDev(col, nil)
	}

	var cov, corr mat.SymDense
	stat.CovarianceMatrix(&cov, ensemble, nil)
	stat.CorrelationMatrix(&corr, ensemble, nil)

	return &Uncertainty{StatError: errs, Covariance: &cov, Correlation: &corr}, nil
}

// poissonResample draws a fluctuated copy of the measured spectrum. Empty
// bins stay empty: a zero-rate Poisson is degenerate at zero.
func poissonResample(measured []float64, src rand.Source) []float64 {
	resampled := make([]float64, len(measured))
	for j, rate := range measured {
		if rate <= 0 {
			continue
		}
		resampled[j] = distuv.Poisson{Lambda: rate, Src: src}.Rand()
	}
	return resampled
}
