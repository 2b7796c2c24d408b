package unfold

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// Run executes a complete unfolding request: formulation, nominal solve on
// the selected backend, toy error estimation with the same backend and
// options, and assembly of the wire result. The progress callback, when not
// nil, receives toy completion counts.
func Run(ctx context.Context, reg *solver.Registry, problem models.Problem, spec models.SolveSpec, progress func(done, total int)) (*models.UnfoldResult, error) {
	u, err := FromProblem(problem.Response, problem.Measured, problem.Lam)
	if err != nil {
		return nil, err
	}
	if err := u.Initialize(); err != nil {
		return nil, err
	}

	name := spec.Backend
	if name == "" {
		name = "sa"
	}
	backend, err := reg.Get(name)
	if err != nil {
		return nil, err
	}

	opts := solver.Options{
		NumReads:  spec.NumReads,
		TimeLimit: time.Duration(spec.TimeLimitSec * float64(time.Second)),
	}
	if spec.Seed != nil {
		opts.Seed = *spec.Seed
		opts.HasSeed = true
	}

	start := time.Now()
	solution, res, err := u.Solve(ctx, backend, opts)
	if err != nil {
		return nil, err
	}
	solveMs := time.Since(start).Seconds() * 1000

	toys := spec.NumToys
	if toys <= 0 {
		toys = 1
	}
	cfg := ToyConfig{NumToys: toys, NumCores: spec.NumCores, Progress: progress}
	unc, err := EstimateError(ctx, u, solution, cfg, func(ctx context.Context, toy *Unfolder) ([]float64, error) {
		s, _, err := toy.Solve(ctx, backend, opts)
		return s, err
	})
	if err != nil {
		return nil, err
	}

	result := &models.UnfoldResult{
		Solution:  solution,
		StatError: unc.StatError,
		Energy:    res.Energy,
		Backend:   backend.Name(),
		Bins:      u.Bins(),
		Reads:     res.Reads,
		NumToys:   toys,
		SolveMs:   solveMs,
	}
	if unc.Covariance != nil {
		result.Covariance = symToSlices(unc.Covariance)
		result.Correlation = symToSlices(unc.Correlation)
	}
	return result, nil
}

func symToSlices(s *mat.SymDense) [][]float64 {
	n, _ := s.Dims()
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, n)
		for j := range row {
			row[j] = s.At(i, j)
		}
		out[i] = row
	}
	return out
}
