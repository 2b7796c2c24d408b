// Package sweep scans regularization strengths and scores each candidate
// against a reference truth spectrum, recovering the λ that best balances
// fidelity and smoothness for a given response.
package sweep

import (
	"context"
	"fmt"
	"math"

	"github.com/spectrumlab/unfold-engine/internal/metrics"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// OptimizeConfig describes one λ scan. The problem's own Lam field is
// ignored; each grid point substitutes its candidate value.
type OptimizeConfig struct {
	Problem models.Problem
	// Truth is the reference spectrum the unfolded result is scored
	// against. Required: without truth there is nothing to optimize.
	Truth   []float64
	Backend solver.Backend
	// Grid bounds and resolution. LogSpace switches to geometric spacing
	// and requires Min > 0.
	Min, Max float64
	Steps    int
	LogSpace bool
	// Solve budget per grid point.
	NumReads int
	Seed     *int64
	// PointDone, when set, observes each scanned point in grid order.
	PointDone func(point models.SweepPoint)
}

func validate(cfg OptimizeConfig) error {
	if len(cfg.Truth) == 0 {
		return fmt.Errorf("sweep: a reference truth spectrum is required")
	}
	if len(cfg.Truth) != len(cfg.Problem.Measured) {
		return fmt.Errorf("sweep: truth has %d bins, measured has %d", len(cfg.Truth), len(cfg.Problem.Measured))
	}
	if cfg.Backend == nil {
		return fmt.Errorf("sweep: a backend is required")
	}
	if cfg.Steps < 1 {
		return fmt.Errorf("sweep: need at least one grid point, got %d", cfg.Steps)
	}
	if cfg.Min < 0 || cfg.Max < cfg.Min {
		return fmt.Errorf("sweep: invalid grid range [%v, %v]", cfg.Min, cfg.Max)
	}
	if cfg.LogSpace && cfg.Min <= 0 {
		return fmt.Errorf("sweep: log spacing needs Min > 0, got %v", cfg.Min)
	}
	return nil
}

// Optimize runs the grid scan: each point formulates the problem with its
// candidate λ, solves it on the configured backend and scores chi-square
// against the truth. Returns the best λ and every scanned point. The
// context aborts the scan between points.
func Optimize(ctx context.Context, cfg OptimizeConfig) (float64, []models.SweepPoint, error) {
	if err := validate(cfg); err != nil {
		return 0, nil, err
	}

	opts := solver.Options{NumReads: cfg.NumReads}
	if cfg.Seed != nil {
		opts.Seed = *cfg.Seed
		opts.HasSeed = true
	}

	points := make([]models.SweepPoint, 0, cfg.Steps)
	bestLam := 0.0
	bestChi2 := math.Inf(1)
	for _, lam := range grid(cfg.Min, cfg.Max, cfg.Steps, cfg.LogSpace) {
		if err := ctx.Err(); err != nil {
			return 0, nil, fmt.Errorf("sweep: %w", err)
		}

		u, err := unfold.FromProblem(cfg.Problem.Response, cfg.Problem.Measured, lam)
		if err != nil {
			return 0, nil, err
		}
		solution, res, err := u.Solve(ctx, cfg.Backend, opts)
		if err != nil {
			return 0, nil, fmt.Errorf("sweep: lam=%g: %w", lam, err)
		}
		chi2, err := metrics.ChiSquare(solution, cfg.Truth)
		if err != nil {
			return 0, nil, fmt.Errorf("sweep: lam=%g: %w", lam, err)
		}

		point := models.SweepPoint{Lam: lam, Chi2: chi2, Energy: res.Energy}
		points = append(points, point)
		if chi2 < bestChi2 {
			bestChi2 = chi2
			bestLam = lam
		}
		if cfg.PointDone != nil {
			cfg.PointDone(point)
		}
	}

	return bestLam, points, nil
}

// grid places Steps points across [min, max], linearly or geometrically.
func grid(min, max float64, steps int, logSpace bool) []float64 {
	if steps == 1 {
		return []float64{min}
	}
	out := make([]float64, steps)
	if logSpace {
		lmin, lmax := math.Log(min), math.Log(max)
		for i := range out {
			out[i] = math.Exp(lmin + float64(i)*(lmax-lmin)/float64(steps-1))
		}
		return out
	}
	for i := range out {
		out[i] = min + float64(i)*(max-min)/float64(steps-1)
	}
	return out
}
