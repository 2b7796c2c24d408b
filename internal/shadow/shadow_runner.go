package shadow

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spectrumlab/unfold-engine/internal/metrics"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// ShadowRunner executes a candidate backend in parallel with the production
// backend on the same compiled model. No new sampler affects reported
// spectra immediately; it runs in shadow mode for an observation window and
// its divergence record decides the promotion.
type ShadowRunner struct {
	pool    *pgxpool.Pool
	cohort  string
	primary solver.Backend
	shadow  solver.Backend

	// Tolerance is the largest per-bin gap still counted as agreement.
	// Zero means any difference is a divergence.
	Tolerance float64
}

// ComparisonResult captures the diff between the production and shadow
// backends on one problem.
type ComparisonResult struct {
	ID             string    `json:"id"`
	Cohort         string    `json:"cohort"`
	PrimaryBackend string    `json:"primaryBackend"`
	ShadowBackend  string    `json:"shadowBackend"`
	Bins           int       `json:"bins"`
	Lam            float64   `json:"lam"`
	PrimaryEnergy  float64   `json:"primaryEnergy"`
	ShadowEnergy   float64   `json:"shadowEnergy"`
	EnergyDelta    float64   `json:"energyDelta"`
	MaxBinDiff     float64   `json:"maxBinDiff"`
	Chi2           float64   `json:"chi2"`
	Diverged       bool      `json:"diverged"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewShadowRunner creates a runner that compares the production backend
// against a shadow candidate. The cohort labels one observation window so
// drift reports stay scoped to a single candidate rollout.
func NewShadowRunner(pool *pgxpool.Pool, cohort string, primary, shadow solver.Backend) *ShadowRunner {
	return &ShadowRunner{
		pool:    pool,
		cohort:  cohort,
		primary: primary,
		shadow:  shadow,
	}
}

// RunComparison solves the problem on both backends against the same
// compiled model and persists the comparison to the shadow_runs table.
func (sr *ShadowRunner) RunComparison(ctx context.Context, problem models.Problem, opts solver.Options) (*ComparisonResult, error) {
	u, err := unfold.FromProblem(problem.Response, problem.Measured, problem.Lam)
	if err != nil {
		return nil, err
	}
	if err := u.Initialize(); err != nil {
		return nil, err
	}

	prodSolution, prodRes, err := u.Solve(ctx, sr.primary, opts)
	if err != nil {
		return nil, err
	}
	shadowSolution, shadowRes, err := u.Solve(ctx, sr.shadow, opts)
	if err != nil {
		return nil, err
	}

	maxDiff, err := metrics.MaxAbsDiff(shadowSolution, prodSolution)
	if err != nil {
		return nil, err
	}
	chi2, err := metrics.ChiSquare(shadowSolution, prodSolution)
	if err != nil {
		return nil, err
	}

	result := &ComparisonResult{
		ID:             uuid.New().String(),
		Cohort:         sr.cohort,
		PrimaryBackend: sr.primary.Name(),
		ShadowBackend:  sr.shadow.Name(),
		Bins:           u.Bins(),
		Lam:            problem.Lam,
		PrimaryEnergy:  prodRes.Energy,
		ShadowEnergy:   shadowRes.Energy,
		EnergyDelta:    shadowRes.Energy - prodRes.Energy,
		MaxBinDiff:     maxDiff,
		Chi2:           chi2,
		Diverged:       maxDiff > sr.Tolerance,
		CreatedAt:      time.Now().UTC(),
	}

	// Log divergences for monitoring
	if result.Diverged {
		log.Printf("[Shadow] DIVERGENCE on %s: primary_energy=%.6g shadow_energy=%.6g max_bin_diff=%g chi2=%.4g",
			result.ID, result.PrimaryEnergy, result.ShadowEnergy, result.MaxBinDiff, result.Chi2)
	}

	// Persist to shadow_runs (never to unfold_results)
	if sr.pool != nil {
		if err := sr.persistComparison(ctx, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (sr *ShadowRunner) persistComparison(ctx context.Context, result *ComparisonResult) error {
	sql := `INSERT INTO shadow_runs
		(id, cohort, primary_backend, shadow_backend, bins, lam,
		 primary_energy, shadow_energy, energy_delta, max_bin_diff, chi2, diverged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := sr.pool.Exec(ctx, sql,
		result.ID,
		result.Cohort,
		result.PrimaryBackend,
		result.ShadowBackend,
		result.Bins,
		result.Lam,
		result.PrimaryEnergy,
		result.ShadowEnergy,
		result.EnergyDelta,
		result.MaxBinDiff,
		result.Chi2,
		result.Diverged,
		result.CreatedAt,
	)
	return err
}

// GenerateDriftReport computes the divergence rate between shadow and
// production over every comparison recorded for this cohort.
func (sr *ShadowRunner) GenerateDriftReport(ctx context.Context) (totalRuns int, divergences int, avgEnergyDelta float64, err error) {
	sql := `SELECT
		COUNT(*) as total,
		COUNT(*) FILTER (WHERE diverged) as divergences,
		COALESCE(AVG(energy_delta), 0) as avg_delta
	FROM shadow_runs WHERE cohort = $1`

	row := sr.pool.QueryRow(ctx, sql, sr.cohort)
	err = row.Scan(&totalRuns, &divergences, &avgEnergyDelta)
	return
}
