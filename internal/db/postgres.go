package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init never depends on finding internal/db/schema.sql
// on disk next to a deployed binary.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Unfolding Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Unfolding Engine schema initialized")
	return nil
}

// SaveJob upserts the job row. Called on every lifecycle transition so the
// database mirrors the in-memory state after each step.
func (s *PostgresStore) SaveJob(ctx context.Context, job models.Job) error {
	sql := `
		INSERT INTO unfold_jobs
			(id, status, backend, bins, num_reads, num_toys, seed, lam,
			 submitted_at, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			$9::timestamptz, NULLIF($10, '')::timestamptz, NULLIF($11, '')::timestamptz, NULLIF($12, ''))
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			error = EXCLUDED.error;
	`
	_, err := s.pool.Exec(ctx, sql,
		job.ID, job.Status, job.Backend, job.Bins, job.NumReads, job.NumToys, job.Seed, job.Lam,
		job.SubmittedAt, job.StartedAt, job.FinishedAt, job.Error)
	return err
}

// SaveResult persists the solved spectrum for a finished job.
func (s *PostgresStore) SaveResult(ctx context.Context, jobID string, res *models.UnfoldResult) error {
	covariance, err := matrixJSON(res.Covariance)
	if err != nil {
		return fmt.Errorf("failed to encode covariance: %v", err)
	}
	correlation, err := matrixJSON(res.Correlation)
	if err != nil {
		return fmt.Errorf("failed to encode correlation: %v", err)
	}

	sql := `
		INSERT INTO unfold_results
			(job_id, solution, stat_error, covariance, correlation, energy, reads, solve_ms)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			solution = EXCLUDED.solution,
			stat_error = EXCLUDED.stat_error,
			covariance = EXCLUDED.covariance,
			correlation = EXCLUDED.correlation,
			energy = EXCLUDED.energy,
			reads = EXCLUDED.reads,
			solve_ms = EXCLUDED.solve_ms;
	`
	_, err = s.pool.Exec(ctx, sql,
		jobID, res.Solution, res.StatError, covariance, correlation,
		res.Energy, res.Reads, res.SolveMs)
	return err
}

// GetJob loads a job and, when present, its result. Returns (nil, nil) for
// an unknown id so callers can fall back to the in-memory index.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	sql := `
		SELECT j.id, j.status, j.backend, j.bins, j.num_reads, j.num_toys, j.seed, j.lam,
			j.submitted_at, j.started_at, j.finished_at, COALESCE(j.error, ''),
			r.solution, r.stat_error, r.covariance, r.correlation, r.energy, r.reads, r.solve_ms
		FROM unfold_jobs j
		LEFT JOIN unfold_results r ON r.job_id = j.id
		WHERE j.id = $1;
	`

	var (
		job         models.Job
		submitted   time.Time
		started     *time.Time
		finished    *time.Time
		solution    []float64
		statError   []float64
		covariance  []byte
		correlation []byte
		energy      *float64
		reads       *int
		solveMs     *float64
	)
	err := s.pool.QueryRow(ctx, sql, id).Scan(
		&job.ID, &job.Status, &job.Backend, &job.Bins, &job.NumReads, &job.NumToys, &job.Seed, &job.Lam,
		&submitted, &started, &finished, &job.Error,
		&solution, &statError, &covariance, &correlation, &energy, &reads, &solveMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.SubmittedAt = submitted.UTC().Format(time.RFC3339)
	if started != nil {
		job.StartedAt = started.UTC().Format(time.RFC3339)
	}
	if finished != nil {
		job.FinishedAt = finished.UTC().Format(time.RFC3339)
	}

	if solution != nil {
		result := &models.UnfoldResult{
			Solution:  solution,
			StatError: statError,
			Backend:   job.Backend,
			Bins:      job.Bins,
			NumToys:   job.NumToys,
		}
		if energy != nil {
			result.Energy = *energy
		}
		if reads != nil {
			result.Reads = *reads
		}
		if solveMs != nil {
			result.SolveMs = *solveMs
		}
		if result.Covariance, err = matrixFromJSON(covariance); err != nil {
			return nil, fmt.Errorf("failed to decode covariance: %v", err)
		}
		if result.Correlation, err = matrixFromJSON(correlation); err != nil {
			return nil, fmt.Errorf("failed to decode correlation: %v", err)
		}
		job.Result = result
	}
	return &job, nil
}

// ListJobs returns job summaries newest-first, plus the total row count for
// pagination. Results are not joined in; fetch a single job for those.
func (s *PostgresStore) ListJobs(ctx context.Context, page int, limit int) ([]models.Job, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	countSQL := `SELECT COUNT(*) FROM unfold_jobs`
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT id, status, backend, bins, num_reads, num_toys, seed, lam,
			submitted_at, started_at, finished_at, COALESCE(error, '')
		FROM unfold_jobs
		ORDER BY submitted_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		var (
			job       models.Job
			submitted time.Time
			started   *time.Time
			finished  *time.Time
		)
		if err := rows.Scan(&job.ID, &job.Status, &job.Backend, &job.Bins, &job.NumReads, &job.NumToys, &job.Seed, &job.Lam,
			&submitted, &started, &finished, &job.Error); err != nil {
			return nil, 0, err
		}
		job.SubmittedAt = submitted.UTC().Format(time.RFC3339)
		if started != nil {
			job.StartedAt = started.UTC().Format(time.RFC3339)
		}
		if finished != nil {
			job.FinishedAt = finished.UTC().Format(time.RFC3339)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return jobs, totalCount, nil
}

// SaveSweepPoint appends one scanned point to the sweep history.
func (s *PostgresStore) SaveSweepPoint(ctx context.Context, sweepID string, point models.SweepPoint) error {
	sql := `INSERT INTO sweep_points (sweep_id, lam, chi2, energy) VALUES ($1, $2, $3, $4);`
	_, err := s.pool.Exec(ctx, sql, sweepID, point.Lam, point.Chi2, point.Energy)
	return err
}

// ListSweepPoints returns a sweep's points in scan order.
func (s *PostgresStore) ListSweepPoints(ctx context.Context, sweepID string) ([]models.SweepPoint, error) {
	sql := `SELECT lam, chi2, energy FROM sweep_points WHERE sweep_id = $1 ORDER BY id;`
	rows, err := s.pool.Query(ctx, sql, sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]models.SweepPoint, 0)
	for rows.Next() {
		var p models.SweepPoint
		if err := rows.Scan(&p.Lam, &p.Chi2, &p.Energy); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// GetPool exposes the connection pool for the shadow runner and other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func matrixJSON(m [][]float64) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func matrixFromJSON(raw []byte) ([][]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m [][]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
