package sweep

import (
	"context"
	"errors"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spectrumlab/unfold-engine/internal/db"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// ErrSweepInProgress rejects a Start call while a previous sweep is still
// scanning. Only one sweep runs at a time.
var ErrSweepInProgress = errors.New("sweep already in progress")

// BestLambdaAlert is emitted whenever a scanned point beats the best
// chi-square seen so far in the current sweep.
type BestLambdaAlert struct {
	SweepID   string  `json:"sweepId"`
	Lam       float64 `json:"lam"`
	Chi2      float64 `json:"chi2"`
	Energy    float64 `json:"energy"`
	Timestamp string  `json:"timestamp"`
}

// Progress is the sweep state snapshot served by the API.
type Progress struct {
	IsRunning   bool    `json:"isRunning"`
	SweepID     string  `json:"sweepId,omitempty"`
	PointsDone  int64   `json:"pointsDone"`
	PointsTotal int64   `json:"pointsTotal"`
	BestLam     float64 `json:"bestLam"`
	BestChi2    float64 `json:"bestChi2"`
}

// Runner executes λ sweeps asynchronously, one at a time. Progress counters
// are atomics so the API can snapshot mid-scan without locking, and each
// new best triggers the optional alert callback.
type Runner struct {
	dbStore   *db.PostgresStore
	alertFunc func(alert BestLambdaAlert)

	// PointObserver, when set, sees every scanned point with the running
	// done/total counts. Wired to the websocket stream by the service.
	// Must be set before any Start call.
	PointObserver func(sweepID string, point models.SweepPoint, done, total int64)

	isRunning   atomic.Bool
	pointsDone  atomic.Int64
	pointsTotal atomic.Int64
	bestLam     atomic.Uint64 // float64 bits
	bestChi2    atomic.Uint64 // float64 bits
	sweepID     atomic.Value  // string
}

func NewRunner(dbStore *db.PostgresStore, alertFunc func(BestLambdaAlert)) *Runner {
	r := &Runner{dbStore: dbStore, alertFunc: alertFunc}
	r.bestChi2.Store(math.Float64bits(math.Inf(1)))
	r.sweepID.Store("")
	return r
}

// Progress returns the current sweep state (safe for concurrent reads).
func (r *Runner) Progress() Progress {
	p := Progress{
		IsRunning:   r.isRunning.Load(),
		PointsDone:  r.pointsDone.Load(),
		PointsTotal: r.pointsTotal.Load(),
		BestLam:     math.Float64frombits(r.bestLam.Load()),
		BestChi2:    math.Float64frombits(r.bestChi2.Load()),
	}
	if id, ok := r.sweepID.Load().(string); ok {
		p.SweepID = id
	}
	return p
}

// Start launches a sweep in the background and returns its id. A sweep
// already in progress rejects the request; configuration problems surface
// before anything starts.
func (r *Runner) Start(ctx context.Context, cfg OptimizeConfig) (string, error) {
	if err := validate(cfg); err != nil {
		return "", err
	}
	if !r.isRunning.CompareAndSwap(false, true) {
		return "", ErrSweepInProgress
	}

	id := uuid.New().String()
	r.sweepID.Store(id)
	r.pointsDone.Store(0)
	r.pointsTotal.Store(int64(cfg.Steps))
	r.bestLam.Store(math.Float64bits(0))
	r.bestChi2.Store(math.Float64bits(math.Inf(1)))

	caller := cfg.PointDone
	cfg.PointDone = func(point models.SweepPoint) {
		done := r.pointsDone.Add(1)
		if r.PointObserver != nil {
			r.PointObserver(id, point, done, int64(cfg.Steps))
		}

		if point.Chi2 < math.Float64frombits(r.bestChi2.Load()) {
			r.bestChi2.Store(math.Float64bits(point.Chi2))
			r.bestLam.Store(math.Float64bits(point.Lam))
			log.Printf("[Sweep] New best: lam=%.4g chi2=%.4g", point.Lam, point.Chi2)
			if r.alertFunc != nil {
				r.alertFunc(BestLambdaAlert{
					SweepID:   id,
					Lam:       point.Lam,
					Chi2:      point.Chi2,
					Energy:    point.Energy,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
		if r.dbStore != nil {
			if err := r.dbStore.SaveSweepPoint(ctx, id, point); err != nil {
				log.Printf("[Sweep] Failed to persist point lam=%g: %v", point.Lam, err)
			}
		}
		if caller != nil {
			caller(point)
		}
	}

	go func() {
		defer r.isRunning.Store(false)

		log.Printf("[Sweep] Starting sweep %s: %d points over [%g, %g]", id, cfg.Steps, cfg.Min, cfg.Max)
		best, points, err := Optimize(ctx, cfg)
		if err != nil {
			log.Printf("[Sweep] Sweep %s failed: %v", id, err)
			return
		}
		log.Printf("[Sweep] Sweep %s complete: %d points, best lam=%.4g", id, len(points), best)
	}()

	return id, nil
}
