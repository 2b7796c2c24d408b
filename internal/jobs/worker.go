// Package jobs runs unfolding requests asynchronously through a bounded
// queue and a single background worker. Remote backends can take minutes
// per solve, so the HTTP layer hands long runs off here and clients follow
// progress over the results endpoints or the websocket stream.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spectrumlab/unfold-engine/internal/db"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// ErrQueueFull signals that the pending channel is at capacity. The API
// maps it to 503 so clients can back off and retry.
var ErrQueueFull = errors.New("job queue is full")

// Broadcaster pushes events to streaming clients. Satisfied by the
// websocket hub; nil disables streaming.
type Broadcaster interface {
	Broadcast(message []byte)
}

type queuedJob struct {
	job     models.Job
	problem models.Problem
	spec    models.SolveSpec
}

// Queue accepts unfolding jobs up to a fixed capacity and executes them
// one at a time. Finished jobs stay queryable in memory even without a
// database; the index is pruned oldest-first past recentLimit.
type Queue struct {
	registry *solver.Registry
	dbStore  *db.PostgresStore
	hub      Broadcaster
	pending  chan queuedJob

	mu          sync.RWMutex
	recent      map[string]models.Job
	order       []string
	recentLimit int
}

func NewQueue(registry *solver.Registry, dbStore *db.PostgresStore, hub Broadcaster, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 32
	}
	return &Queue{
		registry:    registry,
		dbStore:     dbStore,
		hub:         hub,
		pending:     make(chan queuedJob, capacity),
		recent:      make(map[string]models.Job),
		recentLimit: 256,
	}
}

// Depth reports how many jobs are waiting for the worker.
func (q *Queue) Depth() int { return len(q.pending) }

// Enqueue registers a job and hands it to the worker. Returns the queued
// job snapshot, or ErrQueueFull when the pending channel is at capacity.
func (q *Queue) Enqueue(ctx context.Context, problem models.Problem, spec models.SolveSpec) (models.Job, error) {
	backend := spec.Backend
	if backend == "" {
		backend = "sa"
	}
	toys := spec.NumToys
	if toys < 1 {
		toys = 1
	}

	job := models.Job{
		ID:          uuid.New().String(),
		Status:      models.JobQueued,
		Backend:     backend,
		Bins:        truthBins(problem),
		NumReads:    spec.NumReads,
		NumToys:     toys,
		Seed:        spec.Seed,
		Lam:         problem.Lam,
		SubmittedAt: rfc3339Now(),
	}

	q.remember(job)
	select {
	case q.pending <- queuedJob{job: job, problem: problem, spec: spec}:
	default:
		q.forget(job.ID)
		return models.Job{}, ErrQueueFull
	}

	q.persist(ctx, job)
	q.broadcastJob(job)
	log.Printf("[Jobs] Queued job %s (backend=%s, bins=%d, toys=%d)", job.ID, job.Backend, job.Bins, job.NumToys)
	return job, nil
}

// Run drains the queue until the context is cancelled. Jobs execute
// strictly one at a time so a slow remote solve cannot starve the host.
func (q *Queue) Run(ctx context.Context) {
	log.Println("[Jobs] Worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[Jobs] Stopping job worker...")
			return
		case item := <-q.pending:
			q.execute(ctx, item)
		}
	}
}

func (q *Queue) execute(ctx context.Context, item queuedJob) {
	job := item.job
	job.Status = models.JobRunning
	job.StartedAt = rfc3339Now()
	q.remember(job)
	q.persist(ctx, job)
	q.broadcastJob(job)
	log.Printf("[Jobs] Running job %s (backend=%s, bins=%d)", job.ID, job.Backend, job.Bins)

	progress := func(done, total int) {
		q.broadcastProgress(job.ID, done, total)
	}

	result, err := unfold.Run(ctx, q.registry, item.problem, item.spec, progress)
	job.FinishedAt = rfc3339Now()
	if err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
		log.Printf("[Jobs] Job %s failed: %v", job.ID, err)
	} else {
		job.Status = models.JobDone
		job.Result = result
		log.Printf("[Jobs] Job %s done: energy=%.4g reads=%d", job.ID, result.Energy, result.Reads)
	}

	q.remember(job)
	q.persist(ctx, job)
	if err == nil && q.dbStore != nil {
		if perr := q.dbStore.SaveResult(ctx, job.ID, job.Result); perr != nil {
			log.Printf("[Jobs] Failed to persist result for %s: %v", job.ID, perr)
		}
	}
	q.broadcastJob(job)
}

// Job returns a snapshot of the tracked job, if it is still indexed.
func (q *Queue) Job(id string) (models.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.recent[id]
	return job, ok
}

// List returns tracked jobs newest-first.
func (q *Queue) List() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		if job, ok := q.recent[q.order[i]]; ok {
			out = append(out, job)
		}
	}
	return out
}

func (q *Queue) remember(job models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.recent[job.ID]; !exists {
		q.order = append(q.order, job.ID)
		for len(q.order) > q.recentLimit {
			delete(q.recent, q.order[0])
			q.order = q.order[1:]
		}
	}
	q.recent[job.ID] = job
}

func (q *Queue) forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.recent, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) persist(ctx context.Context, job models.Job) {
	if q.dbStore == nil {
		return
	}
	if err := q.dbStore.SaveJob(ctx, job); err != nil {
		log.Printf("[Jobs] Failed to persist job %s: %v", job.ID, err)
	}
}

type jobEvent struct {
	Type string     `json:"type"`
	Job  models.Job `json:"job"`
}

type progressEvent struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

func (q *Queue) broadcastJob(job models.Job) {
	if q.hub == nil {
		return
	}
	payload, _ := json.Marshal(jobEvent{Type: "job", Job: job})
	q.hub.Broadcast(payload)
}

func (q *Queue) broadcastProgress(id string, done, total int) {
	if q.hub == nil {
		return
	}
	payload, _ := json.Marshal(progressEvent{Type: "jobProgress", JobID: id, Done: done, Total: total})
	q.hub.Broadcast(payload)
}

func truthBins(problem models.Problem) int {
	if len(problem.Response) > 0 {
		return len(problem.Response[0])
	}
	return len(problem.Measured)
}

func rfc3339Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
