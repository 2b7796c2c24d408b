package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/spectrumlab/unfold-engine/internal/db"
	"github.com/spectrumlab/unfold-engine/internal/demo"
	"github.com/spectrumlab/unfold-engine/internal/dwave"
	"github.com/spectrumlab/unfold-engine/internal/jobs"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/sweep"
	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

type APIHandler struct {
	dbStore  *db.PostgresStore
	registry *solver.Registry
	cloud    *dwave.Client
	wsHub    *Hub
	queue    *jobs.Queue
	sweeper  *sweep.Runner
}

func SetupRouter(dbStore *db.PostgresStore, registry *solver.Registry, cloud *dwave.Client, wsHub *Hub, queue *jobs.Queue, sweeper *sweep.Runner) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://lab.spectrumlab.io
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:  dbStore,
		registry: registry,
		cloud:    cloud,
		wsHub:    wsHub,
		queue:    queue,
		sweeper:  sweeper,
	}

	// Solve endpoints burn CPU (or cloud credit) per call, so they sit
	// behind a per-IP limiter on top of the bearer-token auth.
	limiter := NewRateLimiter(envInt("SOLVE_RATE_LIMIT", 30), envInt("SOLVE_RATE_BURST", 10))

	api := r.Group("/api/v1")
	{
		// Public endpoints: service discovery, the event stream and
		// sweep progress polling.
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
		api.GET("/sweep/progress", handler.handleSweepProgress)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.GET("/jobs", handler.handleListJobs)
			protected.GET("/jobs/:id", handler.handleGetJob)
			protected.GET("/sweep/:id/points", handler.handleSweepPoints)

			solve := protected.Group("")
			solve.Use(limiter.Middleware())
			{
				solve.POST("/unfold", handler.handleUnfold)
				solve.POST("/validate", handler.handleValidate)
				solve.POST("/jobs", handler.handleSubmitJob)
				solve.POST("/sweep", handler.handleStartSweep)
				solve.GET("/demo", handler.handleDemo)
			}
		}
	}

	return r
}

// unfoldRequest carries the problem and the solve settings in one flat
// JSON body.
type unfoldRequest struct {
	models.Problem
	models.SolveSpec
}

// checkRequest formulates the problem and resolves the backend, mapping
// failures to the right status: 400 for bad dimensions, 422 for
// formulation errors or an unknown backend. Returns false after writing
// the error response.
func (h *APIHandler) checkRequest(c *gin.Context, problem models.Problem, backendName string) bool {
	u, err := unfold.FromProblem(problem.Response, problem.Measured, problem.Lam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid problem", "details": err.Error()})
		return false
	}
	if err := u.Initialize(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Formulation failed", "details": err.Error()})
		return false
	}
	if backendName == "" {
		backendName = "sa"
	}
	if _, err := h.registry.Get(backendName); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown backend", "details": err.Error()})
		return false
	}
	return true
}

// handleUnfold runs one synchronous unfolding solve.
// POST /api/v1/unfold { "response": [[..]], "measured": [..], "lam": 0.1, "backend": "sa", ... }
func (h *APIHandler) handleUnfold(c *gin.Context) {
	var req unfoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !h.checkRequest(c, req.Problem, req.Backend) {
		return
	}

	result, err := unfold.Run(c.Request.Context(), h.registry, req.Problem, req.SolveSpec, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Solve failed", "details": err.Error()})
		return
	}

	// Persist completed synchronous solves alongside queued jobs so the
	// history endpoint sees both.
	jobID := ""
	if h.dbStore != nil {
		job := syncJobRecord(req.Problem, req.SolveSpec, result)
		jobID = job.ID
		if err := h.dbStore.SaveJob(context.Background(), job); err != nil {
			log.Printf("Failed to save unfold job to DB: %v", err)
		} else if err := h.dbStore.SaveResult(context.Background(), job.ID, result); err != nil {
			log.Printf("Failed to save unfold result to DB: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":  jobID,
		"result": result,
	})
}

// handleValidate scores a candidate solution against the compiled model
// without running any sampler.
// POST /api/v1/validate { "response": [[..]], "measured": [..], "lam": 0.1, "solution": [..] }
func (h *APIHandler) handleValidate(c *gin.Context) {
	var req struct {
		models.Problem
		Solution []float64 `json:"solution"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	u, err := unfold.FromProblem(req.Response, req.Measured, req.Lam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid problem", "details": err.Error()})
		return
	}
	if err := u.Initialize(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Formulation failed", "details": err.Error()})
		return
	}

	energy, err := u.EnergyOf(req.Solution)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Candidate solution rejected", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"energy": energy,
		"bins":   u.Bins(),
		"lam":    req.Lam,
	})
}

// handleSubmitJob queues an asynchronous unfolding run.
// POST /api/v1/jobs with the same body as /unfold.
func (h *APIHandler) handleSubmitJob(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue not initialized"})
		return
	}

	var req unfoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !h.checkRequest(c, req.Problem, req.Backend) {
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), req.Problem, req.SolveSpec)
	if errors.Is(err, jobs.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is full", "hint": "Retry after the backlog drains"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue job", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"job":    job,
	})
}

// handleGetJob returns one job with its result when finished. The in-memory
// index is checked first; the database covers jobs from earlier runs.
func (h *APIHandler) handleGetJob(c *gin.Context) {
	id := c.Param("id")

	if h.queue != nil {
		if job, ok := h.queue.Job(id); ok {
			c.JSON(http.StatusOK, job)
			return
		}
	}
	if h.dbStore != nil {
		job, err := h.dbStore.GetJob(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch job", "details": err.Error()})
			return
		}
		if job != nil {
			c.JSON(http.StatusOK, job)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
}

// handleListJobs returns job history newest-first. Database-backed when
// connected, otherwise the in-memory index of this process.
func (h *APIHandler) handleListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if h.dbStore != nil {
		list, totalCount, err := h.dbStore.ListJobs(c.Request.Context(), page, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch jobs", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":       list,
			"totalCount": totalCount,
			"page":       page,
			"limit":      limit,
		})
		return
	}

	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue not initialized"})
		return
	}
	list := h.queue.List()
	window := paginate(list, page, limit)
	c.JSON(http.StatusOK, gin.H{
		"data":       window,
		"totalCount": len(list),
		"page":       page,
		"limit":      limit,
	})
}

// handleStartSweep launches a regularization scan in the background.
// POST /api/v1/sweep { "response": [[..]], "measured": [..], "truth": [..], "min": 0, "max": 1, "steps": 20 }
func (h *APIHandler) handleStartSweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sweep runner not initialized"})
		return
	}

	var req struct {
		models.Problem
		Truth    []float64 `json:"truth"`
		Backend  string    `json:"backend"`
		Min      float64   `json:"min"`
		Max      float64   `json:"max"`
		Steps    int       `json:"steps"`
		LogSpace bool      `json:"logSpace"`
		NumReads int       `json:"numReads"`
		Seed     *int64    `json:"seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	backendName := req.Backend
	if backendName == "" {
		backendName = "sa"
	}
	backend, err := h.registry.Get(backendName)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown backend", "details": err.Error()})
		return
	}

	cfg := sweep.OptimizeConfig{
		Problem:  req.Problem,
		Truth:    req.Truth,
		Backend:  backend,
		Min:      req.Min,
		Max:      req.Max,
		Steps:    req.Steps,
		LogSpace: req.LogSpace,
		NumReads: req.NumReads,
		Seed:     req.Seed,
	}

	// The scan outlives this request, so it runs on a background context.
	id, err := h.sweeper.Start(context.Background(), cfg)
	if errors.Is(err, sweep.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "A sweep is already in progress", "details": h.sweeper.Progress()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sweep", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "sweep_started",
		"sweepId": id,
		"points":  req.Steps,
	})
}

// handleSweepProgress returns the current progress of the sweep runner.
func (h *APIHandler) handleSweepProgress(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sweep runner not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.sweeper.Progress())
}

// handleSweepPoints returns the persisted points of a finished or running
// sweep. Requires the database.
func (h *APIHandler) handleSweepPoints(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	id := c.Param("id")
	points, err := h.dbStore.ListSweepPoints(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sweep points", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sweepId": id,
		"points":  points,
	})
}

// handleDemo generates a synthetic smeared-spectrum problem, optionally
// solving it in the same call. Disabled unless ENABLE_SYNTHETIC=true.
// GET /api/v1/demo?bins=16&events=40000&lam=0.1&seed=42&solve=true
func (h *APIHandler) handleDemo(c *gin.Context) {
	if !IsSyntheticEnabled() {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Synthetic demo mode is disabled",
			"hint":  "Set ENABLE_SYNTHETIC=true to enable",
		})
		return
	}

	spec := demo.DefaultSpec()
	if bins, err := strconv.Atoi(c.DefaultQuery("bins", "0")); err == nil && bins > 0 {
		spec.Bins = bins
	}
	if events, err := strconv.Atoi(c.DefaultQuery("events", "0")); err == nil && events > 0 {
		spec.Events = events
	}
	if lam, err := strconv.ParseFloat(c.DefaultQuery("lam", "0"), 64); err == nil && lam > 0 {
		spec.Lam = lam
	}
	if seed, err := strconv.ParseUint(c.DefaultQuery("seed", ""), 10, 64); err == nil {
		spec.Seed = seed
	}

	problem, truth, err := demo.Generate(spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to generate demo problem", "details": err.Error()})
		return
	}

	payload := gin.H{
		"problem": problem,
		"truth":   truth,
	}

	if c.Query("solve") == "true" {
		solveSpec := models.SolveSpec{Backend: c.DefaultQuery("backend", "sa")}
		if reads, err := strconv.Atoi(c.DefaultQuery("numReads", "20")); err == nil && reads > 0 {
			solveSpec.NumReads = reads
		}
		result, err := unfold.Run(c.Request.Context(), h.registry, problem, solveSpec, nil)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Demo solve failed", "details": err.Error()})
			return
		}
		payload["result"] = result
	}

	c.JSON(http.StatusOK, payload)
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	queueDepth := 0
	if h.queue != nil {
		queueDepth = h.queue.Depth()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "operational",
		"engine":   "SpectrumLab Unfolding Engine v1.0",
		"backends": h.registry.List(),
		"capabilities": gin.H{
			"simulated_annealing": true,
			"hybrid_solver":       h.cloud != nil,
			"quantum_solver":      h.cloud != nil,
			"toy_errors":          true,
			"lambda_sweeps":       h.sweeper != nil,
			"shadow_mode":         true,
		},
		"queueDepth":     queueDepth,
		"dbConnected":    h.dbStore != nil,
		"cloudConnected": h.cloud != nil,
	})
}

// BroadcastBestLambda pushes sweep improvements to websocket clients.
// This is wired as the alertFunc callback for the sweep Runner.
func BroadcastBestLambda(wsHub *Hub) func(sweep.BestLambdaAlert) {
	return func(alert sweep.BestLambdaAlert) {
		payload := gin.H{
			"type":  "best_lambda",
			"alert": alert,
		}
		alertBytes, _ := json.Marshal(payload)
		wsHub.Broadcast(alertBytes)
		log.Printf("[ALERT] Sweep %s improved: lam=%.4g chi2=%.4g",
			alert.SweepID, alert.Lam, alert.Chi2)
	}
}

// BroadcastSweepPoint streams every scanned sweep point to websocket
// clients. Wired as the Runner's PointObserver.
func BroadcastSweepPoint(wsHub *Hub) func(string, models.SweepPoint, int64, int64) {
	return func(sweepID string, point models.SweepPoint, done, total int64) {
		payload := gin.H{
			"type":    "sweepProgress",
			"sweepId": sweepID,
			"done":    done,
			"total":   total,
			"point":   point,
		}
		pointBytes, _ := json.Marshal(payload)
		wsHub.Broadcast(pointBytes)
	}
}

// syncJobRecord wraps a synchronous solve in a finished job row.
func syncJobRecord(problem models.Problem, spec models.SolveSpec, result *models.UnfoldResult) models.Job {
	now := time.Now().UTC().Format(time.RFC3339)
	return models.Job{
		ID:          uuid.New().String(),
		Status:      models.JobDone,
		Backend:     result.Backend,
		Bins:        result.Bins,
		NumReads:    result.Reads,
		NumToys:     result.NumToys,
		Seed:        spec.Seed,
		Lam:         problem.Lam,
		SubmittedAt: now,
		StartedAt:   now,
		FinishedAt:  now,
		Result:      result,
	}
}

func paginate(list []models.Job, page, limit int) []models.Job {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(list) {
		return []models.Job{}
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
