package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/spectrumlab/unfold-engine/internal/api"
	"github.com/spectrumlab/unfold-engine/internal/db"
	"github.com/spectrumlab/unfold-engine/internal/dwave"
	"github.com/spectrumlab/unfold-engine/internal/jobs"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/sweep"
)

func main() {
	// Load env
	_ = godotenv.Load(".env")

	log.Println("Starting SpectrumLab Unfolding Engine (Microservice: qubo-unfold-analytics)...")

	// ─── Environment Variables ──────────────────────────────────────────
	// Credentials come from environment variables only. Use a .env file
	// for local development: cp .env.example .env && edit .env
	// The engine degrades gracefully: no database means memory-only job
	// history, no D-Wave token means the local annealer alone.
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL == "" {
		log.Println("Warning: DATABASE_URL is not set, running without persistence.")
	} else {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting results. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	// The local annealer is always available; the D-Wave backends join
	// the registry only when the cloud client comes up.
	registry := solver.NewRegistry()
	registry.Register(solver.NewSimulatedAnnealing())

	var cloud *dwave.Client
	if cfg := dwave.ConfigFromEnv(); !cfg.Configured() {
		log.Println("DWAVE_API_TOKEN is not set, remote backends disabled.")
	} else {
		client, err := dwave.NewClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to connect to D-Wave cloud, remote backends disabled. Error: %v", err)
		} else {
			cloud = client
			registry.Register(solver.NewHybrid(cloud))
			registry.Register(solver.NewQuantumAnnealing(cloud))
		}
	}
	log.Printf("Solver backends available: %v", registry.List())

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Job queue with its single background worker
	queueSize := 32
	if v, err := strconv.Atoi(os.Getenv("JOB_QUEUE_SIZE")); err == nil && v > 0 {
		queueSize = v
	}
	queue := jobs.NewQueue(registry, dbConn, wsHub, queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	// Sweep runner with real-time point and best-lambda broadcasting
	sweeper := sweep.NewRunner(dbConn, api.BroadcastBestLambda(wsHub))
	sweeper.PointObserver = api.BroadcastSweepPoint(wsHub)

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, registry, cloud, wsHub, queue, sweeper)

	port := getEnvOrDefault("PORT", "5340")

	// Start the server
	log.Printf("Engine running on :%s (API Node: qubo-unfold-analytics)\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
