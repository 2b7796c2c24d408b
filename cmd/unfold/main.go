package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/spectrumlab/unfold-engine/internal/demo"
	"github.com/spectrumlab/unfold-engine/internal/dwave"
	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// unfold solves a single unfolding problem from the command line, without
// the HTTP engine. Reads a problem JSON (response matrix, measured counts,
// lam), solves it on the chosen backend and prints the result JSON.
func main() {
	// Load env (D-Wave credentials for the remote backends)
	_ = godotenv.Load(".env")

	var (
		input     = flag.String("input", "", "path to the problem JSON file")
		output    = flag.String("output", "", "path for the result JSON (default stdout)")
		backend   = flag.String("backend", "sa", "solver backend: sa, hybrid or quantum")
		reads     = flag.Int("reads", 100, "sampler restarts per solve")
		toys      = flag.Int("toys", 1, "toy ensemble size for error estimation")
		cores     = flag.Int("cores", 0, "toy workers (default: CPUs minus two)")
		lam       = flag.Float64("lam", -1, "regularization override (negative keeps the input's value)")
		seed      = flag.Int64("seed", 0, "sampler seed for reproducible runs")
		timeLimit = flag.Float64("timelimit", 0, "hybrid solver budget in seconds")
		runDemo   = flag.Bool("demo", false, "generate and solve a synthetic smeared spectrum")
	)
	flag.Parse()

	seeded := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seeded = true
		}
	})

	var problem models.Problem
	var truth []float64

	switch {
	case *runDemo:
		spec := demo.DefaultSpec()
		if *lam >= 0 {
			spec.Lam = *lam
		}
		if seeded {
			spec.Seed = uint64(*seed)
		}
		var err error
		problem, truth, err = demo.Generate(spec)
		if err != nil {
			log.Fatalf("Failed to generate demo problem: %v", err)
		}
		log.Printf("Generated synthetic problem: %d bins, lam=%g", len(problem.Measured), problem.Lam)
	case *input != "":
		raw, err := os.ReadFile(*input)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *input, err)
		}
		if err := json.Unmarshal(raw, &problem); err != nil {
			log.Fatalf("Failed to parse %s: %v", *input, err)
		}
		if *lam >= 0 {
			problem.Lam = *lam
		}
	default:
		fmt.Fprintln(os.Stderr, "unfold: either -input or -demo is required")
		flag.Usage()
		os.Exit(2)
	}

	registry := solver.NewRegistry()
	registry.Register(solver.NewSimulatedAnnealing())
	if cfg := dwave.ConfigFromEnv(); cfg.Configured() {
		client, err := dwave.NewClient(cfg)
		if err != nil {
			log.Printf("Warning: D-Wave cloud unavailable, remote backends disabled: %v", err)
		} else {
			registry.Register(solver.NewHybrid(client))
			registry.Register(solver.NewQuantumAnnealing(client))
		}
	}

	spec := models.SolveSpec{
		Backend:      *backend,
		NumReads:     *reads,
		NumToys:      *toys,
		NumCores:     *cores,
		TimeLimitSec: *timeLimit,
	}
	if seeded {
		spec.Seed = seed
	}

	progress := func(done, total int) {
		step := total / 10
		if step < 1 {
			step = 1
		}
		if done%step == 0 || done == total {
			log.Printf("Toys: %d/%d", done, total)
		}
	}

	result, err := unfold.Run(context.Background(), registry, problem, spec, progress)
	if err != nil {
		log.Fatalf("Solve failed: %v", err)
	}

	payload := any(result)
	if *runDemo {
		payload = map[string]any{
			"problem": problem,
			"truth":   truth,
			"result":  result,
		}
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	out = append(out, '\n')

	if *output == "" {
		if _, err := os.Stdout.Write(out); err != nil {
			log.Fatalf("Failed to write result: %v", err)
		}
		return
	}
	if err := os.WriteFile(*output, out, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *output, err)
	}
	log.Printf("Result written to %s", *output)
}
