package unfold

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/spectrumlab/unfold-engine/internal/solver"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

func testRegistry() *solver.Registry {
	reg := solver.NewRegistry()
	reg.Register(solver.NewSimulatedAnnealing())
	return reg
}

func TestRun_CompleteRequest(t *testing.T) {
	seed := int64(7)
	problem := models.Problem{
		Response: [][]float64{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
			{0, 0, 0, 1},
		},
		Measured: []float64{10, 20, 30, 40},
		Lam:      0,
	}
	spec := models.SolveSpec{Backend: "sa", NumReads: 100, Seed: &seed}

	res, err := Run(context.Background(), testRegistry(), problem, spec, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []float64{10, 20, 30, 40}
	for i, w := range want {
		if res.Solution[i] != w {
			t.Errorf("Expected solution %v. Got: %v", want, res.Solution)
			break
		}
	}
	if res.Backend != "sa" {
		t.Errorf("Expected backend sa. Got: %q", res.Backend)
	}
	if res.Bins != 4 || res.NumToys != 1 || res.Reads != 100 {
		t.Errorf("Expected bins=4 toys=1 reads=100. Got: %+v", res)
	}
	if len(res.StatError) != 4 {
		t.Errorf("Expected 4 per-bin errors. Got: %d", len(res.StatError))
	}
	if res.Covariance != nil {
		t.Error("Expected no covariance for a single-toy run")
	}
	if res.SolveMs < 0 {
		t.Errorf("Expected a non-negative solve time. Got: %v", res.SolveMs)
	}
}

func TestRun_DefaultsToLocalAnnealer(t *testing.T) {
	problem := models.Problem{
		Response: [][]float64{{1, 0}, {0, 1}},
		Measured: []float64{6, 11},
	}

	res, err := Run(context.Background(), testRegistry(), problem, models.SolveSpec{NumReads: 50}, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Backend != "sa" {
		t.Errorf("Expected the empty backend name to select sa. Got: %q", res.Backend)
	}
}

func TestRun_UnknownBackendFailsBeforeSolving(t *testing.T) {
	problem := models.Problem{
		Response: [][]float64{{1, 0}, {0, 1}},
		Measured: []float64{6, 11},
	}

	_, err := Run(context.Background(), testRegistry(), problem, models.SolveSpec{Backend: "qpu-42"}, nil)
	if err == nil {
		t.Error("Expected an error for an unknown backend. Got: nil")
	}
}

func TestRun_ToyEnsembleFillsMatrices(t *testing.T) {
	problem := models.Problem{
		Response: [][]float64{{1, 0}, {0, 1}},
		Measured: []float64{40, 60},
	}
	spec := models.SolveSpec{Backend: "sa", NumReads: 20, NumToys: 8, NumCores: 2}

	var reported atomic.Int64
	res, err := Run(context.Background(), testRegistry(), problem, spec, func(done, total int) { reported.Store(int64(total)) })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if res.NumToys != 8 {
		t.Errorf("Expected 8 toys. Got: %d", res.NumToys)
	}
	if len(res.Covariance) != 2 || len(res.Correlation) != 2 {
		t.Errorf("Expected 2x2 matrices. Got: %dx, %dx", len(res.Covariance), len(res.Correlation))
	}
	if reported.Load() != 8 {
		t.Errorf("Expected progress callbacks with total 8. Got: %d", reported.Load())
	}
}
