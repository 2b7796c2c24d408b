package demo

import (
	"testing"

	"github.com/spectrumlab/unfold-engine/internal/unfold"
)

func TestGenerate_ResponseColumnsAreEfficiencies(t *testing.T) {
	spec := DefaultSpec()
	spec.Seed = 42

	problem, truth, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if len(problem.Response) != spec.Bins || len(problem.Measured) != spec.Bins || len(truth) != spec.Bins {
		t.Fatalf("Expected %d-bin outputs. Got: response %d, measured %d, truth %d",
			spec.Bins, len(problem.Response), len(problem.Measured), len(truth))
	}

	// Normalized columns are per-bin detection probabilities: non-negative,
	// summing to at most 1 (events can smear out of range).
	for j := 0; j < spec.Bins; j++ {
		var sum float64
		for i := 0; i < spec.Bins; i++ {
			v := problem.Response[i][j]
			if v < 0 {
				t.Fatalf("Expected non-negative response entries. Got %v at (%d,%d)", v, i, j)
			}
			sum += v
		}
		if sum > 1+1e-9 {
			t.Errorf("Expected column %d efficiency at most 1. Got: %v", j, sum)
		}
	}
}

func TestGenerate_SpectraCarryCounts(t *testing.T) {
	spec := DefaultSpec()
	spec.Seed = 42

	problem, truth, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	var measuredTotal, truthTotal float64
	for j := range truth {
		if problem.Measured[j] < 0 || truth[j] < 0 {
			t.Fatal("Expected non-negative counts")
		}
		measuredTotal += problem.Measured[j]
		truthTotal += truth[j]
	}
	// The central bulk of a N(0, 2.6) sample lands inside [-8, 8].
	if truthTotal < float64(spec.Events)/2 {
		t.Errorf("Expected most truth events in range. Got: %v of %d", truthTotal, spec.Events)
	}
	if measuredTotal == 0 {
		t.Error("Expected a populated measured spectrum")
	}
}

func TestGenerate_SeededRunsReproduce(t *testing.T) {
	spec := DefaultSpec()
	spec.Seed = 1234

	first, firstTruth, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	second, secondTruth, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	for j := range firstTruth {
		if firstTruth[j] != secondTruth[j] || first.Measured[j] != second.Measured[j] {
			t.Fatalf("Expected identical samples for the same seed at bin %d", j)
		}
	}
}

func TestGenerate_ProblemFormulates(t *testing.T) {
	spec := DefaultSpec()
	spec.Seed = 7
	spec.Bins = 8
	spec.Events = 5000

	problem, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	u, err := unfold.FromProblem(problem.Response, problem.Measured, problem.Lam)
	if err != nil {
		t.Fatalf("FromProblem returned error: %v", err)
	}
	if err := u.Initialize(); err != nil {
		t.Fatalf("Expected the generated problem to compile. Got: %v", err)
	}
	if u.NumBits() == 0 {
		t.Error("Expected a non-empty binary model")
	}
}

func TestGenerate_RejectsDegenerateSpecs(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Spec)
	}{
		{"single bin", func(s *Spec) { s.Bins = 1 }},
		{"inverted range", func(s *Spec) { s.Min, s.Max = 8, -8 }},
		{"no events", func(s *Spec) { s.Events = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := DefaultSpec()
			tt.mod(&spec)
			if _, _, err := Generate(spec); err == nil {
				t.Error("Expected an error. Got: nil")
			}
		})
	}
}
