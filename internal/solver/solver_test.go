package solver

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/spectrumlab/unfold-engine/internal/qubo"
)

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Solve(ctx context.Context, m *qubo.BinaryModel, opts Options) (Result, error) {
	return Result{}, nil
}

func identityModel(t *testing.T, d []float64) *qubo.BinaryModel {
	t.Helper()
	n := len(d)
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	expected, err := qubo.ExpectedCounts(mat.NewDense(n, n, data), d)
	if err != nil {
		t.Fatalf("ExpectedCounts returned error: %v", err)
	}
	h, err := qubo.NewHamiltonian(mat.NewDense(n, n, data), d, 0)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}
	m, err := qubo.Compile(h, qubo.EncodeVariables(expected))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	return m
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubBackend{name: "sa"})
	r.Register(&stubBackend{name: "hybrid"})

	b, err := r.Get("sa")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if b.Name() != "sa" {
		t.Errorf("Expected backend sa. Got: %s", b.Name())
	}

	names := r.List()
	if len(names) != 2 || names[0] != "hybrid" || names[1] != "sa" {
		t.Errorf("Expected sorted list [hybrid sa]. Got: %v", names)
	}
}

func TestRegistry_UnknownBackend(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubBackend{name: "sa"})

	if _, err := r.Get("quantum"); err == nil {
		t.Error("Expected an error for an unregistered backend. Got: nil")
	}
}

func TestSimulatedAnnealing_SeededRunsReproduce(t *testing.T) {
	// Two solves with the same seed must walk identical chains and land on
	// the identical sample.
	m := identityModel(t, []float64{10, 20, 30, 40})
	sa := NewSimulatedAnnealing()
	opts := Options{NumReads: 5, Seed: 12345, HasSeed: true}

	first, err := sa.Solve(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	second, err := sa.Solve(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	if first.Energy != second.Energy {
		t.Errorf("Expected identical energies for the same seed. Got: %v and %v", first.Energy, second.Energy)
	}
	for label, bit := range first.Sample {
		if second.Sample[label] != bit {
			t.Errorf("Expected identical samples for the same seed. Bit %s differs: %d vs %d", label, bit, second.Sample[label])
		}
	}
}

func TestSimulatedAnnealing_RecoversIdentitySpectrum(t *testing.T) {
	// With an identity response and no regularization the global minimum
	// sits exactly at the measured histogram, energy -|d|^2 = -3000.
	d := []float64{10, 20, 30, 40}
	m := identityModel(t, d)
	sa := NewSimulatedAnnealing()

	res, err := sa.Solve(context.Background(), m, Options{NumReads: 100, Seed: 7, HasSeed: true})
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	solution, err := m.Decode(res.Sample)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	for i, want := range d {
		if solution[i] != want {
			t.Errorf("Expected solution %v. Got: %v", d, solution)
			break
		}
	}
	if math.Abs(res.Energy-(-3000)) > 1e-9 {
		t.Errorf("Expected energy -3000 at the recovered spectrum. Got: %v", res.Energy)
	}
	if res.Reads != 100 {
		t.Errorf("Expected 100 reads reported. Got: %d", res.Reads)
	}
}

func TestSimulatedAnnealing_EnergyConsistentWithSample(t *testing.T) {
	// The reported energy must be exactly the model's score of the
	// returned sample, whatever the anneal found.
	m := identityModel(t, []float64{6, 11})
	sa := NewSimulatedAnnealing()

	res, err := sa.Solve(context.Background(), m, Options{NumReads: 3, Seed: 99, HasSeed: true})
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	scored, err := m.Energy(res.Sample)
	if err != nil {
		t.Fatalf("Energy returned error: %v", err)
	}
	if math.Abs(scored-res.Energy) > 1e-9 {
		t.Errorf("Expected reported energy %v to match model score. Got score: %v", res.Energy, scored)
	}
}

func TestSimulatedAnnealing_CancelledContext(t *testing.T) {
	m := identityModel(t, []float64{6, 11})
	sa := NewSimulatedAnnealing()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sa.Solve(ctx, m, Options{NumReads: 10}); err == nil {
		t.Error("Expected an error from a cancelled context. Got: nil")
	}
}

func TestSimulatedAnnealing_DefaultsToOneRead(t *testing.T) {
	m := identityModel(t, []float64{6, 11})
	sa := NewSimulatedAnnealing()

	res, err := sa.Solve(context.Background(), m, Options{})
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if res.Reads != 1 {
		t.Errorf("Expected a single read by default. Got: %d", res.Reads)
	}
}
