package solver

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/spectrumlab/unfold-engine/internal/qubo"
)

// SimulatedAnnealing is the in-process backend: independent annealing reads
// over the bit model, single-bit-flip Metropolis moves scored with the
// model's incremental deltas, geometric cooling between sweeps.
type SimulatedAnnealing struct {
	// Sweeps is the number of full passes over the bits per read.
	Sweeps int
	// Hot and Cold bound the temperature schedule. Zero values derive Hot
	// from the largest possible single-flip delta and freeze Cold well
	// below it.
	Hot, Cold float64
}

func NewSimulatedAnnealing() *SimulatedAnnealing {
	return &SimulatedAnnealing{Sweeps: 1000}
}

func (s *SimulatedAnnealing) Name() string { return "sa" }

// Solve runs opts.NumReads independent reads and returns the best sample
// across them. With a seed each read derives its own PCG stream from
// Options.Seed, so repeat calls reproduce the same sample; without one the
// streams start from the global generator and runs differ.
func (s *SimulatedAnnealing) Solve(ctx context.Context, m *qubo.BinaryModel, opts Options) (Result, error) {
	reads := opts.NumReads
	if reads <= 0 {
		reads = 1
	}
	sweeps := s.Sweeps
	if sweeps <= 0 {
		sweeps = 1000
	}

	var base uint64
	if opts.HasSeed {
		base = uint64(opts.Seed)
	} else {
		base = rand.Uint64()
	}

	hot := s.Hot
	if hot <= 0 {
		hot = maxFlipDelta(m)
	}
	cold := s.Cold
	if cold <= 0 {
		cold = hot * 1e-6
	}

	var best []int8
	bestEnergy := math.Inf(1)
	for read := 0; read < reads; read++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("sa: %w", err)
		}
		bits, energy := s.anneal(m, base+uint64(read), sweeps, hot, cold)
		if energy < bestEnergy {
			bestEnergy = energy
			best = bits
		}
	}

	return Result{Sample: m.SampleOf(best), Energy: bestEnergy, Reads: reads}, nil
}

// anneal is one read: random start, sweeps passes of Metropolis flips with a
// geometric temperature decay, tracking the best assignment seen.
func (s *SimulatedAnnealing) anneal(m *qubo.BinaryModel, seed uint64, sweeps int, hot, cold float64) ([]int8, float64) {
	rng := rand.New(rand.NewPCG(seed, seed^0xDEADBEEF))
	n := m.NumBits()

	bits := make([]int8, n)
	for k := range bits {
		bits[k] = int8(rng.IntN(2))
	}
	energy := m.EnergyBits(bits)

	best := make([]int8, n)
	copy(best, bits)
	bestEnergy := energy

	decay := 1.0
	if sweeps > 1 {
		decay = math.Pow(cold/hot, 1/float64(sweeps-1))
	}

	t := hot
	for sweep := 0; sweep < sweeps; sweep++ {
		for move := 0; move < n; move++ {
			k := rng.IntN(n)
			delta := m.FlipDelta(bits, k)
			if delta <= 0 || rng.Float64() < math.Exp(-delta/t) {
				bits[k] ^= 1
				energy += delta
				if energy < bestEnergy {
					bestEnergy = energy
					copy(best, bits)
				}
			}
		}
		t *= decay
	}

	// Re-score the best assignment from scratch so accumulated float error
	// from incremental deltas never leaks into the reported energy.
	return best, m.EnergyBits(best)
}

// maxFlipDelta bounds the energy change of any single flip: the starting
// temperature that makes every move plausible in the first sweep.
func maxFlipDelta(m *qubo.BinaryModel) float64 {
	maxDelta := 1.0
	for k := 0; k < m.NumBits(); k++ {
		d := math.Abs(m.LinearBias(k))
		for _, c := range m.Couplings(k) {
			d += math.Abs(c.Weight)
		}
		if d > maxDelta {
			maxDelta = d
		}
	}
	return maxDelta
}
