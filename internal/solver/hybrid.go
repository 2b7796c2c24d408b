package solver

import (
	"context"
	"fmt"

	"github.com/spectrumlab/unfold-engine/internal/dwave"
	"github.com/spectrumlab/unfold-engine/internal/qubo"
)

// Hybrid solves on the cloud's classical-quantum hybrid service. The service
// accepts a wall-clock time limit but no read count and no seed, so repeat
// calls may return different samples.
type Hybrid struct {
	client *dwave.Client
	solver string
}

func NewHybrid(client *dwave.Client) *Hybrid {
	return &Hybrid{client: client, solver: client.Config().HybridSolver}
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Solve(ctx context.Context, m *qubo.BinaryModel, opts Options) (Result, error) {
	linear, quad := wireTerms(m)

	var params dwave.Params
	if opts.TimeLimit > 0 {
		params.TimeLimitSec = opts.TimeLimit.Seconds()
	}

	id, err := h.client.SubmitQUBO(ctx, h.solver, linear, quad, params)
	if err != nil {
		return Result{}, fmt.Errorf("hybrid: %w", err)
	}
	ans, err := h.client.AwaitAnswer(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("hybrid: %w", err)
	}

	reads := ans.Reads
	if reads <= 0 {
		reads = 1
	}
	return Result{Sample: ans.Sample, Energy: ans.Energy, Reads: reads}, nil
}

// wireTerms flattens a compiled model into the cloud wire form: labeled
// linear biases plus one entry per unordered coupled bit pair.
func wireTerms(m *qubo.BinaryModel) (map[string]float64, []dwave.QuadTerm) {
	labels := m.BitLabels()
	linear := make(map[string]float64, len(labels))
	for k, label := range labels {
		linear[label] = m.LinearBias(k)
	}

	var quad []dwave.QuadTerm
	for k := range labels {
		for _, c := range m.Couplings(k) {
			if c.Bit <= k {
				continue
			}
			quad = append(quad, dwave.QuadTerm{U: labels[k], V: labels[c.Bit], Bias: c.Weight})
		}
	}
	return linear, quad
}
