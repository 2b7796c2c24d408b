package solver

import (
	"context"
	"fmt"

	"github.com/spectrumlab/unfold-engine/internal/dwave"
	"github.com/spectrumlab/unfold-engine/internal/qubo"
)

// QuantumAnnealing solves on annealer hardware. The request asks the server
// to embed the logical problem onto the working graph; NumReads sets the
// anneal count. Hardware draws are physical, so no seed exists to pass.
type QuantumAnnealing struct {
	client *dwave.Client
	solver string
}

func NewQuantumAnnealing(client *dwave.Client) *QuantumAnnealing {
	return &QuantumAnnealing{client: client, solver: client.Config().QPUSolver}
}

func (q *QuantumAnnealing) Name() string { return "quantum" }

func (q *QuantumAnnealing) Solve(ctx context.Context, m *qubo.BinaryModel, opts Options) (Result, error) {
	linear, quad := wireTerms(m)

	reads := opts.NumReads
	if reads <= 0 {
		reads = 100
	}
	params := dwave.Params{
		NumReads:   reads,
		AnswerMode: "histogram",
		AutoEmbed:  true,
	}

	id, err := q.client.SubmitQUBO(ctx, q.solver, linear, quad, params)
	if err != nil {
		return Result{}, fmt.Errorf("quantum: %w", err)
	}
	ans, err := q.client.AwaitAnswer(ctx, id)
	if err != nil {
		// Embedding failures surface here as FAILED problems; the message
		// travels with the error and nothing is retried.
		return Result{}, fmt.Errorf("quantum: %w", err)
	}

	got := ans.Reads
	if got <= 0 {
		got = reads
	}
	return Result{Sample: ans.Sample, Energy: ans.Energy, Reads: got}, nil
}
