// Package unfold orchestrates the unfolding pipeline: formulation of the
// quadratic objective from a response matrix and a measured spectrum,
// compilation to a binary model, backend solves, decoding, and toy-based
// uncertainty estimation.
package unfold

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/spectrumlab/unfold-engine/internal/qubo"
	"github.com/spectrumlab/unfold-engine/internal/solver"
)

// Unfolder holds one unfolding formulation: the response matrix R, the
// measured spectrum d and the regularization strength. Initialize compiles
// the binary model; any setter invalidates it so bounds are always derived
// from the current inputs.
type Unfolder struct {
	response *mat.Dense
	measured []float64
	lam      float64

	model *qubo.BinaryModel
}

func New(response *mat.Dense, measured []float64, lam float64) *Unfolder {
	return &Unfolder{response: response, measured: measured, lam: lam}
}

// FromProblem builds an Unfolder from the wire form. The response rows must
// be rectangular; shape errors fail here rather than at formulation time.
func FromProblem(response [][]float64, measured []float64, lam float64) (*Unfolder, error) {
	rows := len(response)
	if rows == 0 || len(response[0]) == 0 {
		return nil, fmt.Errorf("problem: empty response matrix")
	}
	cols := len(response[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range response {
		if len(row) != cols {
			return nil, fmt.Errorf("problem: response row %d has %d entries, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return New(mat.NewDense(rows, cols, data), measured, lam), nil
}

// SetResponse replaces R and drops any compiled state.
func (u *Unfolder) SetResponse(response *mat.Dense) {
	u.response = response
	u.model = nil
}

// SetMeasured replaces d and drops any compiled state, since the variable
// bounds depend on it.
func (u *Unfolder) SetMeasured(measured []float64) {
	u.measured = measured
	u.model = nil
}

// SetLam replaces the regularization strength and drops any compiled state.
func (u *Unfolder) SetLam(lam float64) {
	u.lam = lam
	u.model = nil
}

func (u *Unfolder) Response() *mat.Dense { return u.response }
func (u *Unfolder) Measured() []float64  { return u.measured }
func (u *Unfolder) Lam() float64         { return u.lam }

// Bins returns the number of truth bins.
func (u *Unfolder) Bins() int {
	_, cols := u.response.Dims()
	return cols
}

// Initialize derives the expected counts and variable bounds from the
// current inputs, builds the objective and compiles it to a binary model.
// Must be called before Solve or EnergyOf; dimension problems fail here.
func (u *Unfolder) Initialize() error {
	expected, err := qubo.ExpectedCounts(u.response, u.measured)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	h, err := qubo.NewHamiltonian(u.response, u.measured, u.lam)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	m, err := qubo.Compile(h, qubo.EncodeVariables(expected))
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	u.model = m
	return nil
}

// Model returns the compiled binary model, initializing on first use.
func (u *Unfolder) Model() (*qubo.BinaryModel, error) {
	if u.model == nil {
		if err := u.Initialize(); err != nil {
			return nil, err
		}
	}
	return u.model, nil
}

// NumBits returns the total encoded bit count, or 0 before initialization.
func (u *Unfolder) NumBits() int {
	if u.model == nil {
		return 0
	}
	return u.model.NumBits()
}

// Solve runs the backend over the compiled model and decodes the best
// sample into the unfolded spectrum. The raw result travels back alongside
// the decoded solution so callers can report energy and read counts.
func (u *Unfolder) Solve(ctx context.Context, backend solver.Backend, opts solver.Options) ([]float64, solver.Result, error) {
	m, err := u.Model()
	if err != nil {
		return nil, solver.Result{}, err
	}

	res, err := backend.Solve(ctx, m, opts)
	if err != nil {
		return nil, solver.Result{}, fmt.Errorf("solve: %w", err)
	}

	solution, err := m.Decode(res.Sample)
	if err != nil {
		return nil, solver.Result{}, fmt.Errorf("decode: %w", err)
	}
	return solution, res, nil
}

// EnergyOf scores an arbitrary candidate histogram under the compiled
// objective. The candidate's bits are derived with the widths fixed at
// initialization, from the original measured spectrum, so scores stay
// comparable across candidates and toy variations.
func (u *Unfolder) EnergyOf(x []float64) (float64, error) {
	m, err := u.Model()
	if err != nil {
		return 0, err
	}
	sample, err := m.EncodeBits(x)
	if err != nil {
		return 0, fmt.Errorf("energy: %w", err)
	}
	e, err := m.Energy(sample)
	if err != nil {
		return 0, fmt.Errorf("energy: %w", err)
	}
	return e, nil
}
