// Package qubo turns a histogram unfolding problem into a binary quadratic
// model. The regularized least-squares objective over integer bin counts is
// expanded into per-bit biases and couplings that annealing-style samplers
// can minimize directly.
package qubo

import "fmt"

// Variable describes one truth bin's integer unknown x_i in [0, Upper],
// encoded as Bits binary digits.
type Variable struct {
	Label string // "x0", "x1", ...
	Upper int64  // largest encodable count
	Bits  int    // width of the binary expansion
}

// BitLabel returns the label of binary digit j (LSB first) of variable i.
func BitLabel(i, j int) string {
	return fmt.Sprintf("x%d[%d]", i, j)
}

// VarLabel returns the label of integer variable i.
func VarLabel(i int) string {
	return fmt.Sprintf("x%d", i)
}

// DimensionError reports a shape mismatch between the response matrix and a
// histogram vector. Raised at construction time, before any solver work.
type DimensionError struct {
	Op   string
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch: want %d, got %d", e.Op, e.Want, e.Got)
}

// DecodeError reports a sample that lacks a bit label the compiled model
// expects. This means the sample and the model were built from different
// formulations and the result cannot be trusted.
type DecodeError struct {
	Label string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: sample is missing bit label %q", e.Label)
}
