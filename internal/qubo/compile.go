package qubo

import (
	"fmt"
	"math"
)

// Coupling is one quadratic term incident to a bit: flipping the bit changes
// the energy by Weight when the partner bit is set.
type Coupling struct {
	Bit    int
	Weight float64
}

// BinaryModel is the bit-level form of the unfolding objective. Each integer
// variable x_i is expanded as x_i = sum_j 2^j * b_ij, turning the quadratic
// expression over integers into per-bit linear biases and pairwise couplings.
// The model owns the only mapping from bit labels back to integer values, so
// decoding a sample and scoring a candidate both go through here.
type BinaryModel struct {
	vars      []Variable
	varLabels []string
	bitLabels []string
	bitIndex  map[string]int
	varOffset []int // index of variable i's LSB in the bit arrays

	linear    []float64
	pairs     []pairTerm
	neighbors [][]Coupling
}

type pairTerm struct {
	a, b   int
	weight float64
}

// Compile expands the integer Hamiltonian into a binary quadratic model over
// the encoded variables. The coupling from substituting x_i*x_j collects both
// (i,j) and (j,i) contributions, so each unordered bit pair carries a single
// combined weight. Fails if the coefficient shapes do not match the variable
// count.
func Compile(h *Hamiltonian, vars []Variable) (*BinaryModel, error) {
	n := len(vars)
	if len(h.A) != n {
		return nil, &DimensionError{Op: "compile: linear coefficients vs variables", Want: n, Got: len(h.A)}
	}
	if r, c := h.B.Dims(); r != n || c != n {
		return nil, &DimensionError{Op: "compile: quadratic coefficients vs variables", Want: n, Got: r}
	}

	m := &BinaryModel{
		vars:      vars,
		varLabels: make([]string, n),
		varOffset: make([]int, n),
	}
	total := 0
	for i, v := range vars {
		m.varLabels[i] = v.Label
		m.varOffset[i] = total
		total += v.Bits
	}
	m.bitLabels = make([]string, total)
	m.bitIndex = make(map[string]int, total)
	m.linear = make([]float64, total)
	for i, v := range vars {
		for j := 0; j < v.Bits; j++ {
			k := m.varOffset[i] + j
			label := BitLabel(i, j)
			m.bitLabels[k] = label
			m.bitIndex[label] = k
		}
	}

	// Linear part: a_i * x_i contributes a_i * 2^j to bit (i,j).
	for i, v := range vars {
		for j := 0; j < v.Bits; j++ {
			m.linear[m.varOffset[i]+j] += h.A[i] * pow2(j)
		}
	}

	// Quadratic part: B_ij * x_i * x_j expanded bit by bit. Diagonal terms
	// use b^2 = b to fold same-bit products into the linear biases.
	quad := make(map[[2]int]float64)
	for i, vi := range vars {
		bii := h.B.At(i, i)
		if bii != 0 {
			for k := 0; k < vi.Bits; k++ {
				m.linear[m.varOffset[i]+k] += bii * pow2(2*k)
			}
			for k := 0; k < vi.Bits; k++ {
				for l := k + 1; l < vi.Bits; l++ {
					addQuad(quad, m.varOffset[i]+k, m.varOffset[i]+l, 2*bii*pow2(k+l))
				}
			}
		}
		for j := i + 1; j < len(vars); j++ {
			w := h.B.At(i, j) + h.B.At(j, i)
			if w == 0 {
				continue
			}
			for k := 0; k < vi.Bits; k++ {
				for l := 0; l < vars[j].Bits; l++ {
					addQuad(quad, m.varOffset[i]+k, m.varOffset[j]+l, w*pow2(k+l))
				}
			}
		}
	}

	m.pairs = make([]pairTerm, 0, len(quad))
	m.neighbors = make([][]Coupling, total)
	for key, w := range quad {
		if w == 0 {
			continue
		}
		m.pairs = append(m.pairs, pairTerm{a: key[0], b: key[1], weight: w})
		m.neighbors[key[0]] = append(m.neighbors[key[0]], Coupling{Bit: key[1], Weight: w})
		m.neighbors[key[1]] = append(m.neighbors[key[1]], Coupling{Bit: key[0], Weight: w})
	}

	return m, nil
}

func addQuad(quad map[[2]int]float64, a, b int, w float64) {
	if a > b {
		a, b = b, a
	}
	quad[[2]int{a, b}] += w
}

func pow2(k int) float64 {
	return float64(int64(1) << uint(k))
}

// NumBits returns the total number of binary variables in the model.
func (m *BinaryModel) NumBits() int { return len(m.bitLabels) }

// NumVars returns the number of integer variables (histogram bins).
func (m *BinaryModel) NumVars() int { return len(m.vars) }

// VarLabels returns the integer-variable labels in bin order.
func (m *BinaryModel) VarLabels() []string { return m.varLabels }

// BitLabels returns the bit labels in internal index order.
func (m *BinaryModel) BitLabels() []string { return m.bitLabels }

// Variables returns the encoded variable descriptors in bin order.
func (m *BinaryModel) Variables() []Variable { return m.vars }

// LinearBias returns the linear coefficient of bit k.
func (m *BinaryModel) LinearBias(k int) float64 { return m.linear[k] }

// Couplings returns the quadratic terms incident to bit k. The slice is owned
// by the model and must not be modified.
func (m *BinaryModel) Couplings(k int) []Coupling { return m.neighbors[k] }

// EnergyBits evaluates the objective for a dense bit assignment in internal
// index order. Bits must use values 0 and 1.
func (m *BinaryModel) EnergyBits(bits []int8) float64 {
	var e float64
	for k, b := range bits {
		if b != 0 {
			e += m.linear[k]
		}
	}
	for _, p := range m.pairs {
		if bits[p.a] != 0 && bits[p.b] != 0 {
			e += p.weight
		}
	}
	return e
}

// FlipDelta returns the energy change from flipping bit k in the given
// assignment. Used by samplers for incremental moves without re-evaluating
// the full objective.
func (m *BinaryModel) FlipDelta(bits []int8, k int) float64 {
	delta := m.linear[k]
	for _, c := range m.neighbors[k] {
		if bits[c.Bit] != 0 {
			delta += c.Weight
		}
	}
	if bits[k] != 0 {
		return -delta
	}
	return delta
}

// SampleOf converts a dense bit assignment into the labeled sample form used
// by the solve contract.
func (m *BinaryModel) SampleOf(bits []int8) map[string]int {
	sample := make(map[string]int, len(bits))
	for k, b := range bits {
		sample[m.bitLabels[k]] = int(b)
	}
	return sample
}

// Energy evaluates the objective for a labeled sample. Every bit label of the
// model must be present; a missing label means the sample was produced for a
// different compilation.
func (m *BinaryModel) Energy(sample map[string]int) (float64, error) {
	bits := make([]int8, len(m.bitLabels))
	for k, label := range m.bitLabels {
		v, ok := sample[label]
		if !ok {
			return 0, &DecodeError{Label: label}
		}
		if v != 0 {
			bits[k] = 1
		}
	}
	return m.EnergyBits(bits), nil
}

// Decode recovers the integer value of every variable from a labeled sample,
// returned as a histogram vector in bin order.
func (m *BinaryModel) Decode(sample map[string]int) ([]float64, error) {
	solution := make([]float64, len(m.vars))
	for i, v := range m.vars {
		var val int64
		for j := 0; j < v.Bits; j++ {
			bit, ok := sample[BitLabel(i, j)]
			if !ok {
				return nil, &DecodeError{Label: BitLabel(i, j)}
			}
			if bit != 0 {
				val += int64(1) << uint(j)
			}
		}
		solution[i] = float64(val)
	}
	return solution, nil
}

// EncodeBits expands a candidate histogram into the model's bit labels using
// the bit widths fixed at compile time. Values are truncated to integer
// counts; each must be finite, non-negative and within its variable's range.
func (m *BinaryModel) EncodeBits(x []float64) (map[string]int, error) {
	if len(x) != len(m.vars) {
		return nil, &DimensionError{Op: "encode: candidate length vs variables", Want: len(m.vars), Got: len(x)}
	}
	sample := make(map[string]int, len(m.bitLabels))
	for i, v := range m.vars {
		if x[i] < 0 || math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return nil, fmt.Errorf("encode: bin %d value %v is not a finite non-negative count", i, x[i])
		}
		val := int64(x[i])
		if val > v.Upper {
			return nil, fmt.Errorf("encode: bin %d value %d exceeds encodable upper bound %d", i, val, v.Upper)
		}
		for j := 0; j < v.Bits; j++ {
			sample[BitLabel(i, j)] = int((val >> uint(j)) & 1)
		}
	}
	return sample, nil
}
