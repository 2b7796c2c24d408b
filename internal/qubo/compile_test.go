package qubo

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// directEnergy evaluates the integer objective without any bit expansion,
// as the ground truth for the compiled model.
func directEnergy(h *Hamiltonian, x []float64) float64 {
	var e float64
	for i := range x {
		e += h.A[i] * x[i]
		for j := range x {
			e += h.B.At(i, j) * x[i] * x[j]
		}
	}
	return e
}

func buildModel(t *testing.T, r *mat.Dense, d []float64, lam float64) *BinaryModel {
	t.Helper()
	expected, err := ExpectedCounts(r, d)
	if err != nil {
		t.Fatalf("ExpectedCounts returned error: %v", err)
	}
	h, err := NewHamiltonian(r, d, lam)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}
	m, err := Compile(h, EncodeVariables(expected))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	return m
}

func TestCompile_IdentityScenario(t *testing.T) {
	// R = I(4), d = [10,20,30,40], lam = 0. Expected counts equal the
	// measured counts, so the bit widths are 4/5/6/6 (uppers 15/31/63/63)
	// and the truth assignment x = d scores -|d|^2 = -3000.
	r := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	d := []float64{10, 20, 30, 40}

	m := buildModel(t, r, d, 0)

	if m.NumVars() != 4 {
		t.Errorf("Expected 4 integer variables. Got: %d", m.NumVars())
	}
	if m.NumBits() != 21 {
		t.Errorf("Expected 21 bits (4+5+6+6). Got: %d", m.NumBits())
	}

	wantBits := []int{4, 5, 6, 6}
	for i, v := range m.Variables() {
		if v.Bits != wantBits[i] {
			t.Errorf("Expected variable %d to use %d bits. Got: %d", i, wantBits[i], v.Bits)
		}
	}

	sample, err := m.EncodeBits(d)
	if err != nil {
		t.Fatalf("EncodeBits returned error: %v", err)
	}
	e, err := m.Energy(sample)
	if err != nil {
		t.Fatalf("Energy returned error: %v", err)
	}
	if math.Abs(e-(-3000)) > 1e-9 {
		t.Errorf("Expected energy -3000 at the truth assignment. Got: %v", e)
	}
}

func TestCompile_ExhaustiveEnergyEquivalence(t *testing.T) {
	// Every one of the 128 bit assignments of a 7-bit model must score
	// exactly what the integer objective gives for its decoded histogram.
	r := mat.NewDense(2, 2, []float64{
		0.8, 0.2,
		0.2, 0.6,
	})
	d := []float64{4, 5}

	expected, err := ExpectedCounts(r, d)
	if err != nil {
		t.Fatalf("ExpectedCounts returned error: %v", err)
	}
	h, err := NewHamiltonian(r, d, 0.7)
	if err != nil {
		t.Fatalf("NewHamiltonian returned error: %v", err)
	}
	m, err := Compile(h, EncodeVariables(expected))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if m.NumBits() != 7 {
		t.Fatalf("Expected a 7-bit model (3+4). Got: %d bits", m.NumBits())
	}

	bits := make([]int8, m.NumBits())
	for pattern := 0; pattern < 1<<uint(m.NumBits()); pattern++ {
		for k := range bits {
			bits[k] = int8((pattern >> uint(k)) & 1)
		}

		x, err := m.Decode(m.SampleOf(bits))
		if err != nil {
			t.Fatalf("Decode returned error: %v", err)
		}

		got := m.EnergyBits(bits)
		want := directEnergy(h, x)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Pattern %d: expected energy %v for decoded %v. Got: %v", pattern, want, x, got)
		}
	}
}

func TestBinaryModel_FlipDeltaMatchesRecompute(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{
		0.8, 0.2,
		0.2, 0.6,
	})
	m := buildModel(t, r, []float64{4, 5}, 0.7)

	// Check every bit flip from a few representative assignments.
	patterns := []int{0, 1, 0b1010101, 0b1111111, 0b0110010}
	bits := make([]int8, m.NumBits())
	for _, pattern := range patterns {
		for k := range bits {
			bits[k] = int8((pattern >> uint(k)) & 1)
		}
		base := m.EnergyBits(bits)

		for k := 0; k < m.NumBits(); k++ {
			delta := m.FlipDelta(bits, k)

			bits[k] ^= 1
			flipped := m.EnergyBits(bits)
			bits[k] ^= 1

			if math.Abs((base+delta)-flipped) > 1e-9 {
				t.Errorf("Pattern %07b bit %d: expected delta %v. Got: %v", pattern, k, flipped-base, delta)
			}
		}
	}
}

func TestBinaryModel_BitLabelLayout(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	m := buildModel(t, r, []float64{3, 9}, 0)

	// expected=[3,9] gives 3 bits (upper 7) and 4 bits (upper 15). Labels
	// run LSB first within each variable.
	want := []string{"x0[0]", "x0[1]", "x0[2]", "x1[0]", "x1[1]", "x1[2]", "x1[3]"}
	labels := m.BitLabels()
	if len(labels) != len(want) {
		t.Fatalf("Expected %d bit labels. Got: %d", len(want), len(labels))
	}
	for k, w := range want {
		if labels[k] != w {
			t.Errorf("Expected label %q at bit %d. Got: %q", w, k, labels[k])
		}
	}

	if got := m.VarLabels(); got[0] != "x0" || got[1] != "x1" {
		t.Errorf("Expected variable labels [x0 x1]. Got: %v", got)
	}
}

func TestBinaryModel_DecodeRoundTrip(t *testing.T) {
	r := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	m := buildModel(t, r, []float64{10, 20, 30}, 0.1)

	candidates := [][]float64{
		{0, 0, 0},
		{10, 20, 30},
		{15, 31, 63},
		{1, 2, 3},
	}
	for _, x := range candidates {
		sample, err := m.EncodeBits(x)
		if err != nil {
			t.Fatalf("EncodeBits(%v) returned error: %v", x, err)
		}
		back, err := m.Decode(sample)
		if err != nil {
			t.Fatalf("Decode returned error: %v", err)
		}
		for i := range x {
			if back[i] != x[i] {
				t.Errorf("Expected round trip of %v. Got: %v", x, back)
				break
			}
		}
	}
}

func TestBinaryModel_MissingBitLabel(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	m := buildModel(t, r, []float64{3, 3}, 0)

	sample, err := m.EncodeBits([]float64{2, 2})
	if err != nil {
		t.Fatalf("EncodeBits returned error: %v", err)
	}
	delete(sample, "x1[0]")

	if _, err := m.Decode(sample); err == nil {
		t.Error("Expected Decode to fail on a missing bit label. Got: nil")
	} else {
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Errorf("Expected *DecodeError. Got: %T", err)
		}
	}

	if _, err := m.Energy(sample); err == nil {
		t.Error("Expected Energy to fail on a missing bit label. Got: nil")
	}
}

func TestBinaryModel_EncodeBitsRejectsBadCandidates(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	m := buildModel(t, r, []float64{3, 3}, 0)

	tests := []struct {
		name string
		x    []float64
	}{
		{"wrong length", []float64{1}},
		{"negative value", []float64{-1, 2}},
		{"above upper bound", []float64{8, 2}}, // upper for expected=3 is 7
		{"NaN", []float64{math.NaN(), 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.EncodeBits(tt.x); err == nil {
				t.Errorf("Expected EncodeBits(%v) to fail. Got: nil", tt.x)
			}
		})
	}
}
