// Package demo builds synthetic smeared-spectrum problems: a Gaussian truth
// distribution pushed through a Gaussian detector resolution, binned, with
// the response estimated from matched (reco, truth) sample pairs. Useful
// for exercising the engine without real detector input.
package demo

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/spectrumlab/unfold-engine/internal/unfold"
	"github.com/spectrumlab/unfold-engine/pkg/models"
)

// Spec describes the synthetic sample.
type Spec struct {
	Bins     int
	Min, Max float64
	Events   int
	// Truth spectrum parameters.
	Mean, Std float64
	// Detector resolution: each event is shifted by N(SmearMean, SmearStd).
	SmearMean, SmearStd float64
	// Regularization suggested for this problem.
	Lam float64
	// Seed fixes the generated sample; 0 draws a fresh stream.
	Seed uint64
}

// DefaultSpec mirrors the reference synthetic study: 16 bins over [-8,8],
// 40k events from N(0, 2.6) smeared by N(-0.3, 0.5).
func DefaultSpec() Spec {
	return Spec{
		Bins:      16,
		Min:       -8,
		Max:       8,
		Events:    40000,
		Mean:      0,
		Std:       2.6,
		SmearMean: -0.3,
		SmearStd:  0.5,
		Lam:       0.1,
	}
}

// Generate produces a ready-to-solve problem and the truth histogram it was
// drawn from, so callers can score unfolded spectra against truth.
func Generate(spec Spec) (models.Problem, []float64, error) {
	if spec.Bins < 2 {
		return models.Problem{}, nil, fmt.Errorf("demo: need at least 2 bins, got %d", spec.Bins)
	}
	if spec.Max <= spec.Min {
		return models.Problem{}, nil, fmt.Errorf("demo: empty bin range [%v, %v]", spec.Min, spec.Max)
	}
	if spec.Events <= 0 {
		return models.Problem{}, nil, fmt.Errorf("demo: need a positive event count, got %d", spec.Events)
	}

	seed := spec.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	src := rand.NewPCG(seed, seed^0xDEADBEEF)
	truthDist := distuv.Normal{Mu: spec.Mean, Sigma: spec.Std, Src: src}
	smearDist := distuv.Normal{Mu: spec.SmearMean, Sigma: spec.SmearStd, Src: src}

	// Response estimation sample: count (reco bin, truth bin) pairs and
	// normalize each column by the generated truth population.
	raw := mat.NewDense(spec.Bins, spec.Bins, nil)
	truthMC := make([]float64, spec.Bins)
	for e := 0; e < spec.Events; e++ {
		mcVal := truthDist.Rand()
		mcBin := binIndex(spec, mcVal)
		if mcBin < 0 {
			continue
		}
		truthMC[mcBin]++
		recoBin := binIndex(spec, mcVal+smearDist.Rand())
		if recoBin >= 0 {
			raw.Set(recoBin, mcBin, raw.At(recoBin, mcBin)+1)
		}
	}
	response := unfold.NormalizeResponse(raw, truthMC)

	// Independent pseudo-data sample for the spectra to unfold.
	truth := make([]float64, spec.Bins)
	smeared := make([]float64, spec.Bins)
	for e := 0; e < spec.Events; e++ {
		trueVal := truthDist.Rand()
		if b := binIndex(spec, trueVal); b >= 0 {
			truth[b]++
		}
		if b := binIndex(spec, trueVal+smearDist.Rand()); b >= 0 {
			smeared[b]++
		}
	}

	// Observed counts fluctuate around the smeared expectation.
	measured := make([]float64, spec.Bins)
	for j, rate := range smeared {
		if rate <= 0 {
			continue
		}
		measured[j] = distuv.Poisson{Lambda: rate, Src: src}.Rand()
	}

	problem := models.Problem{
		Response: denseToSlices(response),
		Measured: measured,
		Lam:      spec.Lam,
	}
	return problem, truth, nil
}

// binIndex places a value on the spec's uniform binning, or -1 when it
// falls outside the range.
func binIndex(spec Spec, v float64) int {
	if v < spec.Min || v >= spec.Max {
		return -1
	}
	width := (spec.Max - spec.Min) / float64(spec.Bins)
	idx := int((v - spec.Min) / width)
	if idx >= spec.Bins {
		idx = spec.Bins - 1
	}
	return idx
}

func denseToSlices(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j := range row {
			row[j] = m.At(i, j)
		}
		out[i] = row
	}
	return out
}
