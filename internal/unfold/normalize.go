package unfold

import "gonum.org/v1/gonum/mat"

// NormalizeResponse divides each column of a raw event-count response by
// the generated truth count of that bin, turning entries into per-bin
// migration efficiencies. Empty truth bins are left as raw counts, since no
// probability can be derived from an unpopulated bin.
func NormalizeResponse(response *mat.Dense, truthMC []float64) *mat.Dense {
	rows, cols := response.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		var norm float64
		if j < len(truthMC) {
			norm = truthMC[j]
		}
		for i := 0; i < rows; i++ {
			v := response.At(i, j)
			if norm > 0 {
				v /= norm
			}
			out.Set(i, j, v)
		}
	}
	return out
}
