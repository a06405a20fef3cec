package index

import (
	"math"
	"math/rand"
)

// Projection is a seeded Gaussian random projection from In to Out
// dimensions. Cosine geometry is approximately preserved
// (Johnson-Lindenstrauss); outputs are L2-normalized.
type Projection struct {
	In, Out int
	matrix  [][]float32
}

func NewProjection(in, out int, seed int64) *Projection {
	rng := rand.New(rand.NewSource(seed ^ int64(in)<<20 ^ int64(out)))
	scale := 1 / math.Sqrt(float64(out))
	m := make([][]float32, out)
	for i := range m {
		row := make([]float32, in)
		for j := range row {
			row[j] = float32(rng.NormFloat64() * scale)
		}
		m[i] = row
	}
	return &Projection{In: in, Out: out, matrix: m}
}

// Apply projects v, which must have length In.
func (p *Projection) Apply(v []float32) []float32 {
	out := make([]float64, p.Out)
	for i, row := range p.matrix {
		var s float64
		for j, x := range v {
			s += float64(row[j]) * float64(x)
		}
		out[i] = s
	}
	return normalize64(out)
}
