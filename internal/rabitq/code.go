package rabitq

import "math"

// Code is one vector's RaBitQ encoding: a 1-bit sign code plus the four
// scalar factors spec.md §4.3 lists.
type Code struct {
	Bits       []uint64 // ceil(dim/64) words, bit i set iff rotated[i] >= 0
	Dim        int
	DisU2      float32 // ||x||^2
	FactorPPC  float32 // pre-computed popcount-related scalar
	FactorIP   float32 // re-scaling factor for inner-product estimates
	FactorErr  float32 // upper bound on approximation error magnitude
}

// Bit reports whether bit i of the code is set.
func (c *Code) Bit(i int) bool {
	return c.Bits[i/64]&(1<<(uint(i)%64)) != 0
}

// Encode rotates v and produces its RaBitQ code. If residual is non-nil it
// is subtracted before rotation, implementing residual quantization
// (spec.md §4.3 "is_residual mode subtracts the parent centroid before
// encoding").
func Encode(v []float32, residual []float32) *Code {
	dim := len(v)
	src := v
	if residual != nil {
		src = make([]float32, dim)
		for i := range v {
			src[i] = v[i] - residual[i]
		}
	}
	rot := RotationFor(dim).Project(src)

	words := (dim + 63) / 64
	bits := make([]uint64, words)
	var normSq float64
	var popcount int
	for i, x := range rot {
		normSq += float64(x) * float64(x)
		if x >= 0 {
			bits[i/64] |= 1 << (uint(i) % 64)
			popcount++
		}
	}

	// factor_ppc and factor_ip follow RaBitQ's closed form for recovering
	// ip(x, c') from a {0,1} popcount-style dot product against a
	// {-1,+1}-normalized code c' = 2*bit-1: ip(x,c') = factor_ip*popcount +
	// factor_ppc, calibrated so that dotting the *exact* code against
	// itself reproduces ||x||.
	sumAll := float64(sumF32(rot))
	norm := math.Sqrt(normSq)
	var factorIP, factorPPC float32
	if norm > 1e-12 {
		factorIP = float32(2 * norm / math.Sqrt(float64(dim)))
		factorPPC = float32(-norm*sumAll/(norm*float64(dim)) - float64(factorIP)*float64(popcount))
	}
	factorErr := float32(norm * errorBound(dim))

	return &Code{
		Bits:      bits,
		Dim:       dim,
		DisU2:     float32(normSq),
		FactorPPC: factorPPC,
		FactorIP:  factorIP,
		FactorErr: factorErr,
	}
}

func sumF32(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x
	}
	return s
}

// errorBound is the RaBitQ per-dimension error scaling term
// (1/sqrt(dim-1)), clamped away from zero for dim=1.
func errorBound(dim int) float64 {
	if dim <= 1 {
		return 1
	}
	return 1 / math.Sqrt(float64(dim-1))
}

// Decode reconstructs an approximate rotated vector from the code (sign
// only, magnitude normalized to ||x||). Used only for diagnostics/tests;
// candidates are always reranked against the full-precision VectorTuple.
func (c *Code) Decode() []float32 {
	out := make([]float32, c.Dim)
	mag := float32(math.Sqrt(float64(c.DisU2) / float64(c.Dim)))
	for i := range out {
		if c.Bit(i) {
			out[i] = mag
		} else {
			out[i] = -mag
		}
	}
	return out
}
