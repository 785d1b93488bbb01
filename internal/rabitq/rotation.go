// Package rabitq implements the RaBitQ 1-bit quantization codec of
// spec.md §4.3: a fixed random orthogonal rotation per dimension, a 1-bit
// code with four scalar factors, packed groups of 32 codes, and the
// query-side u8 quantization used to produce a cheap lower-bound distance
// estimator.
package rabitq

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Matrix is a d x d orthogonal rotation, stored row-major.
type Matrix struct {
	Dim  int
	Rows [][]float32
}

// Project computes R*v.
func (m *Matrix) Project(v []float32) []float32 {
	out := make([]float32, m.Dim)
	for i, row := range m.Rows {
		var sum float32
		for j, x := range row {
			sum += x * v[j]
		}
		out[i] = sum
	}
	return out
}

// ProjectInv computes R^T*v, the inverse of Project since R is orthogonal.
func (m *Matrix) ProjectInv(v []float32) []float32 {
	out := make([]float32, m.Dim)
	for i := range out {
		var sum float32
		for j, row := range m.Rows {
			sum += row[i] * v[j]
		}
		out[i] = sum
	}
	return out
}

var rotationCache sync.Map // dim int -> *Matrix, initialize-once per dimension (spec.md §5)

// RotationFor returns the process-wide cached rotation matrix for dim,
// building it deterministically (same seed every time) on first use. It is
// never mutated after construction, so it may be read by concurrent
// goroutines without locking (spec.md §5 "immutable for its lifetime").
func RotationFor(dim int) *Matrix {
	if v, ok := rotationCache.Load(dim); ok {
		return v.(*Matrix)
	}
	m := buildRotation(dim)
	actual, _ := rotationCache.LoadOrStore(dim, m)
	return actual.(*Matrix)
}

// buildRotation builds a d x d orthogonal matrix from a fixed seed via
// Gram-Schmidt orthogonalization of a Gaussian random matrix. The seed is
// derived purely from dim, so the same dimension always yields the same
// rotation across processes (spec.md §8 "build determinism").
func buildRotation(dim int) *Matrix {
	src := rand.NewPCG(uint64(dim)*0x9E3779B97F4A7C15+1, uint64(dim)+1)
	rng := rand.New(src)

	rows := make([][]float64, dim)
	for i := range rows {
		rows[i] = make([]float64, dim)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	for i := 0; i < dim; i++ {
		for k := 0; k < i; k++ {
			dot := dotF64(rows[i], rows[k])
			for j := 0; j < dim; j++ {
				rows[i][j] -= dot * rows[k][j]
			}
		}
		norm := math.Sqrt(dotF64(rows[i], rows[i]))
		if norm < 1e-12 {
			norm = 1
		}
		for j := 0; j < dim; j++ {
			rows[i][j] /= norm
		}
	}

	out := make([][]float32, dim)
	for i := range rows {
		out[i] = make([]float32, dim)
		for j := range rows[i] {
			out[i][j] = float32(rows[i][j])
		}
	}
	return &Matrix{Dim: dim, Rows: out}
}

func dotF64(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
