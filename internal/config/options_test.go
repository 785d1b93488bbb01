package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorOptionsValidate(t *testing.T) {
	assert.NoError(t, VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}.Validate())
	assert.Error(t, VectorOptions{Dim: 0, Kind: "f32", Distance: "l2"}.Validate())
	assert.Error(t, VectorOptions{Dim: 65536, Kind: "f32", Distance: "l2"}.Validate())
	assert.Error(t, VectorOptions{Dim: 2, Kind: "bogus", Distance: "l2"}.Validate())
}

func TestIndexingOptionsValidateLists(t *testing.T) {
	o := DefaultIndexingOptions()
	o.Lists = []uint32{32, 1024}
	assert.NoError(t, o.Validate("l2"))

	bad := o
	bad.Lists = []uint32{1024, 32}
	assert.Error(t, bad.Validate("l2"))

	bad2 := o
	bad2.Lists = make([]uint32, 9)
	for i := range bad2.Lists {
		bad2.Lists[i] = uint32(i + 1)
	}
	assert.Error(t, bad2.Validate("l2"))

	// Boundary: 7 lists gives height_of_root=8, the spec.md:41 max, and must
	// pass; 8 lists would push height_of_root to 9 and must be rejected.
	atMax := o
	atMax.Lists = make([]uint32, 7)
	for i := range atMax.Lists {
		atMax.Lists[i] = uint32(i + 1)
	}
	assert.NoError(t, atMax.Validate("l2"))
	assert.Equal(t, 8, atMax.HeightOfRoot())

	overMax := o
	overMax.Lists = make([]uint32, 8)
	for i := range overMax.Lists {
		overMax.Lists[i] = uint32(i + 1)
	}
	assert.Error(t, overMax.Validate("l2"))
}

func TestResidualRequiresL2(t *testing.T) {
	o := DefaultIndexingOptions()
	o.ResidualQuantization = true
	assert.NoError(t, o.Validate("l2"))
	assert.Error(t, o.Validate("dot"))
}

func TestHeightOfRoot(t *testing.T) {
	o := DefaultIndexingOptions()
	assert.Equal(t, 1, o.HeightOfRoot())
	o.Lists = []uint32{32, 1024}
	assert.Equal(t, 3, o.HeightOfRoot())
}

func TestSearchOptionsValidate(t *testing.T) {
	s := SearchOptions{Probes: []uint32{1, 1}, Epsilon: 0.1, MaxScanTuples: -1}
	assert.NoError(t, s.Validate(3))
	assert.Error(t, s.Validate(2))
	assert.Error(t, s.Validate(4))

	bad := s
	bad.Epsilon = 5
	assert.Error(t, bad.Validate(3))
}
