// Package config validates the GUC-style options of spec.md §6, the way
// the teacher repo validates rebalancing options (rebalancing_options.go)
// before any write touches disk.
package config

import (
	"fmt"

	"github.com/ivfrabitq/vqidx/internal/errs"
)

// VectorOptions describe the column being indexed.
type VectorOptions struct {
	Dim      int
	Kind     string // "f32" or "f16"
	Distance string // "l2", "dot", "cosine"
}

// IndexingOptions is the build_threads/lists/etc table of spec.md §6.
type IndexingOptions struct {
	Lists                []uint32
	SphericalCentroids   bool
	SamplingFactor       uint32
	BuildThreads         uint16
	ResidualQuantization bool
	ExternalCentroidsTable string
}

// DefaultIndexingOptions mirrors spec.md §6's documented defaults.
func DefaultIndexingOptions() IndexingOptions {
	return IndexingOptions{
		SamplingFactor: 256,
		BuildThreads:   1,
	}
}

// SearchOptions is the per-scan probes/epsilon/max_scan_tuples table.
type SearchOptions struct {
	Probes        []uint32
	Epsilon       float32
	MaxScanTuples int32 // -1 disables
}

var (
	ErrInvalidDim          = fmt.Errorf("config: dim must be in [1,65535]")
	ErrInvalidLists        = fmt.Errorf("config: lists must be 0..7 strictly ascending entries in [1,2^24]")
	ErrInvalidSampling     = fmt.Errorf("config: sampling_factor must be in [1,1024]")
	ErrInvalidBuildThreads = fmt.Errorf("config: build_threads must be in [1,255]")
	ErrResidualNonL2       = fmt.Errorf("config: residual_quantization requires L2 distance")
	ErrProbeCountMismatch  = fmt.Errorf("config: probes length must equal height_of_root-1")
	ErrInvalidEpsilon      = fmt.Errorf("config: epsilon must be in [0,4]")
)

// Validate checks dim/kind/distance bounds (spec.md §3/§6).
func (v VectorOptions) Validate() error {
	if v.Dim < 1 || v.Dim > 65535 {
		return errs.Wrap("vector options", ErrInvalidDim)
	}
	switch v.Kind {
	case "f32", "f16":
	default:
		return errs.Wrap("vector options", fmt.Errorf("config: unknown vector kind %q", v.Kind))
	}
	switch v.Distance {
	case "l2", "dot", "cosine":
	default:
		return errs.Wrap("vector options", fmt.Errorf("config: unknown distance kind %q", v.Distance))
	}
	return nil
}

// Validate checks the build-time indexing options of spec.md §6.
func (o IndexingOptions) Validate(dist string) error {
	// len(Lists) > 7 would make HeightOfRoot() == len(Lists)+1 exceed the
	// spec.md:41 height_of_root ∈ [1,8] bound, so 7 is the real ceiling here,
	// not 8.
	if len(o.Lists) > 7 {
		return errs.Wrap("indexing options", ErrInvalidLists)
	}
	prev := uint32(0)
	for i, w := range o.Lists {
		if w < 1 || w > 1<<24 {
			return errs.Wrap("indexing options", ErrInvalidLists)
		}
		if i > 0 && w <= prev {
			return errs.Wrap("indexing options", ErrInvalidLists)
		}
		prev = w
	}
	if o.SamplingFactor < 1 || o.SamplingFactor > 1024 {
		return errs.Wrap("indexing options", ErrInvalidSampling)
	}
	if o.BuildThreads < 1 || o.BuildThreads > 255 {
		return errs.Wrap("indexing options", ErrInvalidBuildThreads)
	}
	if o.ResidualQuantization && dist != "l2" {
		return errs.Wrap("indexing options", ErrResidualNonL2)
	}
	return nil
}

// HeightOfRoot computes the tree height this IndexingOptions would build:
// one level per list width plus one extra root level, always, capped at 8
// (spec.md §8 scenario 6 "height cap").
func (o IndexingOptions) HeightOfRoot() int {
	// Build always appends one extra root level of width 1 on top of the
	// configured lists (see DESIGN.md's resolution of the lists/height
	// open question), so height_of_root == len(Lists)+1; an empty lists
	// degenerates to the single root level (spec.md §8 "lists=[] yields a
	// degenerate single-leaf index").
	h := len(o.Lists) + 1
	if h > 8 {
		h = 8
	}
	return h
}

// Validate checks probes/epsilon/max_scan_tuples against the tree's actual
// height (spec.md §6).
func (s SearchOptions) Validate(heightOfRoot int) error {
	if len(s.Probes) != heightOfRoot-1 {
		return errs.Wrap("search options", ErrProbeCountMismatch)
	}
	if s.Epsilon < 0 || s.Epsilon > 4 {
		return errs.Wrap("search options", ErrInvalidEpsilon)
	}
	return nil
}
