package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/ivf"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

func openRel(t *testing.T) *page.Relation {
	t.Helper()
	r, err := page.Open(filepath.Join(t.TempDir(), "search.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// scenario 1 of spec.md §8: dim=2, rows {(1,[0,0]), (2,[3,4]), (3,[10,0])},
// lists=[2], queried for the nearest row to [9,0] which should be payload 3.
func buildTinyTree(t *testing.T, residual bool) *ivf.Tree {
	t.Helper()
	rel := openRel(t)
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{
		Lists:                []uint32{2},
		SamplingFactor:       256,
		BuildThreads:         1,
		ResidualQuantization: residual,
	}
	rows := map[uint64][]float32{1: {0, 0}, 2: {3, 4}, 3: {10, 0}}
	sampler := func(yield func([]float32) bool) {
		for _, v := range rows {
			if !yield(v) {
				return
			}
		}
	}
	tr, err := ivf.Build(context.Background(), rel, vo, io, sampler, telemetry.LogReporter{})
	require.NoError(t, err)
	for payload, v := range rows {
		require.NoError(t, tr.Insert(v, payload))
	}
	return tr
}

func TestRunFindsNearestRow(t *testing.T) {
	tr := buildTinyTree(t, false)
	opts := config.SearchOptions{
		Probes:        []uint32{2},
		Epsilon:       1.0,
		MaxScanTuples: -1,
	}
	results, err := Run(tr, []float32{9, 0}, opts, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(3), results[0].Payload)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i-1].Dist, results[i].Dist)
	}
}

func TestRunRejectsDimMismatch(t *testing.T) {
	tr := buildTinyTree(t, false)
	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	_, err := Run(tr, []float32{1, 2, 3}, opts, nil, nil)
	require.Error(t, err)
}

func TestRunRejectsProbeLengthMismatch(t *testing.T) {
	tr := buildTinyTree(t, false)
	opts := config.SearchOptions{Probes: []uint32{}, Epsilon: 1.0, MaxScanTuples: -1}
	_, err := Run(tr, []float32{9, 0}, opts, nil, nil)
	require.Error(t, err)
}

func TestRunHonorsSphereFilterAndSetsRecheck(t *testing.T) {
	tr := buildTinyTree(t, false)
	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	sphere := &Sphere{Center: []float32{9, 0}, Radius: 2}
	results, err := Run(tr, []float32{9, 0}, opts, sphere, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.Recheck)
		require.Less(t, r.Dist, sphere.Radius)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	tr := buildTinyTree(t, false)
	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	called := false
	check := func() error {
		called = true
		return ErrCanceled
	}
	_, err := Run(tr, []float32{9, 0}, opts, nil, check)
	require.Error(t, err)
	require.True(t, called)
}

// Duplicate payloads across distinct leaf slots must both survive rerank:
// spec.md §3 states payload uniqueness is not required.
func TestRunReturnsDuplicatePayloads(t *testing.T) {
	tr := buildTinyTree(t, false)
	require.NoError(t, tr.Insert([]float32{9, 2}, 3))

	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	results, err := Run(tr, []float32{9, 0}, opts, nil, nil)
	require.NoError(t, err)

	matches := 0
	dists := make(map[float32]bool)
	for _, r := range results {
		if r.Payload == 3 {
			matches++
			dists[r.Dist] = true
		}
	}
	require.Equal(t, 2, matches)
	require.Len(t, dists, 2)
}

func TestRunOnResidualIndex(t *testing.T) {
	tr := buildTinyTree(t, true)
	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	results, err := Run(tr, []float32{9, 0}, opts, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(3), results[0].Payload)
}
