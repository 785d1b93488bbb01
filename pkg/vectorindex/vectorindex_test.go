package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

func tinyHeap() MapHeap {
	return MapHeap{
		{Payload: 1, Vector: []float32{0, 0}},
		{Payload: 2, Vector: []float32{3, 4}},
		{Payload: 3, Vector: []float32{10, 0}},
	}
}

func TestBuildInsertSearchRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{Lists: []uint32{2}, SamplingFactor: 256, BuildThreads: 1}

	idx, err := Build(context.Background(), path, vo, io, tinyHeap(), telemetry.LogReporter{})
	require.NoError(t, err)
	defer idx.Close()

	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	results, err := idx.Search([]float32{9, 0}, opts, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(3), results[0].Payload)
}

func TestBulkDeleteThenMaintainThenSearchExcludesDead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{Lists: []uint32{2}, SamplingFactor: 256, BuildThreads: 1}

	idx, err := Build(context.Background(), path, vo, io, tinyHeap(), telemetry.LogReporter{})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.BulkDelete(nil, func(payload uint64) bool { return payload == 3 }))
	require.NoError(t, idx.Maintain(nil))

	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	results, err := idx.Search([]float32{9, 0}, opts, nil, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, uint64(3), r.Payload)
	}
}

func TestPrewarmReturnsSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{Lists: []uint32{2}, SamplingFactor: 256, BuildThreads: 1}

	idx, err := Build(context.Background(), path, vo, io, tinyHeap(), telemetry.LogReporter{})
	require.NoError(t, err)
	defer idx.Close()

	summary, err := idx.Prewarm(0, nil)
	require.NoError(t, err)
	require.Contains(t, summary, "prewarm")
	require.Contains(t, summary, "total pages warmed")
}

// build_threads > 1 drives insertRowsParallel's worker fan-out through
// internal/barrier's three rendezvous points; every row must still land and
// be searchable afterward (spec.md:160).
func TestBuildWithMultipleThreadsInsertsEveryRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{Lists: []uint32{2}, SamplingFactor: 256, BuildThreads: 4}

	heap := make(MapHeap, 0, 20)
	for i := uint64(1); i <= 20; i++ {
		heap = append(heap, Row{Payload: i, Vector: []float32{float32(i), 0}})
	}

	idx, err := Build(context.Background(), path, vo, io, heap, telemetry.LogReporter{})
	require.NoError(t, err)
	defer idx.Close()

	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 4.0, MaxScanTuples: -1}
	results, err := idx.Search([]float32{20, 0}, opts, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 20)
	require.Equal(t, uint64(20), results[0].Payload)
}

func TestOpenReopensBuiltIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{Lists: []uint32{2}, SamplingFactor: 256, BuildThreads: 1}

	idx, err := Build(context.Background(), path, vo, io, tinyHeap(), telemetry.LogReporter{})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	opts := config.SearchOptions{Probes: []uint32{2}, Epsilon: 1.0, MaxScanTuples: -1}
	results, err := reopened.Search([]float32{0, 0}, opts, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(1), results[0].Payload)
}
