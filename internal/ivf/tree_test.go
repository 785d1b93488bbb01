package ivf

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

func openRel(t *testing.T) *page.Relation {
	t.Helper()
	r, err := page.Open(filepath.Join(t.TempDir(), "ivf.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// scenario 1 of spec.md §8: dim=2, rows {(1,[0,0]), (2,[3,4]), (3,[10,0])}.
func buildTinyTree(t *testing.T, rel *page.Relation, residual bool) *Tree {
	t.Helper()
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{
		Lists:                []uint32{2},
		SamplingFactor:       256,
		BuildThreads:         1,
		ResidualQuantization: residual,
	}
	rows := [][]float32{{0, 0}, {3, 4}, {10, 0}}
	sampler := func(yield func([]float32) bool) {
		for _, r := range rows {
			if !yield(r) {
				return
			}
		}
	}
	tr, err := Build(context.Background(), rel, vo, io, sampler, telemetry.LogReporter{})
	require.NoError(t, err)
	require.Equal(t, 2, int(tr.Meta().HeightOfRoot))

	for i, r := range rows {
		require.NoError(t, tr.Insert(r, uint64(i+1)))
	}
	return tr
}

func TestBuildWritesReopenableMeta(t *testing.T) {
	rel := openRel(t)
	tr := buildTinyTree(t, rel, false)

	reopened, err := Open(rel)
	require.NoError(t, err)
	require.Equal(t, tr.Meta().Dims, reopened.Meta().Dims)
	require.Equal(t, tr.Meta().First, reopened.Meta().First)
}

func TestInsertThenBulkDeleteThenMaintain(t *testing.T) {
	rel := openRel(t)
	tr := buildTinyTree(t, rel, false)

	leafCount := 0
	require.NoError(t, tr.walkLeaves(func(head page.ID) error {
		leafCount++
		return nil
	}))
	require.Greater(t, leafCount, 0)

	require.NoError(t, tr.BulkDelete(func(payload uint64) bool { return payload == 2 }))
	require.NoError(t, tr.Maintain())

	// Maintain must be idempotent (spec.md §8).
	firstFirst := tr.Meta().First
	require.NoError(t, tr.Maintain())
	require.Equal(t, firstFirst, tr.Meta().First)
}

func TestDegenerateSingleLeafIndex(t *testing.T) {
	rel := openRel(t)
	vo := config.VectorOptions{Dim: 2, Kind: "f32", Distance: "l2"}
	io := config.IndexingOptions{SamplingFactor: 256, BuildThreads: 1}
	rows := [][]float32{{0, 0}, {1, 1}}
	sampler := func(yield func([]float32) bool) {
		for _, r := range rows {
			if !yield(r) {
				return
			}
		}
	}
	tr, err := Build(context.Background(), rel, vo, io, sampler, telemetry.LogReporter{})
	require.NoError(t, err)
	require.Equal(t, 1, int(tr.Meta().HeightOfRoot))
	require.NoError(t, tr.Insert([]float32{5, 5}, 99))
}
