package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
	"github.com/ivfrabitq/vqidx/pkg/vectorindex"
)

var (
	buildRelPath string
	buildCSVPath string
	buildDSN     string
	buildTable   string
	buildDim     int
	buildKind    string
	buildDist    string
	buildLists   []uint
	buildSampling uint32
	buildThreads  uint16
	buildResidual bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Sample, cluster and populate a new index file",
	RunE:  runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildRelPath, "relation", "", "path to the index file to create (required)")
	f.StringVar(&buildCSVPath, "csv", "", "CSV file of rows: payload,v1,v2,...")
	f.StringVar(&buildDSN, "dsn", "", "Postgres DSN to read rows from instead of --csv")
	f.StringVar(&buildTable, "table", "", "Postgres table name (with --dsn)")
	f.IntVar(&buildDim, "dim", 0, "vector dimensionality (required)")
	f.StringVar(&buildKind, "kind", "f32", "vector kind: f32 or f16")
	f.StringVar(&buildDist, "distance", "l2", "distance: l2, dot, or cosine")
	f.UintSliceVar(&buildLists, "lists", nil, "level widths bottom-up, e.g. 100,10")
	f.Uint32Var(&buildSampling, "sampling-factor", 256, "samples per list")
	f.Uint16Var(&buildThreads, "build-threads", 1, "k-means worker count")
	f.BoolVar(&buildResidual, "residual-quantization", false, "encode v-centroid at leaves (L2 only)")
	_ = buildCmd.MarkFlagRequired("relation")
	_ = buildCmd.MarkFlagRequired("dim")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := ctxOrBackground(cmd)
	heap, closeHeap, err := openHeap(ctx, buildCSVPath, buildDSN, buildTable)
	if err != nil {
		return err
	}
	defer closeHeap()

	vo := config.VectorOptions{Dim: buildDim, Kind: buildKind, Distance: buildDist}
	lists := make([]uint32, len(buildLists))
	for i, w := range buildLists {
		lists[i] = uint32(w)
	}
	io := config.IndexingOptions{
		Lists:                lists,
		SamplingFactor:       buildSampling,
		BuildThreads:         buildThreads,
		ResidualQuantization: buildResidual,
	}

	idx, err := vectorindex.Build(ctx, buildRelPath, vo, io, heap, telemetry.LogReporter{})
	if err != nil {
		return err
	}
	defer idx.Close()

	fmt.Printf("build: wrote index %s at %s\n", idx.ID, buildRelPath)
	return nil
}

func ctxOrBackground(cmd *cobra.Command) context.Context {
	if cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
