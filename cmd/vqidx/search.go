package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/pkg/vectorindex"
)

var (
	searchRelPath  string
	searchProbes   []uint
	searchEpsilon  float32
	searchMaxScan  int32
	searchSphereR  float32
	searchHasSphere bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query vector components...]",
	Short: "Run one nearest-neighbor search against an index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchRelPath, "relation", "", "path to the index file (required)")
	f.UintSliceVar(&searchProbes, "probes", nil, "per-level beam width, length must equal height_of_root-1")
	f.Float32Var(&searchEpsilon, "epsilon", 1.0, "slack on the pruning bound, [0,4]")
	f.Int32Var(&searchMaxScan, "max-scan-tuples", -1, "cap on leaf tuples scanned, -1 disables")
	f.Float32Var(&searchSphereR, "sphere-radius", 0, "optional radius filter, centered on the query")
	f.BoolVar(&searchHasSphere, "sphere", false, "enable the sphere-radius filter")
	_ = searchCmd.MarkFlagRequired("relation")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := make([]float32, len(args))
	for i, s := range args {
		x, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return fmt.Errorf("vqidx: query component %q: %w", s, err)
		}
		query[i] = float32(x)
	}

	idx, err := vectorindex.Open(searchRelPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	probes := make([]uint32, len(searchProbes))
	for i, w := range searchProbes {
		probes[i] = uint32(w)
	}
	opts := config.SearchOptions{Probes: probes, Epsilon: searchEpsilon, MaxScanTuples: searchMaxScan}

	var sphere *vectorindex.Sphere
	if searchHasSphere {
		sphere = &vectorindex.Sphere{Center: query, Radius: searchSphereR}
	}

	results, err := idx.Search(query, opts, sphere, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%d\t%f\t%v\n", r.Payload, r.Dist, r.Recheck)
	}
	return nil
}
