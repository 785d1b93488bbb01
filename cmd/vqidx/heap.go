package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/ivfrabitq/vqidx/pkg/pghost"
	"github.com/ivfrabitq/vqidx/pkg/vectorindex"
)

// openHeap builds a vectorindex.Heap from either a CSV file (payload,v1,v2,...
// per row) or a Postgres table reached via dsn/table, matching this module's
// two concrete Heap implementations: vectorindex.MapHeap and pkg/pghost.
func openHeap(ctx context.Context, csvPath, dsn, table string) (vectorindex.Heap, func(), error) {
	switch {
	case dsn != "":
		if table == "" {
			return nil, nil, fmt.Errorf("vqidx: --table is required with --dsn")
		}
		h, err := pghost.Open(dsn, pghost.Config{Table: table})
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close() }, nil
	case csvPath != "":
		rows, err := readCSVHeap(csvPath)
		if err != nil {
			return nil, nil, err
		}
		return rows, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("vqidx: one of --csv or --dsn is required")
	}
}

func readCSVHeap(path string) (vectorindex.MapHeap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vqidx: open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	var rows vectorindex.MapHeap
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if len(record) < 2 {
			continue
		}
		payload, err := strconv.ParseUint(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vqidx: csv row payload %q: %w", record[0], err)
		}
		vec := make([]float32, len(record)-1)
		for i, s := range record[1:] {
			x, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("vqidx: csv row vector component %q: %w", s, err)
			}
			vec[i] = float32(x)
		}
		rows = append(rows, vectorindex.Row{Payload: payload, Vector: vec})
	}
	return rows, nil
}
