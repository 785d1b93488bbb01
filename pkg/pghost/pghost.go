// Package pghost is a pkg/vectorindex.Heap backed by a Postgres table,
// standing in for "the host database" of spec.md §1/§6 (SPEC_FULL.md §6):
// a demonstration external collaborator, not an index access method ABI.
package pghost

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ivfrabitq/vqidx/internal/errs"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

// Heap scans rows of the form (payload bigint, extra integer, vector double
// precision[]) out of a Postgres table (spec.md §6 "HeapRelation: traverse
// (callback) yielding (payload, Option<extra:u32>, Vec<f32>) for every live
// row").
type Heap struct {
	db        *sql.DB
	table     string
	payloadCol string
	extraCol  string
	vectorCol string
}

// Config names the table and columns a Heap scans.
type Config struct {
	Table      string
	PayloadCol string // default "payload"
	ExtraCol   string // default "extra"
	VectorCol  string // default "vector"
}

// Open connects to a Postgres database via lib/pq and returns a Heap bound
// to cfg.Table.
func Open(dsn string, cfg Config) (*Heap, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap("pghost open", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.Wrap("pghost ping", err)
	}
	if cfg.PayloadCol == "" {
		cfg.PayloadCol = "payload"
	}
	if cfg.ExtraCol == "" {
		cfg.ExtraCol = "extra"
	}
	if cfg.VectorCol == "" {
		cfg.VectorCol = "vector"
	}
	return &Heap{db: db, table: cfg.Table, payloadCol: cfg.PayloadCol, extraCol: cfg.ExtraCol, vectorCol: cfg.VectorCol}, nil
}

// Close closes the underlying database connection.
func (h *Heap) Close() error { return h.db.Close() }

// Traverse implements vectorindex.Heap: a full ordered scan of every live
// row, yielding (payload, extra, vector) to callback until it returns false
// or the row set is exhausted.
func (h *Heap) Traverse(ctx context.Context, yield func(payload uint64, extra *int32, vector []float32) bool) error {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s", h.payloadCol, h.extraCol, h.vectorCol, h.table, h.payloadCol)
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return errs.Wrap("pghost traverse", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload uint64
		var extra sql.NullInt32
		var vec []float64
		if err := rows.Scan(&payload, &extra, pq.Array(&vec)); err != nil {
			return errs.Wrap("pghost scan row", err)
		}
		var extraPtr *int32
		if extra.Valid {
			v := extra.Int32
			extraPtr = &v
		}
		vector := make([]float32, len(vec))
		for i, x := range vec {
			vector[i] = float32(x)
		}
		if !yield(payload, extraPtr, vector) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap("pghost row iteration", err)
	}
	return nil
}

// ReadExternalCentroids reads pre-computed centroids with columns (id,
// parent, vector) from a host-named table via the same Postgres path used
// for the heap scan. Nothing in this module calls it: Build does not consult
// IndexingOptions.ExternalCentroidsTable and always clusters sampled vectors.
func ReadExternalCentroids(ctx context.Context, db *sql.DB, table string) ([]ExternalCentroid, error) {
	query := fmt.Sprintf("SELECT id, parent, vector FROM %s ORDER BY id", table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap("read external centroids", err)
	}
	defer rows.Close()

	var out []ExternalCentroid
	for rows.Next() {
		var c ExternalCentroid
		var parent sql.NullInt64
		var vec []float64
		if err := rows.Scan(&c.ID, &parent, pq.Array(&vec)); err != nil {
			return nil, errs.Wrap("scan external centroid", err)
		}
		if parent.Valid {
			p := parent.Int64
			c.Parent = &p
		}
		c.Vector = make([]float32, len(vec))
		for i, x := range vec {
			c.Vector[i] = float32(x)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap("external centroid row iteration", err)
	}
	telemetry.Logger.WithField("table", table).WithField("count", len(out)).Info("pghost: loaded external centroids")
	return out, nil
}

// ExternalCentroid is one row of the external_centroids.table option.
type ExternalCentroid struct {
	ID     int64
	Parent *int64
	Vector []float32
}
