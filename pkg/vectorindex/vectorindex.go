// Package vectorindex is the public index-access interface of spec.md §6:
// build, insert, bulkdelete, maintain, search and prewarm, wired against the
// layered internal implementation the way the teacher's file.go composes
// internal/core, internal/structures and internal/writer into hdf5.File.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivfrabitq/vqidx/internal/barrier"
	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/errs"
	"github.com/ivfrabitq/vqidx/internal/ivf"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/search"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

// Heap is the host interface the core consumes (spec.md §6 "Host interface
// the core consumes"): a full scan of every live row, each carrying an
// optional extra int32 datum alongside its vector.
type Heap interface {
	Traverse(ctx context.Context, yield func(payload uint64, extra *int32, vector []float32) bool) error
}

// Row is one in-memory heap row, used by the in-process MapHeap below and
// by cmd/vqidx's CSV loader.
type Row struct {
	Payload uint64
	Extra   *int32
	Vector  []float32
}

// MapHeap is the simplest Heap: a fixed in-memory row set, useful for tests
// and for the cmd/vqidx local-file driver.
type MapHeap []Row

func (h MapHeap) Traverse(_ context.Context, yield func(uint64, *int32, []float32) bool) error {
	for _, r := range h {
		if !yield(r.Payload, r.Extra, r.Vector) {
			return nil
		}
	}
	return nil
}

// Index is the opened, runnable index: an IVF tree plus the relation it
// lives in (spec.md §6 "On-disk layout": a single file of 8192-byte pages).
type Index struct {
	ID   uuid.UUID
	rel  *page.Relation
	tree *ivf.Tree
}

// Sphere mirrors internal/search.Sphere for callers that only import this
// package.
type Sphere = search.Sphere

// Result mirrors internal/search.Result for callers that only import this
// package.
type Result = search.Result

// Build samples heap rows, constructs the IVF tree, then inserts every live
// row (spec.md §6 "build(vector_options, indexing_options, heap, relation,
// reporter)"). Per original_source's build(), tree construction and row
// population are two separate passes: see DESIGN.md's "build() does not loop
// over heap rows" entry.
func Build(ctx context.Context, relPath string, vo config.VectorOptions, io config.IndexingOptions, heap Heap, reporter telemetry.Reporter) (*Index, error) {
	rel, err := page.Open(relPath)
	if err != nil {
		return nil, err
	}

	maxSamples := uint32(1024)
	if len(io.Lists) > 0 {
		maxSamples = io.Lists[len(io.Lists)-1] * io.SamplingFactor
	}
	sampler := func(yield func([]float32) bool) {
		count := uint32(0)
		_ = heap.Traverse(ctx, func(_ uint64, _ *int32, v []float32) bool {
			if count >= maxSamples {
				return false
			}
			count++
			return yield(v)
		})
	}

	tree, err := ivf.Build(ctx, rel, vo, io, sampler, reporter)
	if err != nil {
		_ = rel.Close()
		return nil, err
	}

	idx := &Index{ID: uuid.New(), rel: rel, tree: tree}

	var rows []Row
	if err := heap.Traverse(ctx, func(payload uint64, _ *int32, v []float32) bool {
		rows = append(rows, Row{Payload: payload, Vector: v})
		return true
	}); err != nil {
		_ = rel.Close()
		return nil, err
	}

	if err := insertRowsParallel(ctx, tree, rows, int(io.BuildThreads)); err != nil {
		_ = rel.Close()
		return nil, err
	}

	telemetry.Logger.WithField("index_id", idx.ID).Info("build: index ready")
	return idx, nil
}

// insertRowsParallel fans rows out across threads workers and drives them
// through the three rendezvous points of spec.md:160 "Build may fan out
// worker processes... inserting/finished inserting/compacting done": each
// worker inserts its shard, all workers rendezvous at internal/barrier once
// every shard is placed, and exactly the last to leave the barrier runs the
// single compacting pass (ivf.Tree.Maintain) the rest don't need to repeat.
func insertRowsParallel(ctx context.Context, tree *ivf.Tree, rows []Row, threads int) error {
	if threads < 1 {
		threads = 1
	}
	if len(rows) == 0 {
		return nil
	}
	if threads > len(rows) {
		threads = len(rows)
	}

	shards := make([][]Row, threads)
	for i, r := range rows {
		shards[i%threads] = append(shards[i%threads], r)
	}

	cb := barrier.New(threads)
	g, _ := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			var insertErr error
			for _, r := range shard {
				if err := tree.Insert(r.Vector, r.Payload); err != nil {
					insertErr = err
					break
				}
			}
			// Every worker must still reach the barrier even on error, or
			// the workers that did succeed block at Enter() forever.
			cb.Enter() // arrive at "finished inserting"
			last := cb.Leave()
			if insertErr != nil {
				return insertErr
			}
			if last {
				return tree.Maintain() // "compacting done", run once
			}
			return nil
		})
	}
	return g.Wait()
}

// Open reopens an existing index file without rebuilding it.
func Open(relPath string) (*Index, error) {
	rel, err := page.Open(relPath)
	if err != nil {
		return nil, err
	}
	tree, err := ivf.Open(rel)
	if err != nil {
		_ = rel.Close()
		return nil, err
	}
	return &Index{ID: uuid.New(), rel: rel, tree: tree}, nil
}

// Close releases the index's backing relation file.
func (idx *Index) Close() error { return idx.rel.Close() }

// Insert adds one row (spec.md §6 "insert(opfamily, relation, payload,
// vector)").
func (idx *Index) Insert(vector []float32, payload uint64) error {
	return idx.tree.Insert(vector, payload)
}

// BulkDelete tombstones every row dead reports dead (spec.md §6
// "bulkdelete(opfamily, relation, check, callback)"). check is polled before
// the walk starts so a canceled vacuum never touches a page.
func (idx *Index) BulkDelete(check func() error, dead func(payload uint64) bool) error {
	if err := checkCancel(check); err != nil {
		return err
	}
	return idx.tree.BulkDelete(dead)
}

// Maintain compacts every leaf tape, sparse or not, and relinks parent
// pointers (spec.md §6 "maintain(opfamily, relation, check)"). A second call
// keeps the same live entries, but it again copies each leaf tape into a
// newly allocated page chain, so the file is not byte-identical afterwards.
func (idx *Index) Maintain(check func() error) error {
	if err := checkCancel(check); err != nil {
		return err
	}
	return idx.tree.Maintain()
}

// Search runs one query (spec.md §6 "search(...) -> Iterator<(f32, payload,
// recheck:bool)>"). See internal/search's DESIGN.md entry for why this
// returns a finished slice rather than a true iterator.
func (idx *Index) Search(query []float32, opts config.SearchOptions, sphere *Sphere, check func() error) ([]Result, error) {
	return search.Run(idx.tree, query, opts, sphere, check)
}

// Prewarm reads pages of the top height levels once, to pull them into the
// OS page cache, and returns a human-readable summary (spec.md §6
// "prewarm(...) -> String", supplemented per SPEC_FULL.md §6 with the
// original vchordrq prewarm's page-count-per-level report). At each level it
// reads one node's page chain only: the root's tape, then the tape named by
// the first tuple of the chain read at the level above. The other nodes'
// tapes are not read, and the per-level page counts cover that chain alone.
func (idx *Index) Prewarm(height int, check func() error) (string, error) {
	meta := idx.tree.Meta()
	if height <= 0 || height > int(meta.HeightOfRoot) {
		height = int(meta.HeightOfRoot)
	}

	levelPages := make([]int, height)
	head := meta.First
	for level := 0; level < height; level++ {
		if err := checkCancel(check); err != nil {
			return "", err
		}
		n, next, err := idx.walkAndCount(head, level == int(meta.HeightOfRoot)-1)
		if err != nil {
			return "", err
		}
		levelPages[level] = n
		head = next
	}

	summary := fmt.Sprintf("prewarm: index %s, height_of_root=%d, dims=%d, levels touched=%d\n",
		idx.ID, meta.HeightOfRoot, meta.Dims, height)
	total := 0
	for i, n := range levelPages {
		summary += fmt.Sprintf("  level %d: %d pages touched\n", i, n)
		total += n
	}
	summary += fmt.Sprintf("total pages warmed: %d (estimated cache-hit improvement on next scan: %d pages)\n", total, total)
	telemetry.Logger.WithField("index_id", idx.ID).WithField("pages_warmed", total).Info("prewarm: complete")
	return summary, nil
}

// walkAndCount reads every page of the tape at head (and, for internal
// levels, follows the first child's Mean/First pointer down one level so the
// next Prewarm iteration has a head to start from), returning the page count
// touched and the next level's starting head.
func (idx *Index) walkAndCount(head page.ID, isLeaf bool) (int, page.ID, error) {
	count := 0
	next := page.ID(page.None)
	cur := head
	for cur != page.None {
		g, err := idx.rel.Read(cur)
		if err != nil {
			return count, next, err
		}
		count++
		opq := g.Page().GetOpaque()
		if !isLeaf && next == page.None {
			if n, ok := firstChildHead(g.Page()); ok {
				next = n
			}
		}
		if err := g.Close(); err != nil {
			return count, next, err
		}
		if opq.Next == page.None {
			break
		}
		cur = opq.Next
	}
	return count, next, nil
}

// firstChildHead reads the first live tuple's First field off a HeightK
// tape page, used only to pick a representative next-level head for
// prewarm's page-count walk.
func firstChildHead(pg *page.Page) (page.ID, bool) {
	for s := 1; s <= pg.Len(); s++ {
		data, err := pg.Get(s)
		if err != nil || data == nil {
			continue
		}
		tup := ivf.DecodeHeightKTuple(data)
		return tup.First, true
	}
	return 0, false
}

func checkCancel(check func() error) error {
	if check == nil {
		return nil
	}
	if err := check(); err != nil {
		return errs.Wrap("vectorindex", err)
	}
	return nil
}
