// Package search implements the L5 search pipeline of spec.md §4.5: a
// beam search down the IVF tree with epsilon relaxation, packed-group
// estimator evaluation at the leaves, and an exact rerank of every leaf
// candidate against full-precision vectors.
package search

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/errs"
	"github.com/ivfrabitq/vqidx/internal/floating"
	"github.com/ivfrabitq/vqidx/internal/ivf"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/rabitq"
	"github.com/ivfrabitq/vqidx/internal/tape"
)

// ErrCanceled is returned when the caller's check() callback unwinds
// (spec.md §5 "Cancellation").
var ErrCanceled = errors.New("search: canceled")

// ErrCorruptMask is returned when a live mask bit references a vector tuple
// that cannot be read back (spec.md §4.5 "an inconsistency between a code's
// mask bit and a reachable VectorTuple is fatal").
var ErrCorruptMask = errors.New("search: mask bit references unreadable vector")

// Sphere is an optional radius filter on output distance (spec.md §4.5).
type Sphere struct {
	Center []float32
	Radius float32
}

// Result is one emitted match. Recheck is set whenever the sphere filter
// was combined with ordering, so the host must recheck the radius itself
// (spec.md §4.5 "the sphere becomes a filter and recheck is set").
type Result struct {
	Dist    float32
	Payload uint64
	Recheck bool
}

type frontierNode struct {
	head page.ID      // HeightK tape at intermediate levels, leaf tape at the bottom
	mean tape.Pointer // owning node's own centroid pointer, for residual subtraction
}

type beamCandidate struct {
	tuple    *ivf.HeightKTuple
	estLower float32
}

type leafCandidate struct {
	mean     tape.Pointer
	payload  uint64
	estLower float32
}

// Run executes one search call end to end (spec.md §4.5): beam search with
// epsilon relaxation, leaf estimator evaluation, and exact-distance rerank.
// It returns every surviving result ordered by exact distance ascending,
// already honoring sphere/max_scan_tuples and the check() callback; see
// DESIGN.md for why this is eager rather than interleaved with the caller's
// next() calls.
func Run(tr *ivf.Tree, query []float32, opts config.SearchOptions, sphere *Sphere, check func() error) ([]Result, error) {
	meta := tr.Meta()
	if err := opts.Validate(int(meta.HeightOfRoot)); err != nil {
		return nil, err
	}
	if len(query) != int(meta.Dims) {
		return nil, errs.Wrap("search", errors.New("search: query dims mismatch index"))
	}
	if meta.Distance == floating.Cosine {
		// Cosine compares normalized vectors (spec.md §9); centroids and
		// stored vectors are normalized at write time, so the query must be
		// too for both the estimator and the exact rerank to agree.
		query = floating.Normalize(query)
	}

	var globalQC *rabitq.QueryCode
	var globalNormSq float32
	if !meta.IsResidual {
		globalQC = rabitq.EncodeQuery(query)
		globalNormSq = sumSquares(query)
	}

	hops := int(meta.HeightOfRoot) - 1
	frontier := []frontierNode{{head: meta.First, mean: meta.Mean}}

	for level := 0; level < hops; level++ {
		if err := checkCancel(check); err != nil {
			return nil, err
		}
		var gathered []beamCandidate
		for _, f := range frontier {
			qc, qNormSq, err := localQuery(tr, meta, query, f.mean, globalQC, globalNormSq)
			if err != nil {
				return nil, err
			}
			nodes, err := evalHeightKTape(tr, f.head, meta, qc, qNormSq)
			if err != nil {
				return nil, err
			}
			gathered = append(gathered, nodes...)
		}
		probeWidth := 1
		if level < len(opts.Probes) {
			probeWidth = int(opts.Probes[level])
		}
		kept := selectBestBeam(gathered, probeWidth, opts.Epsilon)
		frontier = frontier[:0]
		for _, k := range kept {
			frontier = append(frontier, frontierNode{head: k.tuple.First, mean: k.tuple.Mean})
		}
		if len(frontier) == 0 {
			return nil, nil
		}
	}

	var candidates []leafCandidate
	scanned := 0
	for _, f := range frontier {
		if err := checkCancel(check); err != nil {
			return nil, err
		}
		qc, qNormSq, err := localQuery(tr, meta, query, f.mean, globalQC, globalNormSq)
		if err != nil {
			return nil, err
		}
		leafCands, err := evalLeafTape(tr, f.head, meta, qc, qNormSq)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, leafCands...)
		scanned += len(leafCands)
		if opts.MaxScanTuples >= 0 && scanned >= int(opts.MaxScanTuples) {
			break
		}
	}
	if opts.MaxScanTuples >= 0 && len(candidates) > int(opts.MaxScanTuples) {
		candidates = candidates[:int(opts.MaxScanTuples)]
	}

	return rerank(tr, meta, candidates, query, sphere, check)
}

// localQuery returns the query representation to score against codes stored
// under owner (spec.md §4.5 "if residual_quantization is on, leaf estimators
// are against q - centroid(leaf)"); non-residual indexes always score
// against the raw query.
func localQuery(tr *ivf.Tree, meta *ivf.MetaTuple, query []float32, owner tape.Pointer, globalQC *rabitq.QueryCode, globalNormSq float32) (*rabitq.QueryCode, float32, error) {
	if !meta.IsResidual {
		return globalQC, globalNormSq, nil
	}
	centroid, _, err := ivf.ReadVector(tr.Vectors(), owner)
	if err != nil {
		return nil, 0, err
	}
	adjusted := floating.Sub(query, centroid)
	return rabitq.EncodeQuery(adjusted), sumSquares(adjusted), nil
}

func checkCancel(check func() error) error {
	if check == nil {
		return nil
	}
	if err := check(); err != nil {
		return errs.Wrap("search", ErrCanceled)
	}
	return nil
}

func sumSquares(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x * x
	}
	return s
}

func estimate(meta *ivf.MetaTuple, qc *rabitq.QueryCode, qNormSq float32, c *rabitq.Code) rabitq.EstimateBounds {
	group := rabitq.Pack([32]*rabitq.Code{c}, c.Dim)
	switch meta.Distance {
	case floating.L2:
		return rabitq.EstimateL2(0, group, qc, c, qNormSq)
	default:
		return rabitq.EstimateDot(0, group, qc, c)
	}
}

func evalHeightKTape(tr *ivf.Tree, head page.ID, meta *ivf.MetaTuple, qc *rabitq.QueryCode, qNormSq float32) ([]beamCandidate, error) {
	kt := tape.Open(tr.Rel(), head)
	var out []beamCandidate
	walkErr := kt.Each(func(_ tape.Pointer, data []byte) bool {
		tup := ivf.DecodeHeightKTuple(data)
		code := tup.Code(int(meta.Dims))
		bounds := estimate(meta, qc, qNormSq, code)
		out = append(out, beamCandidate{tuple: tup, estLower: bounds.Lower()})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// evalLeafTape evaluates every live slot of every Height0 tuple on head's
// tape in one pass per tuple against its pre-packed group (spec.md §4.5 step
// 3 "evaluate estimators in packed groups of 32, one SIMD call per Height0
// tuple").
func evalLeafTape(tr *ivf.Tree, head page.ID, meta *ivf.MetaTuple, qc *rabitq.QueryCode, qNormSq float32) ([]leafCandidate, error) {
	lt := tape.Open(tr.Rel(), head)
	var out []leafCandidate
	walkErr := lt.Each(func(_ tape.Pointer, data []byte) bool {
		h := ivf.DecodeHeight0Tuple(data)
		for i := 0; i < 32; i++ {
			if !h.Mask[i] {
				continue
			}
			code := h.Code(i)
			var bounds rabitq.EstimateBounds
			if meta.Distance == floating.L2 {
				bounds = rabitq.EstimateL2(i, h.Packed, qc, code, qNormSq)
			} else {
				bounds = rabitq.EstimateDot(i, h.Packed, qc, code)
			}
			out = append(out, leafCandidate{mean: h.Mean[i], payload: h.Payload[i], estLower: bounds.Lower()})
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// selectBestBeam keeps the probes-best entries plus any within epsilon of
// the probes-th best's lower bound (spec.md §4.5 step 2 epsilon relaxation),
// ties broken by insertion order (spec.md §9 open question resolution).
func selectBestBeam(nodes []beamCandidate, probes int, epsilon float32) []beamCandidate {
	if probes <= 0 {
		probes = 1
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].estLower < nodes[j].estLower })
	if len(nodes) <= probes {
		return nodes
	}
	threshold := nodes[probes-1].estLower
	cut := probes
	for cut < len(nodes) && nodes[cut].estLower <= threshold+epsilon {
		cut++
	}
	return nodes[:cut]
}

// rerankHeap is a max-heap over candidates' *exact* distance, so its root is
// always the current worst kept result (spec.md §4.5 step 4). It has no size
// bound: every reranked candidate stays in it.
type rerankHeap []rerankedItem

type rerankedItem struct {
	dist    float32
	payload uint64
}

func (h rerankHeap) Len() int            { return len(h) }
func (h rerankHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h rerankHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rerankHeap) Push(x interface{}) { *h = append(*h, x.(rerankedItem)) }
func (h *rerankHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// rerank computes the exact distance of every leaf candidate and returns all
// of them, sorted by that distance. Nothing is evicted and no candidate is
// dropped on its estimator lower bound before the exact distance is taken;
// the heap serves the final sort and dedup, not memory bounding.
func rerank(tr *ivf.Tree, meta *ivf.MetaTuple, candidates []leafCandidate, query []float32, sphere *Sphere, check func() error) ([]Result, error) {
	h := &rerankHeap{}
	heap.Init(h)
	// Dedup by (mean, payload), not payload alone — spec.md §3 states
	// explicitly that payload uniqueness is not required, so two distinct
	// leaf slots carrying the same payload must both be scored and
	// returned. The (mean, payload) pair is only collapsed when it's the
	// exact same slot seen twice (e.g. overlapping beam frontiers).
	type seenKey struct {
		mean    tape.Pointer
		payload uint64
	}
	seen := make(map[seenKey]bool, len(candidates))
	for _, c := range candidates {
		if err := checkCancel(check); err != nil {
			return nil, err
		}
		key := seenKey{mean: c.mean, payload: c.payload}
		if seen[key] {
			continue
		}
		seen[key] = true
		vec, _, err := ivf.ReadVector(tr.Vectors(), c.mean)
		if err != nil {
			return nil, errs.Wrap("search rerank", ErrCorruptMask)
		}
		dist := meta.Distance.Eval(query, vec)
		heap.Push(h, rerankedItem{dist: dist, payload: c.payload})
	}

	items := make([]rerankedItem, h.Len())
	copy(items, *h)
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })

	var results []Result
	for _, it := range items {
		recheck := false
		if sphere != nil {
			if it.dist >= sphere.Radius {
				continue
			}
			recheck = true
		}
		results = append(results, Result{Dist: it.dist, Payload: it.payload, Recheck: recheck})
	}
	return results, nil
}
