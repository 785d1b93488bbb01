package ivf

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivfrabitq/vqidx/internal/config"
	"github.com/ivfrabitq/vqidx/internal/errs"
	"github.com/ivfrabitq/vqidx/internal/floating"
	"github.com/ivfrabitq/vqidx/internal/kmeans"
	"github.com/ivfrabitq/vqidx/internal/page"
	"github.com/ivfrabitq/vqidx/internal/rabitq"
	"github.com/ivfrabitq/vqidx/internal/tape"
	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

var (
	ErrDisconnected = errors.New("ivf: tree is disconnected or cyclic")
	ErrCorruptLeaf  = errors.New("ivf: leaf code references an unreachable vector tuple")
)

// Tree is the IVF partitioning tree of spec.md §4.4, transitively owning
// all centroid and leaf tapes through its MetaTuple (spec.md §3
// "Ownership").
type Tree struct {
	rel     *page.Relation
	meta    *MetaTuple
	vectors *tape.Tape
}

const (
	metaPage = 0
	metaSlot = 1
)

// Open reads the meta tuple and resumes the tree it describes.
func Open(rel *page.Relation) (*Tree, error) {
	g, err := rel.Read(metaPage)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	data, err := g.Page().Get(metaSlot)
	if err != nil {
		return nil, errs.Wrap("read meta tuple", err)
	}
	m := DecodeMetaTuple(data)
	return &Tree{rel: rel, meta: m, vectors: tape.Open(rel, m.VectorsFirst)}, nil
}

// Meta returns the tree's root metadata.
func (t *Tree) Meta() *MetaTuple { return t.meta }

// Rel exposes the underlying relation so the search pipeline can open
// HeightK and leaf tapes by page id without this package needing to know
// anything about estimators or beams.
func (t *Tree) Rel() *page.Relation { return t.rel }

// Vectors exposes the full-precision vector tape for rerank-time reads.
func (t *Tree) Vectors() *tape.Tape { return t.vectors }

// Sampler supplies build's "sample up to lists.last()*sampling_factor
// vectors from the host's scan" step (spec.md §4.4).
type Sampler func(yield func(vector []float32) bool)

// Build samples vectors, runs the bottom-up k-means hierarchy, and writes
// the centroid tree plus empty leaf tapes (spec.md §4.4 Build). It does not
// populate leaves — callers insert every heap row afterward the same way a
// later Insert call does.
func Build(ctx context.Context, rel *page.Relation, vo config.VectorOptions, io config.IndexingOptions, sample Sampler, reporter telemetry.Reporter) (*Tree, error) {
	if err := vo.Validate(); err != nil {
		return nil, err
	}
	if err := io.Validate(vo.Distance); err != nil {
		return nil, err
	}

	dist := distanceOf(vo.Distance)
	kind := kindOf(vo.Kind)
	isResidual := io.ResidualQuantization && dist.ResidualAllowed()

	maxSamples := uint32(1024)
	if len(io.Lists) > 0 {
		maxSamples = io.Lists[len(io.Lists)-1] * io.SamplingFactor
	}

	var samples [][]float32
	var total uint64
	sample(func(v []float32) bool {
		total++
		if uint32(len(samples)) < maxSamples {
			samples = append(samples, append([]float32(nil), v...))
		}
		return true
	})
	reporter.TuplesTotal(total)

	// Reserve page 0 for the meta tuple, created empty and filled in last
	// (spec.md §4.4 step 6 "Emit the MetaTuple last").
	metaTape, err := tape.Create(rel, false)
	if err != nil {
		return nil, err
	}
	if metaTape.Head() != metaPage {
		return nil, errs.Wrap("build", fmt.Errorf("ivf: expected meta tape at page 0, got %d", metaTape.Head()))
	}

	vectorsTape, err := tape.Create(rel, true)
	if err != nil {
		return nil, err
	}

	widths := append([]uint32(nil), io.Lists...)
	reverse(widths)
	widths = append(widths, 1) // root level, always width 1

	type level struct {
		means    [][]float32
		children [][]int
	}
	var levels []level
	for i, w := range widths {
		var source [][]float32
		if i == 0 {
			source = samples
		} else {
			source = levels[i-1].means
		}
		res, err := kmeans.Run(ctx, source, kmeans.Options{
			K:             int(w),
			Spherical:     io.SphericalCentroids,
			BuildThreads:  int(io.BuildThreads),
			MaxIterations: 10,
			Seed:          uint64(i) + 1,
		})
		if err != nil {
			return nil, err
		}
		means := filterEmpty(res)
		if dist == floating.Cosine {
			// Cosine distance is Dot of normalized vectors plus a +1 shift
			// (spec.md §9); normalizing centroids here keeps every later
			// encode/store/compare of this level's means consistent.
			for i, m := range means {
				means[i] = floating.Normalize(m)
			}
		}
		var children [][]int
		if i == 0 {
			children = make([][]int, len(means))
		} else {
			children = assignChildren(levels[i-1].means, means)
		}
		levels = append(levels, level{means: means, children: children})
	}

	// Write every level's centroid VectorTuples.
	pointerOfMeans := make([][]tape.Pointer, len(levels))
	for i, lv := range levels {
		pointerOfMeans[i] = make([]tape.Pointer, len(lv.means))
		for j, mean := range lv.means {
			ptr, err := WriteVector(vectorsTape, mean, kind, nil, VectorMeta{Norm: float32(floating.SquaredNorm(mean))})
			if err != nil {
				return nil, err
			}
			pointerOfMeans[i][j] = ptr
		}
	}

	// Write each level's children tape (leaf tapes at level 0, HeightK
	// tapes above), filling pointer_of_firsts bottom-up.
	pointerOfFirsts := make([][]uint32, len(levels))
	for i, lv := range levels {
		pointerOfFirsts[i] = make([]uint32, len(lv.means))
		for j := range lv.means {
			if i == 0 {
				leafTape, err := tape.Create(rel, false)
				if err != nil {
					return nil, err
				}
				pointerOfFirsts[i][j] = leafTape.Head()
				continue
			}
			childTape, err := tape.Create(rel, false)
			if err != nil {
				return nil, err
			}
			for _, child := range lv.children[j] {
				childMean := levels[i-1].means[child]
				var code *rabitq.Code
				if isResidual {
					code = rabitq.Encode(childMean, lv.means[j])
				} else {
					code = rabitq.Encode(childMean, nil)
				}
				tuple := NewHeightKTuple(pointerOfMeans[i-1][child], pointerOfFirsts[i-1][child], code)
				if _, err := childTape.Push(tuple); err != nil {
					return nil, err
				}
			}
			pointerOfFirsts[i][j] = childTape.Head()
		}
	}

	top := len(levels) - 1
	meta := &MetaTuple{
		Dims:         uint16(vo.Dim),
		HeightOfRoot: uint8(len(levels)),
		IsResidual:   isResidual,
		VectorsFirst: vectorsTape.Head(),
		Mean:         pointerOfMeans[top][0],
		First:        pointerOfFirsts[top][0],
		Version:      metaVersion,
		Distance:     dist,
		Kind:         kind,
	}
	if _, err := metaTape.Push(meta); err != nil {
		return nil, err
	}

	return &Tree{rel: rel, meta: meta, vectors: vectorsTape}, nil
}

func distanceOf(s string) floating.Distance {
	switch s {
	case "dot":
		return floating.Dot
	case "cosine":
		return floating.Cosine
	default:
		return floating.L2
	}
}

func kindOf(s string) floating.Kind {
	if s == "f16" {
		return floating.KindF16
	}
	return floating.KindF32
}

func filterEmpty(res *kmeans.Result) [][]float32 {
	var out [][]float32
	for i, c := range res.Centroids {
		if res.NonEmpty[i] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return res.Centroids
	}
	return out
}

// assignChildren maps each element of child (the more leaf-ward level's
// means) to the nearest element of parent (this level's means), grouping
// child indices per parent — the k_means_lookup step of the teacher's
// reference build algorithm.
func assignChildren(child, parent [][]float32) [][]int {
	children := make([][]int, len(parent))
	for ci, cv := range child {
		best, bestDist := 0, float32(-1)
		for pi, pv := range parent {
			d := floating.SquaredL2(cv, pv)
			if bestDist < 0 || d < bestDist {
				best, bestDist = pi, d
			}
		}
		children[best] = append(children[best], ci)
	}
	return children
}

func reverse(s []uint32) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Insert walks down from the root choosing the exact-distance nearest child
// at each of height_of_root-1 levels, then finds (or appends) a Height0 slot
// for v at the bottom (spec.md §4.4 Insert). Routing uses full-precision
// centroids, not the RaBitQ estimator, since insert is not latency-critical
// the way search is.
func (t *Tree) Insert(v []float32, payload uint64) error {
	if len(v) != int(t.meta.Dims) {
		return errs.Wrap("insert", fmt.Errorf("ivf: vector has %d dims, index expects %d", len(v), t.meta.Dims))
	}
	if t.meta.Distance == floating.Cosine {
		v = floating.Normalize(v)
	}

	vptr, err := WriteVector(t.vectors, v, t.meta.Kind, &payload, VectorMeta{Norm: float32(floating.SquaredNorm(v))})
	if err != nil {
		return err
	}

	hops := int(t.meta.HeightOfRoot) - 1
	head := t.meta.First
	parentMean := t.meta.Mean
	for h := 0; h < hops; h++ {
		kt := tape.Open(t.rel, head)
		var best *HeightKTuple
		bestDist := float32(-1)
		walkErr := kt.Each(func(_ tape.Pointer, data []byte) bool {
			tup := DecodeHeightKTuple(data)
			centroid, _, readErr := ReadVector(t.vectors, tup.Mean)
			if readErr != nil {
				err = readErr
				return false
			}
			d := t.meta.Distance.Eval(v, centroid)
			if bestDist < 0 || d < bestDist {
				bestDist = d
				best = tup
			}
			return true
		})
		if walkErr != nil {
			return walkErr
		}
		if err != nil {
			return err
		}
		if best == nil {
			return ErrDisconnected
		}
		head = best.First
		parentMean = best.Mean
	}

	var code *rabitq.Code
	if t.meta.IsResidual {
		centroid, _, readErr := ReadVector(t.vectors, parentMean)
		if readErr != nil {
			return readErr
		}
		code = rabitq.Encode(v, centroid)
	} else {
		code = rabitq.Encode(v, nil)
	}

	leafTape := tape.Open(t.rel, head)
	var target tape.Pointer
	found := false
	walkErr := leafTape.Each(func(p tape.Pointer, data []byte) bool {
		if DecodeHeight0Tuple(data).FreeSlot() < 0 {
			return true
		}
		target, found = p, true
		return false
	})
	if walkErr != nil {
		return walkErr
	}
	placed := false
	if found {
		// Each has released its shared lock by now; the free slot is chosen
		// again under the exclusive lock before it is written.
		placeErr := leafTape.WithWrite(target, func(pg *page.Page, s int) error {
			buf, getErr := pg.GetMut(s)
			if getErr != nil {
				return getErr
			}
			h := DecodeHeight0Tuple(buf)
			slot := h.FreeSlot()
			if slot < 0 {
				return nil
			}
			h.SetSlot(slot, vptr, payload, code)
			encoded := h.Encode()
			if len(buf) != len(encoded) {
				return errs.Wrap("insert", ErrCorruptLeaf)
			}
			copy(buf, encoded)
			placed = true
			return nil
		})
		if placeErr != nil {
			return placeErr
		}
	}
	if !placed {
		fresh := NewHeight0Tuple(int(t.meta.Dims))
		fresh.SetSlot(0, vptr, payload, code)
		if _, err := leafTape.Push(fresh); err != nil {
			return err
		}
	}
	return nil
}

// BulkDelete clears the mask bit of every live slot whose payload is dead,
// without freeing any pages (spec.md §4.4 BulkDelete "tombstone in place;
// reclamation happens only in maintain").
func (t *Tree) BulkDelete(dead func(payload uint64) bool) error {
	return t.walkLeaves(func(head page.ID) error {
		leafTape := tape.Open(t.rel, head)
		type update struct {
			p       tape.Pointer
			encoded []byte
		}
		var updates []update
		walkErr := leafTape.Each(func(p tape.Pointer, data []byte) bool {
			h := DecodeHeight0Tuple(data)
			changed := false
			for i := 0; i < 32; i++ {
				if h.Mask[i] && dead(h.Payload[i]) {
					h.Mask[i] = false
					changed = true
				}
			}
			if !changed {
				return true
			}
			updates = append(updates, update{p: p, encoded: h.Encode()})
			return true
		})
		if walkErr != nil {
			return walkErr
		}
		// Written only after Each has released its shared page locks.
		for _, u := range updates {
			if writeErr := leafTape.WithWrite(u.p, func(pg *page.Page, s int) error {
				buf, getErr := pg.GetMut(s)
				if getErr != nil {
					return getErr
				}
				if len(buf) != len(u.encoded) {
					return errs.Wrap("bulk delete", ErrCorruptLeaf)
				}
				copy(buf, u.encoded)
				return nil
			}); writeErr != nil {
				return writeErr
			}
		}
		return nil
	})
}

// walkLeaves visits every leaf tape's head page id reachable from the root.
func (t *Tree) walkLeaves(visit func(head page.ID) error) error {
	return t.walkLevel(t.meta.First, int(t.meta.HeightOfRoot)-1, visit)
}

func (t *Tree) walkLevel(head page.ID, hops int, visit func(page.ID) error) error {
	if hops == 0 {
		return visit(head)
	}
	kt := tape.Open(t.rel, head)
	var opErr error
	walkErr := kt.Each(func(_ tape.Pointer, data []byte) bool {
		tup := DecodeHeightKTuple(data)
		if err := t.walkLevel(tup.First, hops-1, visit); err != nil {
			opErr = err
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	return opErr
}

// Maintain compacts every leaf tape, dropping pages that have gone fully
// dead, and relinks each parent's First pointer to match (spec.md §4.4
// Maintain: "relocate live slots into fresh pages, then unlink the old
// prefix"). Internal-node tuples never move, since HeightKTuple.First is a
// fixed-width field that can be rewritten in place.
func (t *Tree) Maintain() error {
	newFirst, err := t.maintainLevel(t.meta.First, int(t.meta.HeightOfRoot)-1)
	if err != nil {
		return err
	}
	if newFirst != t.meta.First {
		t.meta.First = newFirst
		if err := t.rewriteMeta(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) maintainLevel(head page.ID, hops int) (page.ID, error) {
	if hops == 0 {
		return t.compactLeaf(head)
	}
	kt := tape.Open(t.rel, head)
	var opErr error
	type update struct {
		p       tape.Pointer
		encoded []byte
	}
	var updates []update
	walkErr := kt.Each(func(p tape.Pointer, data []byte) bool {
		tup := DecodeHeightKTuple(data)
		newChildHead, err := t.maintainLevel(tup.First, hops-1)
		if err != nil {
			opErr = err
			return false
		}
		if newChildHead == tup.First {
			return true
		}
		tup.First = newChildHead
		updates = append(updates, update{p: p, encoded: tup.Encode()})
		return true
	})
	if walkErr != nil {
		return 0, walkErr
	}
	if opErr != nil {
		return 0, opErr
	}
	// First is rewritten only after Each has released its shared page locks.
	for _, u := range updates {
		if err := kt.WithWrite(u.p, func(pg *page.Page, s int) error {
			buf, getErr := pg.GetMut(s)
			if getErr != nil {
				return getErr
			}
			if len(buf) != len(u.encoded) {
				return errs.Wrap("maintain", ErrCorruptLeaf)
			}
			copy(buf, u.encoded)
			return nil
		}); err != nil {
			return 0, err
		}
	}
	return head, nil
}

func (t *Tree) compactLeaf(head page.ID) (page.ID, error) {
	leafTape := tape.Open(t.rel, head)
	newHead, err := leafTape.Compact(func(data []byte) bool {
		h := DecodeHeight0Tuple(data)
		for _, live := range h.Mask {
			if live {
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if newHead != head {
		if err := t.forgetChain(head); err != nil {
			return 0, err
		}
	}
	return newHead, nil
}

// forgetChain removes every page of an unlinked old chain from the
// relation's free-space map hints (page.FreeSpaceMap.Forget's documented use
// "once it has been unlinked from its tape during maintain").
func (t *Tree) forgetChain(head page.ID) error {
	id := head
	for {
		g, err := t.rel.Read(id)
		if err != nil {
			return err
		}
		next := g.Page().GetOpaque().Next
		if err := g.Close(); err != nil {
			return err
		}
		t.rel.FreeSpaceMap().Forget(id)
		if next == page.None {
			return nil
		}
		id = next
	}
}

func (t *Tree) rewriteMeta() error {
	encoded := t.meta.Encode()
	metaTape := tape.Open(t.rel, metaPage)
	return metaTape.WithWrite(tape.Pointer{Page: metaPage, Slot: metaSlot}, func(pg *page.Page, s int) error {
		buf, err := pg.GetMut(s)
		if err != nil {
			return err
		}
		if len(buf) != len(encoded) {
			return errs.Wrap("maintain", ErrCorruptLeaf)
		}
		copy(buf, encoded)
		return nil
	})
}
