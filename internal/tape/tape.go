package tape

import (
	"sync"

	"github.com/ivfrabitq/vqidx/internal/errs"
	"github.com/ivfrabitq/vqidx/internal/page"
)

// Tuple is anything a Tape can store: a stable byte archive encoding.
// Decoding is done by each tuple type's package-level function. A tuple larger than a page's payload is a fatal error at
// build/insert time (spec.md §7 "Out-of-space in a fresh page").
type Tuple interface {
	Encode() []byte
}

// Tape is a typed linked list of pages: append-only, with per-page free
// space tracked for recycling (spec.md §4.2). Opaque.skip on the head page
// always equals the tail page id, letting Push append in O(1).
type Tape struct {
	mu   sync.Mutex
	rel  *page.Relation
	head page.ID
}

// Create opens an empty tape: extends one page, sets its own skip to itself
// (it is both head and tail), and returns the tape positioned there.
func Create(rel *page.Relation, trackFreespace bool) (*Tape, error) {
	g, err := rel.Extend(page.Opaque{Next: page.None, Skip: page.None}, trackFreespace)
	if err != nil {
		return nil, err
	}
	id := g.ID()
	g.Page().SetOpaque(page.Opaque{Next: page.None, Skip: id})
	if err := g.Close(); err != nil {
		return nil, err
	}
	return &Tape{rel: rel, head: id}, nil
}

// Open resumes a tape whose head page id is already known (e.g. from a
// MetaTuple or HeightK.first field).
func Open(rel *page.Relation, head page.ID) *Tape {
	return &Tape{rel: rel, head: head}
}

// Head returns the tape's first page id.
func (t *Tape) Head() page.ID { return t.head }

func (t *Tape) tailID() (page.ID, error) {
	g, err := t.rel.Read(t.head)
	if err != nil {
		return 0, err
	}
	defer g.Close()
	return g.Page().GetOpaque().Skip, nil
}

// Push serializes tuple and appends it to the tape's tail page, extending
// the tape with a freshly linked page if the current tail is full
// (spec.md §4.2).
func (t *Tape) Push(tuple Tuple) (Pointer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := tuple.Encode()
	if len(data) > page.Size-64 {
		return Pointer{}, errs.Wrap("tape push", page.ErrTooLarge)
	}

	tailID, err := t.tailID()
	if err != nil {
		return Pointer{}, err
	}

	wg, err := t.rel.Write(tailID, true)
	if err != nil {
		return Pointer{}, err
	}
	if slot, ok := wg.Page().Alloc(data); ok {
		if err := wg.Close(); err != nil {
			return Pointer{}, err
		}
		return Pointer{Page: tailID, Slot: uint16(slot)}, nil
	}
	wg.Abort()
	if err := wg.Close(); err != nil {
		return Pointer{}, err
	}

	// Tail page is full: extend, link, and push onto the new tail.
	newGuard, err := t.rel.Extend(page.Opaque{Next: page.None, Skip: page.None}, true)
	if err != nil {
		return Pointer{}, err
	}
	newID := newGuard.ID()
	slot, ok := newGuard.Page().Alloc(data)
	if !ok {
		newGuard.Abort()
		_ = newGuard.Close()
		return Pointer{}, errs.Wrap("tape push", page.ErrTooLarge)
	}
	if err := newGuard.Close(); err != nil {
		return Pointer{}, err
	}

	if err := t.linkTail(tailID, newID); err != nil {
		return Pointer{}, err
	}
	return Pointer{Page: newID, Slot: uint16(slot)}, nil
}

func (t *Tape) linkTail(oldTail, newTail page.ID) error {
	ow, err := t.rel.Write(oldTail, false)
	if err != nil {
		return err
	}
	op := ow.Page().GetOpaque()
	op.Next = newTail
	ow.Page().SetOpaque(op)
	if err := ow.Close(); err != nil {
		return err
	}

	// Opaque.skip is only meaningful on the head page (spec.md §9); keep it
	// pointing at the new tail regardless of whether oldTail was the head.
	hg, err := t.rel.Write(t.head, false)
	if err != nil {
		return err
	}
	hop := hg.Page().GetOpaque()
	hop.Skip = newTail
	hg.Page().SetOpaque(hop)
	return hg.Close()
}

// Each walks the chain from head to tail, invoking visit once per live
// slot on every page. visit returning false stops the walk early.
func (t *Tape) Each(visit func(p Pointer, data []byte) bool) error {
	id := t.head
	for {
		g, err := t.rel.Read(id)
		if err != nil {
			return err
		}
		op := g.Page().GetOpaque()
		n := g.Page().Len()
		for i := 1; i <= n; i++ {
			data, err := g.Page().Get(i)
			if err != nil {
				if err == page.ErrSlotFreed {
					continue
				}
				_ = g.Close()
				return err
			}
			if !visit(Pointer{Page: id, Slot: uint16(i)}, data) {
				return g.Close()
			}
		}
		next := op.Next
		if err := g.Close(); err != nil {
			return err
		}
		if next == page.None {
			return nil
		}
		id = next
	}
}

// Get re-acquires a guard for p's page and returns a copy of its bytes,
// revalidating liveness per spec.md §9 ("reading requires re-acquiring a
// guard and checking the slot is still live").
func (t *Tape) Get(p Pointer) ([]byte, error) {
	g, err := t.rel.Read(p.Page)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	data, err := g.Page().Get(int(p.Slot))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WithWrite re-acquires a write guard on p's page and invokes fn with the
// page and slot number, committing the page afterward.
func (t *Tape) WithWrite(p Pointer, fn func(pg *page.Page, slot int) error) error {
	g, err := t.rel.Write(p.Page, true)
	if err != nil {
		return err
	}
	if err := fn(g.Page(), int(p.Slot)); err != nil {
		g.Abort()
		_ = g.Close()
		return err
	}
	return g.Close()
}

// Compact rewrites the tape so that only tuples satisfying keep are
// retained, packed into freshly allocated pages starting at a new head.
// It is the "relocate every still-live slot into a newly appended run"
// half of maintain (spec.md §4.2); the caller is responsible for freeing
// the old chain's pages via the relation's free-space map once Compact
// returns. Returns the new head page id.
func (t *Tape) Compact(keep func(data []byte) bool) (page.ID, error) {
	fresh, err := Create(t.rel, true)
	if err != nil {
		return 0, err
	}
	err = t.Each(func(_ Pointer, data []byte) bool {
		if !keep(data) {
			return true
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		if _, pushErr := fresh.Push(rawTuple(cp)); pushErr != nil {
			err = pushErr
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return fresh.Head(), nil
}

// rawTuple adapts a pre-encoded byte slice to the Tuple interface, used
// internally by Compact to re-push already-serialized tuples verbatim.
type rawTuple []byte

func (r rawTuple) Encode() []byte { return r }
