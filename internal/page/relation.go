package page

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/ivfrabitq/vqidx/internal/errs"
)

// ID identifies a page within a Relation.
type ID = uint32

// Relation is a single append-only file of fixed-size pages shared by
// concurrent readers and writers (spec.md §4.1). Each page has its own
// exclusive/shared lock; the Relation itself only serializes file-size
// changes (extend) and free-space-map lookups.
type Relation struct {
	mu    sync.Mutex // guards f, locks map mutation, and extend
	f     *os.File
	locks map[ID]*sync.RWMutex
	fsm   *FreeSpaceMap
}

// Open opens or creates the backing file for a relation.
func Open(path string) (*Relation, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap("open relation", err)
	}
	return &Relation{
		f:     f,
		locks: make(map[ID]*sync.RWMutex),
		fsm:   NewFreeSpaceMap(),
	}, nil
}

// Close closes the backing file.
func (r *Relation) Close() error { return r.f.Close() }

// PageCount reports how many pages the relation currently has.
func (r *Relation) PageCount() (uint32, error) {
	st, err := r.f.Stat()
	if err != nil {
		return 0, errs.Wrap("stat relation", err)
	}
	return uint32(st.Size() / Size), nil
}

func (r *Relation) lockFor(id ID) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Relation) readPage(id ID) (*Page, error) {
	buf := make([]byte, Size)
	if _, err := r.f.ReadAt(buf, int64(id)*Size); err != nil {
		return nil, errs.Wrap("read page", err)
	}
	p := &Page{}
	copy(p.buf[:], buf)
	lower, upper, special := p.header()
	if err := validateHeader(lower, upper, special); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Relation) writePage(id ID, p *Page) error {
	if _, err := r.f.WriteAt(p.bytes(), int64(id)*Size); err != nil {
		return errs.Wrap("write page", err)
	}
	return nil
}

// Read acquires a shared page lock; blocks writers; releases on Close.
func (r *Relation) Read(id ID) (*ReadGuard, error) {
	lock := r.lockFor(id)
	lock.RLock()
	p, err := r.readPage(id)
	if err != nil {
		lock.RUnlock()
		return nil, err
	}
	return &ReadGuard{rel: r, id: id, page: p, lock: lock}, nil
}

// Write acquires an exclusive page lock and opens a write guard. If
// trackFreespace is true the guard records the page's post-write free space
// in the relation's free-space map on commit.
func (r *Relation) Write(id ID, trackFreespace bool) (*WriteGuard, error) {
	lock := r.lockFor(id)
	lock.Lock()
	p, err := r.readPage(id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &WriteGuard{rel: r, id: id, page: p, lock: lock, track: trackFreespace}, nil
}

// Extend allocates a new page at the end of the file, initializes it with
// opaque, and returns a write guard already holding its exclusive lock.
func (r *Relation) Extend(opaque Opaque, trackFreespace bool) (*WriteGuard, error) {
	r.mu.Lock()
	st, err := r.f.Stat()
	if err != nil {
		r.mu.Unlock()
		return nil, errs.Wrap("stat relation", err)
	}
	id := ID(st.Size() / Size)
	lock := &sync.RWMutex{}
	lock.Lock()
	r.locks[id] = lock
	p := NewEmpty(opaque)
	err = r.writePage(id, p)
	r.mu.Unlock()
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &WriteGuard{rel: r, id: id, page: p, lock: lock, track: trackFreespace, fresh: true}, nil
}

// Search consults the free-space map for a page reporting >= minFree bytes,
// verifies under lock, and loops on stale entries (spec.md §4.1).
func (r *Relation) Search(minFree int) (*WriteGuard, error) {
	for {
		id, ok := r.fsm.Candidate(minFree)
		if !ok {
			return nil, nil
		}
		g, err := r.Write(id, true)
		if err != nil {
			return nil, err
		}
		if g.page.Freespace() >= minFree {
			return g, nil
		}
		// Stale entry: record the truth and keep looking.
		r.fsm.Update(id, g.page.Freespace())
		_ = g.Close()
	}
}

// FreeSpaceMap exposes the relation's shared free-space hints.
func (r *Relation) FreeSpaceMap() *FreeSpaceMap { return r.fsm }

func readUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
