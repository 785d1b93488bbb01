package page

import "sync"

// ReadGuard grants shared read access to one page. It releases the page
// lock when Close is called (callers should always `defer guard.Close()`
// immediately after acquiring one, matching the scoped-release discipline
// of spec.md §3/§9).
type ReadGuard struct {
	rel  *Relation
	id   ID
	page *Page
	lock *sync.RWMutex
}

// Page returns the underlying page for read-only operations.
func (g *ReadGuard) Page() *Page { return g.page }

// ID returns the page id this guard holds.
func (g *ReadGuard) ID() ID { return g.id }

// Close releases the shared lock.
func (g *ReadGuard) Close() error {
	g.lock.RUnlock()
	return nil
}

// WriteGuard grants exclusive write access to one page. On Close the page
// is flushed to disk (commit); on Abort the in-memory mutations are
// discarded and nothing is written, modeling the "abort the pending log
// record" behavior a panicking write guard must have (spec.md §5/§7).
type WriteGuard struct {
	rel     *Relation
	id      ID
	page    *Page
	lock    *sync.RWMutex
	track   bool
	fresh   bool
	aborted bool
}

// Page returns the underlying page for mutation.
func (g *WriteGuard) Page() *Page { return g.page }

// ID returns the page id this guard holds.
func (g *WriteGuard) ID() ID { return g.id }

// Close commits the page (writes it back) and releases the exclusive lock.
func (g *WriteGuard) Close() error {
	defer g.lock.Unlock()
	if g.aborted {
		return nil
	}
	if err := g.rel.writePage(g.id, g.page); err != nil {
		return err
	}
	if g.track {
		g.rel.fsm.Update(g.id, g.page.Freespace())
	}
	return nil
}

// Abort discards pending mutations without writing them back. A write
// guard that is about to unwind on panic or on a canceled operation should
// call Abort before Close (or rely on a deferred recover that does so) so
// the on-disk page is left untouched.
func (g *WriteGuard) Abort() {
	g.aborted = true
}
