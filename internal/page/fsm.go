package page

import "sync"

// FreeSpaceMap is a shared, best-effort advisory of how much free space each
// page reports. It is never authoritative (spec.md §5): a Search() caller
// must re-verify under the page's own lock, because the map can go stale
// the instant another writer commits.
type FreeSpaceMap struct {
	mu   sync.Mutex
	free map[ID]int
}

func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{free: make(map[ID]int)}
}

// Update records a hint for a page's free space.
func (m *FreeSpaceMap) Update(id ID, free int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[id] = free
}

// Forget removes a page's hint, e.g. once it has been unlinked from its
// tape during maintain.
func (m *FreeSpaceMap) Forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.free, id)
}

// Candidate returns some page id reporting at least minFree bytes, if any.
// Which one is returned when several qualify is unspecified.
func (m *FreeSpaceMap) Candidate(minFree int) (ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, free := range m.free {
		if free >= minFree {
			return id, true
		}
	}
	return 0, false
}
