// Package barrier implements the three-phase worker rendezvous spec.md §5
// describes for parallel build: a shared control block coordinating
// "inserting", "finished inserting", and "compacting done" phases. The
// spec's wording ("a spinlock, a condition variable, and barrier counters")
// is translated to sync.Cond plus atomic enter/leave counters — Go's
// scheduler punishes busy-waiting, so unlike the source this never spins.
package barrier

import (
	"sync"
	"sync/atomic"
)

// Phase names the three single-use rendezvous points of spec.md §5.
type Phase int

const (
	PhaseInserting Phase = iota
	PhaseFinishedInserting
	PhaseCompactingDone
)

// ControlBlock is a single-use N-party barrier: every participant calls
// Enter once and Enter blocks until all N have entered, then Leave lets one
// caller observe the barrier has fully drained. It models the "increment
// enter, wait on leave, broadcast" contract spec.md §9 calls out.
type ControlBlock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	entered int64
	left    int64
}

// New creates a control block for n participants.
func New(n int) *ControlBlock {
	cb := &ControlBlock{n: n}
	cb.cond = sync.NewCond(&cb.mu)
	return cb
}

// Enter registers one participant's arrival and blocks until all n have
// arrived, then returns. Safe to call from n goroutines concurrently.
func (cb *ControlBlock) Enter() {
	n := atomic.AddInt64(&cb.entered, 1)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if n == int64(cb.n) {
		cb.cond.Broadcast()
		return
	}
	for atomic.LoadInt64(&cb.entered) < int64(cb.n) {
		cb.cond.Wait()
	}
}

// Leave registers one participant's departure from the barrier and returns
// true to the caller that observes the last departure (useful for having
// exactly one worker perform a single "phase closed" action, e.g. writing
// the compacted tree's meta tuple).
func (cb *ControlBlock) Leave() bool {
	n := atomic.AddInt64(&cb.left, 1)
	return n == int64(cb.n)
}

// Reset rearms the control block for a new phase with n2 participants.
// Barriers are single-use per spec.md §9; build allocates a fresh
// ControlBlock per phase rather than reusing one, but Reset is provided for
// callers (e.g. tests) that want to replay the same object.
func (cb *ControlBlock) Reset(n int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.n = n
	cb.entered = 0
	cb.left = 0
}
