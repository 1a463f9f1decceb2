package tracer

import "sync"

// confirmTracker assigns correlation ids to provisional writes (Write ==
// WriteMaybe at syscall entry) so that a later Confirm event, emitted at
// syscall exit once the real outcome is known, can be matched back to the
// provisional Access event by the gatherer. A single tracker is shared by
// every traced thread in a job.
type confirmTracker struct {
	mu   sync.Mutex
	next uint64
}

// allocate allocates a new, process-tree-unique confirmation id.
func (c *confirmTracker) allocate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// loopGuard prevents a traced thread from re-entering the tracer's own
// reporting machinery recursively: the report channel itself may involve
// syscalls (e.g. a write(2) to the report pipe) that would otherwise be
// trapped and reported as an access, infinitely.
type loopGuard struct {
	mu      sync.Mutex
	entered map[int]bool
}

func newLoopGuard() *loopGuard {
	return &loopGuard{entered: make(map[int]bool)}
}

// Enter reports whether tid was already inside the guarded region; if not,
// it marks tid as entered and returns false.
func (g *loopGuard) Enter(tid int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered[tid] {
		return true
	}
	g.entered[tid] = true
	return false
}

// Exit clears tid's guarded state.
func (g *loopGuard) Exit(tid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entered, tid)
}
