package orchestrator

import "sync"

// Guard collects idempotent release closures as resources are acquired
// (Token Lock, Concurrency Limiter slot) and runs every one of them exactly
// once, regardless of how many exit paths a request takes. This is the
// re-architecture spec.md design note 9 calls for in place of the original
// handler's manual release call duplicated across its success path, error
// path, and timeout path.
type Guard struct {
	mu       sync.Mutex
	releases []func()
	done     bool
}

// Add registers a release closure. Closures run in LIFO order, mirroring
// acquisition order (lock, then slot) being released slot-first.
func (g *Guard) Add(release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases = append(g.releases, release)
}

// ReleaseAll runs every registered closure exactly once. Safe to call
// multiple times and from a deferred call alongside an explicit early call.
func (g *Guard) ReleaseAll() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	releases := g.releases
	g.releases = nil
	g.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
