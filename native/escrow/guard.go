package escrow

import "sync"

// callGuard is a per-instance mutual-exclusion flag held for the duration of
// one state-mutating call. Acquire rejects nested re-entry into the same
// address and returns a release closure that must run on every exit path.
type callGuard struct {
	mu       sync.Mutex
	inFlight map[[20]byte]struct{}
}

func newCallGuard() *callGuard {
	return &callGuard{inFlight: make(map[[20]byte]struct{})}
}

func (g *callGuard) acquire(addr [20]byte) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inFlight[addr]; held {
		return nil, errReentrantCall
	}
	g.inFlight[addr] = struct{}{}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.inFlight, addr)
	}, nil
}
