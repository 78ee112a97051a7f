package auction

import "sync"

// Latch is a one-shot gate. TryFire returns true for exactly one caller
// over the latch's lifetime; every other caller, on any path and in any
// order, gets false. The coordinator creates a fresh latch per round to
// guard the terminal action against the all-settled/timeout race.
type Latch struct {
	mu    sync.Mutex
	fired bool
}

// TryFire attempts to fire the latch. The first call wins.
func (l *Latch) TryFire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return false
	}
	l.fired = true
	return true
}

// Fired reports whether the latch has fired.
func (l *Latch) Fired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired
}
