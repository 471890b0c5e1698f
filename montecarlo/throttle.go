package montecarlo

import (
	"sync"
)

// Throttle keeps producers from running too far ahead of the reducer.
// Producers call Produced once per finished episode, before handing it
// over. The reducer calls Observe after each consumed episode. When the
// produced count exceeds the consumed count by more than the high-water
// mark, the reducer keeps the lock, so producers stall inside Produced,
// until it has consumed all but low of the episodes produced so far.
//
// The lock is advisory: it is never held across a channel send, and every
// producer that has counted an episode sends it, so the reducer always
// reaches its release target.
type Throttle struct {
	mu       sync.Mutex
	produced uint64

	high, low uint64

	// reducer-only state
	holding bool
	release uint64
	stalls  int
}

func NewThrottle(high, low uint64) *Throttle {
	return &Throttle{high: high, low: low}
}

func (t *Throttle) Produced() {
	t.mu.Lock()
	t.produced++
	t.mu.Unlock()
}

// Observe must only be called from the reducer goroutine.
func (t *Throttle) Observe(consumed uint64) {
	if t.holding {
		if consumed >= t.release {
			t.holding = false
			t.mu.Unlock()
		}
		return
	}
	t.mu.Lock()
	if t.produced > consumed+t.high {
		t.holding = true
		t.release = t.produced - min(t.low, t.produced)
		t.stalls++
		return
	}
	t.mu.Unlock()
}

// Holding reports whether the reducer currently stalls producers.
func (t *Throttle) Holding() bool {
	return t.holding
}

// Stalls is how many times producers were stalled.
func (t *Throttle) Stalls() int {
	return t.stalls
}

// Release lets producers go if the reducer is holding them. The reducer
// calls it once it stops consuming.
func (t *Throttle) Release() {
	if t.holding {
		t.holding = false
		t.mu.Unlock()
	}
}
