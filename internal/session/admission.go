package session

import (
	"sync"

	"crewcontrol.gg/internal/game"
)

// Admission is the per-game gate keeping bound control sessions to at most
// one. Counters exist only for the lifetime of their game.
type Admission struct {
	mu       sync.Mutex
	counters map[game.Code]int
}

func NewAdmission() *Admission {
	return &Admission{counters: make(map[game.Code]int)}
}

// Create registers a counter for a freshly created game.
func (a *Admission) Create(code game.Code) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.counters[code]; !ok {
		a.counters[code] = 0
	}
}

// Remove drops the counter when the game is destroyed.
func (a *Admission) Remove(code game.Code) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counters, code)
}

// IncrementIfZero is an atomic 0 -> 1 test-and-set. It fails when the gate
// is already held or when no counter exists (the game is not alive).
func (a *Admission) IncrementIfZero(code game.Code) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.counters[code]
	if !ok || n != 0 {
		return false
	}
	a.counters[code] = 1
	return true
}

// Decrement releases the gate. Releasing a missing or free counter is a
// no-op (the game may have been destroyed while the session was bound).
func (a *Admission) Decrement(code game.Code) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.counters[code]; ok && n > 0 {
		a.counters[code] = n - 1
	}
}
