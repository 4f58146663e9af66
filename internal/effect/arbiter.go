package effect

import "sync"

// Arbiter is the process-wide table of exclusively held resource names.
// Two effects declaring a common mutex name are never simultaneously
// active; acquisition is all-or-nothing.
type Arbiter struct {
	mu   sync.Mutex
	held map[string]*Effect
}

func NewArbiter() *Arbiter {
	return &Arbiter{held: make(map[string]*Effect)}
}

// TryAcquire inserts every one of e's declared mutex names, bound to e.
// If any name is held by a different effect, the names inserted during this
// attempt are rolled back and the acquisition fails. Effects with an empty
// mutex set always succeed.
func (a *Arbiter) TryAcquire(e *Effect) bool {
	names := e.Mutex()
	if len(names) == 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	taken := names[:0:0]
	for _, name := range names {
		if holder, ok := a.held[name]; ok {
			if holder == e {
				continue
			}
			for _, t := range taken {
				delete(a.held, t)
			}
			return false
		}
		a.held[name] = e
		taken = append(taken, name)
	}
	return true
}

// ReleaseAll removes every one of e's declared names that e holds.
// Releasing names that were never acquired is a no-op.
func (a *Arbiter) ReleaseAll(e *Effect) {
	names := e.Mutex()
	if len(names) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range names {
		if a.held[name] == e {
			delete(a.held, name)
		}
	}
}

// Holder returns the effect currently holding a name, for diagnostics.
func (a *Arbiter) Holder(name string) (*Effect, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.held[name]
	return e, ok
}
