// Package effect implements the effect lifecycle contract, the mutex
// arbiter that keeps conflicting effects from overlapping, the deferred
// stop scheduler for timed effects, and the per-game catalog cache.
package effect

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewcontrol.gg/internal/protocol"
)

// Kind classifies how an effect runs.
type Kind int

const (
	Instant Kind = iota
	Timed
	BidWar
)

// Def declares one effect variant. All variants share this flat contract;
// behavior differences live in the hook closures.
type Def struct {
	Code     string
	ID       uint32
	Kind     Kind
	Duration time.Duration // meaningful only for Timed
	Mutex    []string      // resource names held exclusively while active

	// Ready is the readiness predicate. It may go stale between the call
	// and a later start attempt; Start may still fail after Ready returned
	// true.
	Ready func() bool
	// Start begins the effect; it may block on an external command. Called
	// only under the activity lock.
	Start func(req *protocol.Request) bool
	// Stop ends the effect; may block. Called only under the activity lock.
	// Unused for effects that never need an explicit stop.
	Stop func() bool
	// Load/Unload run once when the catalog is built/evicted.
	Load   func()
	Unload func()
}

// Effect is one live effect instance bound to a single game.
type Effect struct {
	def      Def
	instance uuid.UUID
	log      *log.Logger

	mu     sync.Mutex // activity lock
	active bool
}

// New builds an Effect from its definition.
func New(def Def, logger *log.Logger) *Effect {
	return &Effect{def: def, instance: uuid.New(), log: logger}
}

func (e *Effect) Code() string            { return e.def.Code }
func (e *Effect) ID() uint32              { return e.def.ID }
func (e *Effect) Kind() Kind              { return e.def.Kind }
func (e *Effect) Duration() time.Duration { return e.def.Duration }
func (e *Effect) Mutex() []string         { return e.def.Mutex }

// Active reports the activity flag. Like IsReady, it can go stale
// immediately; TryStart/TryStop are the authoritative transitions.
func (e *Effect) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// IsReady evaluates the readiness predicate outside the activity lock.
func (e *Effect) IsReady() bool {
	if e.def.Ready == nil {
		return true
	}
	return e.def.Ready()
}

// TryStart transitions Inactive -> Active under the activity lock. Returns
// false if the effect is already active, not ready, or the start hook
// declines. The lock is released on every path, including a panicking hook.
func (e *Effect) TryStart(req *protocol.Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active || !e.isReadyLocked() {
		return false
	}
	if e.def.Start == nil {
		e.active = true
		return true
	}
	e.active = e.def.Start(req)
	return e.active
}

func (e *Effect) isReadyLocked() bool {
	if e.def.Ready == nil {
		return true
	}
	return e.def.Ready()
}

// TryStop transitions Active -> Inactive under the activity lock. Stopping
// an already-inactive effect is an idempotent success.
func (e *Effect) TryStop() bool {
	ok, _ := e.tryStopTransition()
	return ok
}

// tryStopTransition additionally reports whether this call performed the
// Active -> Inactive transition, so the caller owning the transition can
// release resources exactly once.
func (e *Effect) tryStopTransition() (ok, transitioned bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return true, false
	}
	if e.def.Stop == nil {
		e.active = false
		return true, true
	}
	stopped := e.def.Stop()
	e.active = !stopped
	return stopped, stopped
}

// RunLoad invokes the one-time load hook. Panics are logged, never fatal to
// catalog construction.
func (e *Effect) RunLoad() {
	defer e.recoverHook("load")
	if e.def.Load != nil {
		e.def.Load()
	}
	e.log.Printf("effect %s loaded [%s]", e.def.Code, e.instance)
}

// RunUnload invokes the one-time unload hook. Panics are logged, never
// fatal to catalog eviction.
func (e *Effect) RunUnload() {
	defer e.recoverHook("unload")
	if e.def.Unload != nil {
		e.def.Unload()
	}
	e.log.Printf("effect %s unloaded [%s]", e.def.Code, e.instance)
}

func (e *Effect) recoverHook(name string) {
	if r := recover(); r != nil {
		e.log.Printf("effect %s: %s hook panicked: %v", e.def.Code, name, r)
	}
}
