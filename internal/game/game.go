// Package game models the boundary to the hosting game server: game
// identity, engine-level state, round options, sabotage systems and the
// external command executor. The control core never mutates a game
// directly; every mutation goes through a command.
package game

// Code identifies one live game. Codes are never reused while a game is
// alive.
type Code int32

// State is the hosting engine's own lifecycle state, distinct from the
// coarse state tracked in package track.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateStarted
	StateEnded
	StateDestroyed
)

// Map identifies the active map; it selects sabotage system wiring and
// countdown timers.
type Map int

const (
	MapSkeld Map = iota
	MapMiraHQ
	MapPolus
	MapAirship
)

// System names a ship system that can be sabotaged or fixed.
type System int

const (
	SystemComms System = iota
	SystemReactor
	SystemLaboratory
	SystemElectrical
	SystemOxygen
	SystemDoors
)

// Systems exposes sabotage system activity for one game. Implemented by the
// hosting engine's ship status object.
type Systems interface {
	// Active reports whether the named system is currently sabotaged.
	Active(System) bool
	// Known reports whether the system exists on the current map.
	Known(System) bool
}

// Game is a read view of one live game. Fields are refreshed by the
// directory; the control core treats them as advisory and validates against
// the tracker before acting.
type Game struct {
	Code    Code
	State   State
	Options *Options
	Systems Systems
}

// Directory resolves live games and exposes the explicit destroyed
// transition (rather than letting callers poke at game internals).
type Directory interface {
	Find(Code) (*Game, bool)
	FlagDestroyed(Code)
}
