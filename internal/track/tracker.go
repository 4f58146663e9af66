// Package track maintains the coarse per-game lifecycle state machine used
// by effect readiness checks, plus a snapshot of each game's options as
// they were when the round started.
package track

import (
	"log"
	"sync"

	"crewcontrol.gg/internal/game"
)

// State is the coarse lifecycle state of one live game.
type State int

const (
	StateLobby State = iota
	StateStarting
	StateInGame
	StateInMeeting
	StateEnded
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "Lobby"
	case StateStarting:
		return "Starting"
	case StateInGame:
		return "InGame"
	case StateInMeeting:
		return "InMeeting"
	case StateEnded:
		return "Ended"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Tracker keeps one coarse state and one starting-options snapshot per live
// game. Intake methods are driven by the hosting engine's lifecycle events;
// queries are used pervasively by effect readiness checks.
type Tracker struct {
	mu       sync.RWMutex
	states   map[game.Code]State
	starting map[game.Code]*game.Options

	subMu  sync.Mutex
	subSeq int
	subs   map[int]*Listener

	log *log.Logger
}

func New(logger *log.Logger) *Tracker {
	return &Tracker{
		states:   make(map[game.Code]State),
		starting: make(map[game.Code]*game.Options),
		subs:     make(map[int]*Listener),
		log:      logger,
	}
}

// HasState reports whether the game is being tracked.
func (t *Tracker) HasState(code game.Code) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.states[code]
	return ok
}

// TryGetState returns the coarse state for a tracked game.
func (t *Tracker) TryGetState(code game.Code) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[code]
	return s, ok
}

// HasStartingOptions reports whether a starting snapshot exists.
func (t *Tracker) HasStartingOptions(code game.Code) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.starting[code]
	return ok
}

// TryGetStartingOptions returns the options snapshot taken when the round
// started. Callers must not mutate the result.
func (t *Tracker) TryGetStartingOptions(code game.Code) (*game.Options, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.starting[code]
	return o, ok
}

func (t *Tracker) set(code game.Code, s State) {
	t.mu.Lock()
	t.states[code] = s
	t.mu.Unlock()
	t.log.Printf("game %d state -> %s", code, s)
}

// GameCreated starts tracking a fresh lobby and snapshots its options.
func (t *Tracker) GameCreated(code game.Code, opts *game.Options) {
	t.mu.Lock()
	t.states[code] = StateLobby
	t.starting[code] = opts.Clone()
	t.mu.Unlock()
	t.log.Printf("game %d state -> %s", code, StateLobby)
	t.publish(func(l *Listener) { l.call(l.OnCreated, code) })
	t.publish(func(l *Listener) { l.call(l.OnEnteredLobby, code) })
}

// GameStarting re-snapshots the options; this snapshot is what effects
// restore when reverting a temporary change.
func (t *Tracker) GameStarting(code game.Code, opts *game.Options) {
	t.mu.Lock()
	t.states[code] = StateStarting
	t.starting[code] = opts.Clone()
	t.mu.Unlock()
	t.log.Printf("game %d state -> %s", code, StateStarting)
	t.publish(func(l *Listener) { l.call(l.OnExitedLobby, code) })
	t.publish(func(l *Listener) { l.call(l.OnStarting, code) })
}

func (t *Tracker) GameStarted(code game.Code) {
	t.set(code, StateInGame)
}

func (t *Tracker) GameEnded(code game.Code) {
	t.set(code, StateEnded)
}

// GameDestroyed removes the entry; the code may later be reused for a new
// lobby, which re-creates tracking from scratch.
func (t *Tracker) GameDestroyed(code game.Code) {
	t.mu.Lock()
	delete(t.states, code)
	delete(t.starting, code)
	t.mu.Unlock()
	t.log.Printf("game %d state -> %s", code, StateDestroyed)
	t.publish(func(l *Listener) { l.call(l.OnDestroyed, code) })
}

func (t *Tracker) MeetingStarted(code game.Code) {
	t.set(code, StateInMeeting)
	t.publish(func(l *Listener) { l.call(l.OnMeetingStarted, code) })
}

func (t *Tracker) MeetingEnded(code game.Code) {
	t.set(code, StateInGame)
	t.publish(func(l *Listener) { l.call(l.OnMeetingEnded, code) })
}

// PlayerSpawned drives lobby re-entry after a round (Ended -> Lobby) and
// surfaces host spawns so the session layer can issue a fresh password.
func (t *Tracker) PlayerSpawned(code game.Code, playerID int, isHost bool) {
	t.mu.Lock()
	reentered := false
	if s, ok := t.states[code]; ok && s == StateEnded {
		t.states[code] = StateLobby
		reentered = true
	}
	t.mu.Unlock()

	if reentered {
		t.log.Printf("game %d state -> %s", code, StateLobby)
		t.publish(func(l *Listener) { l.call(l.OnEnteredLobby, code) })
	}
	t.publish(func(l *Listener) {
		if l.OnPlayerSpawned != nil {
			l.OnPlayerSpawned(code, playerID, isHost)
		}
	})
}
