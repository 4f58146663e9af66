package game

import (
	"fmt"
	"sync"
)

// Memory is an in-process Directory + Executor implementation. The
// production deployment replaces it with the hosting engine's own adapters;
// it also backs the package tests.
type Memory struct {
	mu    sync.RWMutex
	games map[Code]*memGame

	// Chat receives every SendChat payload, if set. Buffered by caller.
	Chat chan ChatPayload
}

type memGame struct {
	state    State
	opts     *Options
	sabotage map[System]bool
	systems  map[System]bool // known systems for the map
}

func NewMemory() *Memory {
	return &Memory{games: make(map[Code]*memGame)}
}

// snapshotLocked builds an independent view of one game: state and options
// are copied, so later writes never show through. The Systems view stays
// live and reads under the Memory lock. Callers must hold m.mu.
func (m *Memory) snapshotLocked(code Code, mg *memGame) *Game {
	return &Game{
		Code:    code,
		State:   mg.state,
		Options: mg.opts.Clone(),
		Systems: &memSystems{m: m, mg: mg},
	}
}

// Add registers a game with the given options; the zero set of sabotage
// systems is derived from the map.
func (m *Memory) Add(code Code, opts *Options) *Game {
	m.mu.Lock()
	defer m.mu.Unlock()

	mg := &memGame{
		state:    StateNotStarted,
		opts:     opts.Clone(),
		sabotage: make(map[System]bool),
		systems:  knownSystems(opts.Map),
	}
	m.games[code] = mg
	return m.snapshotLocked(code, mg)
}

// SetState advances a game's engine-level state.
func (m *Memory) SetState(code Code, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mg, ok := m.games[code]; ok {
		mg.state = s
	}
}

// Remove drops a game entirely.
func (m *Memory) Remove(code Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, code)
}

// Find returns a snapshot of the game's current state.
func (m *Memory) Find(code Code) (*Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[code]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(code, mg), true
}

func (m *Memory) FlagDestroyed(code Code) {
	m.SetState(code, StateDestroyed)
}

func (m *Memory) Execute(kind Kind, payload any) Result {
	switch kind {
	case CmdUpdateGame:
		p, ok := payload.(UpdatePayload)
		if !ok {
			return Failure(ErrBadPayload, "UpdateGame: bad payload")
		}
		return m.withGame(p.Code, func(mg *memGame) Result {
			mg.opts = p.Options.Clone()
			return Result{Data: m.snapshotLocked(p.Code, mg)}
		})

	case CmdSetSabotage, CmdClearSabotage:
		p, ok := payload.(SabotagePayload)
		if !ok {
			return Failure(ErrBadPayload, "SetSabotage: bad payload")
		}
		return m.withGame(p.Code, func(mg *memGame) Result {
			if !mg.systems[p.System] {
				return Failure(ErrBadPayload, fmt.Sprintf("system %d not on map", p.System))
			}
			mg.sabotage[p.System] = kind == CmdSetSabotage
			return Result{Data: m.snapshotLocked(p.Code, mg)}
		})

	case CmdCloseAllDoors:
		p, ok := payload.(DoorsPayload)
		if !ok {
			return Failure(ErrBadPayload, "CloseAllDoors: bad payload")
		}
		return m.withGame(p.Code, func(mg *memGame) Result {
			return Result{Data: m.snapshotLocked(p.Code, mg)}
		})

	case CmdSendChat:
		p, ok := payload.(ChatPayload)
		if !ok {
			return Failure(ErrBadPayload, "SendChat: bad payload")
		}
		return m.withGame(p.Code, func(mg *memGame) Result {
			if m.Chat != nil {
				select {
				case m.Chat <- p:
				default:
				}
			}
			return Result{Data: m.snapshotLocked(p.Code, mg)}
		})

	case CmdGetGameOptions:
		code, ok := payload.(Code)
		if !ok {
			return Failure(ErrBadPayload, "GetGameOptions: bad payload")
		}
		return m.withGame(code, func(mg *memGame) Result {
			return Result{Data: mg.opts.Clone()}
		})

	case CmdNewGame:
		p, ok := payload.(NewGamePayload)
		if !ok || p.Options == nil {
			return Failure(ErrBadPayload, "NewGame: bad payload")
		}
		return Result{Data: m.Add(p.Code, p.Options)}

	case CmdRemoveGame:
		code, ok := payload.(Code)
		if !ok {
			return Failure(ErrBadPayload, "RemoveGame: bad payload")
		}
		return m.withGame(code, func(mg *memGame) Result {
			delete(m.games, code)
			return Result{Data: m.snapshotLocked(code, mg)}
		})

	case CmdKickPlayer:
		p, ok := payload.(KickPayload)
		if !ok {
			return Failure(ErrBadPayload, "KickPlayer: bad payload")
		}
		return m.withGame(p.Code, func(mg *memGame) Result {
			return Result{Data: m.snapshotLocked(p.Code, mg)}
		})

	default:
		return Failure(ErrUnknownCommand, fmt.Sprintf("unknown command %d", kind))
	}
}

func (m *Memory) withGame(code Code, fn func(*memGame) Result) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.games[code]
	if !ok {
		return Failure(ErrGameNotFound, fmt.Sprintf("game %d not found", code))
	}
	return fn(mg)
}

// memSystems reads a game's live sabotage and known-system tables under the
// owning Memory lock.
type memSystems struct {
	m  *Memory
	mg *memGame
}

func (s *memSystems) Active(sys System) bool {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.mg.sabotage[sys]
}

func (s *memSystems) Known(sys System) bool {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.mg.systems[sys]
}

func knownSystems(m Map) map[System]bool {
	ks := map[System]bool{
		SystemComms:      true,
		SystemElectrical: true,
		SystemDoors:      true,
	}
	switch m {
	case MapPolus:
		ks[SystemLaboratory] = true
	case MapAirship:
		ks[SystemReactor] = true
	default:
		ks[SystemReactor] = true
		ks[SystemOxygen] = true
	}
	return ks
}
