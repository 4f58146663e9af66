package track

import "crewcontrol.gg/internal/game"

// Listener receives lifecycle notifications. Any field may be nil.
// Callbacks run synchronously on the goroutine that delivered the
// lifecycle event and must not block.
type Listener struct {
	OnCreated        func(game.Code)
	OnDestroyed      func(game.Code)
	OnStarting       func(game.Code)
	OnMeetingStarted func(game.Code)
	OnMeetingEnded   func(game.Code)
	OnEnteredLobby   func(game.Code)
	OnExitedLobby    func(game.Code)
	OnPlayerSpawned  func(code game.Code, playerID int, isHost bool)
}

func (l *Listener) call(fn func(game.Code), code game.Code) {
	if fn != nil {
		fn(code)
	}
}

// Subscribe registers a listener and returns its deregistration func.
// After the func returns the listener is out of the registry; a delivery
// already in flight on another goroutine may still complete.
func (t *Tracker) Subscribe(l *Listener) (unsubscribe func()) {
	t.subMu.Lock()
	t.subSeq++
	id := t.subSeq
	t.subs[id] = l
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) publish(deliver func(*Listener)) {
	t.subMu.Lock()
	ls := make([]*Listener, 0, len(t.subs))
	for _, l := range t.subs {
		ls = append(ls, l)
	}
	t.subMu.Unlock()

	for _, l := range ls {
		deliver(l)
	}
}
