// Package session owns the connection/session table, the request-response
// state machine and the admission gate that keeps each game bound to at
// most one control session.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewcontrol.gg/internal/effect"
	"crewcontrol.gg/internal/game"
	"crewcontrol.gg/internal/protocol"
	"crewcontrol.gg/internal/track"
)

// Conn is one client connection. Transports (TCP, websocket) implement it;
// Send must be safe for concurrent use.
type Conn interface {
	Send(*protocol.Response) error
	Close() error
	RemoteAddr() string
}

// Recorder receives best-effort audit events. A nil Recorder disables
// auditing.
type Recorder interface {
	RecordLogin(code game.Code, remote string, ok bool)
	RecordEffect(code game.Code, effectCode string, reqID uint32, reqType int, status protocol.Status)
}

// Session is the per-connection context. Requests from one connection are
// dispatched one at a time, but the lifecycle listeners run on other
// goroutines, so the fields they touch (loggedIn, game, effects) are
// guarded by the manager lock.
type Session struct {
	id       uuid.UUID
	conn     Conn
	loggedIn bool
	game     game.Code
	password string
	effects  map[string]*effect.Effect
}

// Manager is the session table plus protocol dispatcher.
type Manager struct {
	dir       game.Directory
	exec      game.Executor
	tracker   *track.Tracker
	cache     *effect.Cache
	arbiter   *effect.Arbiter
	scheduler *effect.Scheduler
	gen       *Generator
	admission *Admission
	audit     Recorder
	log       *log.Logger

	mu        sync.Mutex
	sessions  map[Conn]*Session
	passwords *passwordTable

	unsubscribe func()
}

// Deps carries the manager's collaborators.
type Deps struct {
	Dir       game.Directory
	Exec      game.Executor
	Tracker   *track.Tracker
	Cache     *effect.Cache
	Arbiter   *effect.Arbiter
	Scheduler *effect.Scheduler
	Generator *Generator
	Audit     Recorder
	Log       *log.Logger
}

// NewManager builds the manager and subscribes it to game lifecycle
// notifications (admission counters, catalog eviction, password issuance).
func NewManager(d Deps) *Manager {
	m := &Manager{
		dir:       d.Dir,
		exec:      d.Exec,
		tracker:   d.Tracker,
		cache:     d.Cache,
		arbiter:   d.Arbiter,
		scheduler: d.Scheduler,
		gen:       d.Generator,
		admission: NewAdmission(),
		audit:     d.Audit,
		log:       d.Log,
		sessions:  make(map[Conn]*Session),
		passwords: newPasswordTable(),
	}

	m.unsubscribe = m.tracker.Subscribe(&track.Listener{
		OnCreated:       m.onGameCreated,
		OnDestroyed:     m.onGameDestroyed,
		OnPlayerSpawned: m.onPlayerSpawned,
	})
	return m
}

// Close deregisters the lifecycle subscription.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// OnConnect registers a session and prompts for login.
func (m *Manager) OnConnect(c Conn) {
	s := &Session{id: uuid.New(), conn: c}
	m.mu.Lock()
	m.sessions[c] = s
	m.mu.Unlock()

	m.log.Printf("session %s connected from %s", s.id, c.RemoteAddr())
	if err := c.Send(&protocol.Response{Type: protocol.ResponseLogin}); err != nil {
		m.log.Printf("session %s: login prompt failed: %v", s.id, err)
	}
}

// OnDisconnect tears the session down: stops any of its effects still in
// flight (releasing their mutexes), retires its password and releases the
// admission gate.
func (m *Manager) OnDisconnect(c Conn) {
	m.mu.Lock()
	s, ok := m.sessions[c]
	delete(m.sessions, c)
	var effects map[string]*effect.Effect
	if ok {
		effects = s.effects
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, e := range effects {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Printf("session %s: teardown of %s panicked: %v", s.id, e.Code(), r)
				}
			}()
			if !m.scheduler.StopNow(e) {
				m.log.Printf("session %s: teardown stop of %s failed", s.id, e.Code())
			}
		}()
	}

	if s.password != "" {
		m.passwords.remove(s.password)
	}
	if s.loggedIn {
		m.admission.Decrement(s.game)
	}
	m.log.Printf("session %s disconnected", s.id)
}

// OnMessage dispatches one inbound request. Any panic is contained here:
// the message is dropped and the connection stays up.
func (m *Manager) OnMessage(c Conn, req *protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("dispatch panic (type=%d code=%q): %v", req.Type, req.Code, r)
		}
	}()

	m.mu.Lock()
	s, ok := m.sessions[c]
	m.mu.Unlock()
	if !ok {
		return
	}

	resp := &protocol.Response{ID: req.ID}
	switch req.Type {
	case protocol.RequestLogin:
		if !m.handleLogin(s, req, resp) {
			return // connection closed
		}
	case protocol.RequestTest:
		m.handleTest(s, req, resp)
	case protocol.RequestStart:
		m.handleStart(s, req, resp)
	case protocol.RequestStop:
		m.handleStop(s, req, resp)
	case protocol.RequestKeepAlive:
		return
	default:
		resp.Status = protocol.StatusFailure
	}

	if err := s.conn.Send(resp); err != nil {
		m.log.Printf("session %s: send failed: %v", s.id, err)
	}
}

// handleLogin binds the session to a game. Returns false when the
// connection was closed instead of answered.
func (m *Manager) handleLogin(s *Session, req *protocol.Request, resp *protocol.Response) bool {
	// A bound session stays bound. Accepting a second login would either
	// double-count the admission gate or silently rebind the session and
	// leak the first game's gate at disconnect.
	if s.loggedIn {
		resp.Status = protocol.StatusFailure
		return true
	}

	password, err := decodePassword(req.Message)
	if err != nil {
		m.closeWith(s, "The supplied password was not valid.")
		return false
	}

	code, ok := m.passwords.lookup(password)
	if !ok {
		m.recordLogin(0, s, false)
		m.closeWith(s, "The supplied password was not valid.")
		return false
	}
	if _, ok := m.dir.Find(code); !ok {
		m.recordLogin(code, s, false)
		m.closeWith(s, "The supplied password was not valid.")
		return false
	}

	if !m.admission.IncrementIfZero(code) {
		m.recordLogin(code, s, false)
		m.closeWith(s, "A host is already connected to this game.")
		return false
	}

	effects := byCode(m.cache.Get(code))
	m.mu.Lock()
	s.game = code
	s.password = password
	s.effects = effects
	s.loggedIn = true
	m.mu.Unlock()
	resp.Type = protocol.ResponseLoginSuccess

	m.recordLogin(code, s, true)
	m.log.Printf("session %s logged in to game %d (%d effects)", s.id, code, len(s.effects))
	return true
}

func (m *Manager) handleTest(s *Session, req *protocol.Request, resp *protocol.Response) {
	e, status := m.resolve(s, req)
	if e != nil {
		if e.IsReady() {
			status = protocol.StatusSuccess
		} else {
			status = protocol.StatusRetry
		}
	}
	resp.Status = status
	m.recordEffect(s, req, resp.Status)
}

func (m *Manager) handleStart(s *Session, req *protocol.Request, resp *protocol.Response) {
	e, status := m.resolve(s, req)
	if e == nil {
		resp.Status = status
		m.recordEffect(s, req, resp.Status)
		return
	}

	if !m.arbiter.TryAcquire(e) {
		resp.Status = protocol.StatusRetry
		m.recordEffect(s, req, resp.Status)
		return
	}
	if !e.TryStart(req) {
		m.arbiter.ReleaseAll(e)
		resp.Status = protocol.StatusRetry
		m.recordEffect(s, req, resp.Status)
		return
	}

	duration := e.Duration()
	if req.Duration > 0 {
		duration = time.Duration(req.Duration) * time.Second
	}
	resp.Status = protocol.StatusSuccess
	if e.Kind() == effect.Timed {
		resp.TimeRemaining = duration.Milliseconds()
	}

	// Instant effects get a zero-delay stop so they can run again; timed
	// effects get their real expiry. Either way the timer survives this
	// connection.
	m.scheduler.ScheduleStop(e, duration)
	m.recordEffect(s, req, resp.Status)
}

func (m *Manager) handleStop(s *Session, req *protocol.Request, resp *protocol.Response) {
	e, status := m.resolve(s, req)
	if e == nil {
		resp.Status = status
		m.recordEffect(s, req, resp.Status)
		return
	}

	if m.scheduler.StopNow(e) {
		resp.Status = protocol.StatusSuccess
	} else {
		resp.Status = protocol.StatusRetry
	}
	m.recordEffect(s, req, resp.Status)
}

// resolve applies the checks shared by Test/Start/Stop: logged in, then a
// known effect code. A bound session whose game was destroyed has an empty
// catalog, so every code resolves to Failure.
func (m *Manager) resolve(s *Session, req *protocol.Request) (*effect.Effect, protocol.Status) {
	m.mu.Lock()
	loggedIn := s.loggedIn
	e, ok := s.effects[req.Code]
	m.mu.Unlock()

	if !loggedIn {
		return nil, protocol.StatusNotReady
	}
	if !ok {
		return nil, protocol.StatusFailure
	}
	return e, protocol.StatusSuccess
}

// closeWith sends a best-effort Disconnect message and closes the
// connection. All teardown accounting (admission, password, session entry)
// happens in OnDisconnect when the transport notices the close.
func (m *Manager) closeWith(s *Session, message string) {
	if err := s.conn.Send(&protocol.Response{Type: protocol.ResponseDisconnect, Message: message}); err != nil {
		m.log.Printf("session %s: disconnect notice failed: %v", s.id, err)
	}
	if err := s.conn.Close(); err != nil {
		m.log.Printf("session %s: close failed: %v", s.id, err)
	}
}

func (m *Manager) onGameCreated(code game.Code) {
	m.admission.Create(code)
}

// onGameDestroyed releases everything keyed by the game: catalog, admission
// counter, outstanding passwords, and the catalogs held by bound sessions,
// whose requests then resolve to Failure until they disconnect.
func (m *Manager) onGameDestroyed(code game.Code) {
	m.cache.Evict(code)
	m.admission.Remove(code)
	m.passwords.removeGame(code)

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.loggedIn && s.game == code {
			s.effects = nil
		}
	}
	m.mu.Unlock()
}

// onPlayerSpawned issues a one-time password to the host of a fresh game
// via an in-game chat message.
func (m *Manager) onPlayerSpawned(code game.Code, playerID int, isHost bool) {
	if !isHost {
		return
	}
	g, ok := m.dir.Find(code)
	if !ok || g.State != game.StateNotStarted {
		return
	}

	pw := m.gen.New()
	m.passwords.put(pw, code)

	res := m.exec.Execute(game.CmdSendChat, game.ChatPayload{
		Code:     code,
		PlayerID: playerID,
		Message:  "Your Crowd Control password is: " + pw,
	})
	if !res.OK() {
		m.log.Printf("game %d: password chat delivery failed: code=%d err=%s", code, res.Code, res.Err)
	}
}

func (m *Manager) recordLogin(code game.Code, s *Session, ok bool) {
	if m.audit != nil {
		m.audit.RecordLogin(code, s.conn.RemoteAddr(), ok)
	}
}

func (m *Manager) recordEffect(s *Session, req *protocol.Request, status protocol.Status) {
	if m.audit != nil {
		m.audit.RecordEffect(s.game, req.Code, req.ID, req.Type, status)
	}
}

func byCode(es []*effect.Effect) map[string]*effect.Effect {
	out := make(map[string]*effect.Effect, len(es))
	for _, e := range es {
		out[e.Code()] = e
	}
	return out
}
