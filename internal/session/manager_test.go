package session

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"crewcontrol.gg/internal/config"
	"crewcontrol.gg/internal/effect"
	"crewcontrol.gg/internal/game"
	"crewcontrol.gg/internal/protocol"
	"crewcontrol.gg/internal/track"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*protocol.Response
	closed bool
}

func (c *fakeConn) Send(r *protocol.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, r)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "test:0" }

func (c *fakeConn) last(t *testing.T) *protocol.Response {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("no response sent")
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fixture struct {
	mem     *game.Memory
	tracker *track.Tracker
	mgr     *Manager
	chat    chan game.ChatPayload
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	mem := game.NewMemory()
	chat := make(chan game.ChatPayload, 8)
	mem.Chat = chat

	tracker := track.New(logger)
	arbiter := effect.NewArbiter()
	scheduler := effect.NewScheduler(arbiter, logger)
	cfg := config.Defaults()
	factory := &effect.Factory{
		Tracker:  tracker,
		Dir:      mem,
		Exec:     mem,
		Effects:  cfg.Effects,
		Sabotage: cfg.Sabotage,
		Log:      logger,
	}
	cache := effect.NewCache(factory.Build, logger)

	words := make([]string, 0, 103)
	for i := 0; i < 100; i++ {
		words = append(words, fmt.Sprintf("filler%d", i))
	}
	words = append(words, "foo", "bar", "baz")
	gen, err := NewGenerator(words, 1)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}

	mgr := NewManager(Deps{
		Dir:       mem,
		Exec:      mem,
		Tracker:   tracker,
		Cache:     cache,
		Arbiter:   arbiter,
		Scheduler: scheduler,
		Generator: gen,
		Log:       logger,
	})
	t.Cleanup(mgr.Close)

	return &fixture{mem: mem, tracker: tracker, mgr: mgr, chat: chat}
}

// spawnGame creates a game, spawns its host and returns the issued
// password (extracted from the in-game chat message).
func (f *fixture) spawnGame(t *testing.T, code game.Code) string {
	t.Helper()
	opts := &game.Options{Map: game.MapSkeld, PlayerSpeedMod: 1, CrewLightMod: 1, ImpostorLightMod: 1, KillCooldown: 25, KillDistance: 1, VotingTime: 120}
	f.mem.Add(code, opts)
	f.tracker.GameCreated(code, opts)
	f.tracker.PlayerSpawned(code, 1, true)

	select {
	case msg := <-f.chat:
		const prefix = "Your Crowd Control password is: "
		if !strings.HasPrefix(msg.Message, prefix) {
			t.Fatalf("unexpected chat message %q", msg.Message)
		}
		return strings.TrimPrefix(msg.Message, prefix)
	default:
		t.Fatalf("no password chat message issued")
		return ""
	}
}

func (f *fixture) startRound(code game.Code) {
	g, _ := f.mem.Find(code)
	f.tracker.GameStarting(code, g.Options)
	f.mem.SetState(code, game.StateStarted)
	f.tracker.GameStarted(code)
}

func (f *fixture) login(t *testing.T, code game.Code, password string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.mgr.OnConnect(conn)
	f.mgr.OnMessage(conn, &protocol.Request{
		ID: 1, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte(password)),
	})
	resp := conn.last(t)
	if resp.Type != protocol.ResponseLoginSuccess {
		t.Fatalf("login failed: %+v", resp)
	}
	return conn
}

func TestConnectPromptsLogin(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.mgr.OnConnect(conn)
	if conn.last(t).Type != protocol.ResponseLogin {
		t.Fatalf("expected login prompt, got %+v", conn.last(t))
	}
}

func TestLogin_HappyPath(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)

	// The client hex-encodes the password; case folds away server-side.
	conn := f.login(t, 300, pw)
	if conn.isClosed() {
		t.Fatalf("connection closed after successful login")
	}
}

func TestLogin_UnknownPasswordCloses(t *testing.T) {
	f := newFixture(t)
	f.spawnGame(t, 300)

	conn := &fakeConn{}
	f.mgr.OnConnect(conn)
	f.mgr.OnMessage(conn, &protocol.Request{
		ID: 1, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte("WrongWords")),
	})

	resp := conn.last(t)
	if resp.Type != protocol.ResponseDisconnect {
		t.Fatalf("expected disconnect, got %+v", resp)
	}
	if !conn.isClosed() {
		t.Fatalf("connection left open after bad password")
	}

	// No bound session: a later request still reads as not logged in.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 2, Type: protocol.RequestTest, Code: "CloseAllDoors"})
	if conn.last(t).Status != protocol.StatusNotReady {
		t.Fatalf("expected NotReady after failed login, got %+v", conn.last(t))
	}
}

func TestLogin_MalformedHexCloses(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.mgr.OnConnect(conn)
	f.mgr.OnMessage(conn, &protocol.Request{ID: 1, Type: protocol.RequestLogin, Message: "zz-not-hex"})
	if !conn.isClosed() {
		t.Fatalf("malformed hex should close the connection")
	}
}

func TestLogin_SecondHostRejected(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)

	first := f.login(t, 300, pw)

	second := &fakeConn{}
	f.mgr.OnConnect(second)
	f.mgr.OnMessage(second, &protocol.Request{
		ID: 1, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte(pw)),
	})
	resp := second.last(t)
	if resp.Type != protocol.ResponseDisconnect {
		t.Fatalf("expected disconnect for second host, got %+v", resp)
	}
	if !second.isClosed() {
		t.Fatalf("second connection left open")
	}
	if first.isClosed() {
		t.Fatalf("first session must remain bound")
	}

	// The gate frees on disconnect; the password died with its session, so
	// a new one is issued on the next host spawn.
	f.mgr.OnDisconnect(first)
	f.tracker.PlayerSpawned(300, 1, true)
	var pw2 string
	select {
	case msg := <-f.chat:
		pw2 = strings.TrimPrefix(msg.Message, "Your Crowd Control password is: ")
	default:
		t.Fatalf("no fresh password after disconnect")
	}
	f.login(t, 300, pw2)
}

// A bound session cannot log in again: doing so would double-count or
// rebind the admission gate and leak it at disconnect.
func TestLogin_RebindAttemptRejected(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)

	// Same password again: rejected, session stays bound and open.
	f.mgr.OnMessage(conn, &protocol.Request{
		ID: 2, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte(pw)),
	})
	if resp := conn.last(t); resp.Status != protocol.StatusFailure {
		t.Fatalf("re-login: got %+v", resp)
	}
	if conn.isClosed() {
		t.Fatalf("re-login closed the connection")
	}

	// Still bound: a known effect resolves (Retry in the lobby, not NotReady).
	f.mgr.OnMessage(conn, &protocol.Request{ID: 3, Type: protocol.RequestTest, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusRetry {
		t.Fatalf("session lost its binding: %+v", conn.last(t))
	}

	// Another game's password cannot rebind the session either.
	pw2 := f.spawnGame(t, 301)
	f.mgr.OnMessage(conn, &protocol.Request{
		ID: 4, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte(pw2)),
	})
	if conn.last(t).Status != protocol.StatusFailure {
		t.Fatalf("cross-game re-login: %+v", conn.last(t))
	}

	// Game 301's gate is untouched by the rejected attempt.
	f.login(t, 301, pw2)

	// Disconnect must release game 300's gate exactly once: a fresh host
	// can log in again.
	f.mgr.OnDisconnect(conn)
	f.tracker.PlayerSpawned(300, 1, true)
	var pw3 string
	select {
	case msg := <-f.chat:
		pw3 = strings.TrimPrefix(msg.Message, "Your Crowd Control password is: ")
	default:
		t.Fatalf("no password reissued after disconnect")
	}
	f.login(t, 300, pw3)
}

func TestRequests_BeforeLogin(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.mgr.OnConnect(conn)

	for _, typ := range []int{protocol.RequestTest, protocol.RequestStart, protocol.RequestStop} {
		f.mgr.OnMessage(conn, &protocol.Request{ID: 9, Type: typ, Code: "CloseAllDoors"})
		resp := conn.last(t)
		if resp.Status != protocol.StatusNotReady {
			t.Fatalf("type %d before login: got %v", typ, resp.Status)
		}
		if resp.ID != 9 {
			t.Fatalf("response not correlated: %+v", resp)
		}
	}
}

func TestRequests_UnknownEffectCode(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)

	f.mgr.OnMessage(conn, &protocol.Request{ID: 2, Type: protocol.RequestStart, Code: "DoesNotExist"})
	if conn.last(t).Status != protocol.StatusFailure {
		t.Fatalf("unknown code: got %v", conn.last(t).Status)
	}
}

func TestTest_ReadyAndRetry(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)

	// Still in the lobby: effect exists but is not ready.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 2, Type: protocol.RequestTest, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusRetry {
		t.Fatalf("lobby test: got %v", conn.last(t).Status)
	}

	f.startRound(300)
	f.mgr.OnMessage(conn, &protocol.Request{ID: 3, Type: protocol.RequestTest, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("in-game test: got %v", conn.last(t).Status)
	}
}

func TestStart_TimedEffect(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)
	f.startRound(300)

	f.mgr.OnMessage(conn, &protocol.Request{ID: 4, Type: protocol.RequestStart, Code: "DecreasePlayerSpeed"})
	resp := conn.last(t)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("start: got %v", resp.Status)
	}
	if resp.TimeRemaining != 30_000 {
		t.Fatalf("timeRemaining: got %d want 30000", resp.TimeRemaining)
	}

	g, _ := f.mem.Find(300)
	if g.Options.PlayerSpeedMod != 0.5 {
		t.Fatalf("effect not applied: %v", g.Options.PlayerSpeedMod)
	}

	// The opposite direction shares the PlayerSpeed mutex.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 5, Type: protocol.RequestStart, Code: "IncreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusRetry {
		t.Fatalf("conflicting start: got %v", conn.last(t).Status)
	}

	// Explicit stop reverts and frees the mutex.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 6, Type: protocol.RequestStop, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("stop: got %v", conn.last(t).Status)
	}
	g, _ = f.mem.Find(300)
	if g.Options.PlayerSpeedMod != 1.0 {
		t.Fatalf("effect not reverted: %v", g.Options.PlayerSpeedMod)
	}

	f.mgr.OnMessage(conn, &protocol.Request{ID: 7, Type: protocol.RequestStart, Code: "IncreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("start after release: got %v", conn.last(t).Status)
	}
}

func TestStart_DurationOverride(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)
	f.startRound(300)

	f.mgr.OnMessage(conn, &protocol.Request{ID: 4, Type: protocol.RequestStart, Code: "DecreaseCrewVision", Duration: 2})
	resp := conn.last(t)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("start: got %v", resp.Status)
	}
	if resp.TimeRemaining != 2_000 {
		t.Fatalf("override timeRemaining: got %d want 2000", resp.TimeRemaining)
	}
}

func TestStart_NotReadyIsRetry(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)

	// Lobby: acquisition succeeds but the start itself declines.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 4, Type: protocol.RequestStart, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusRetry {
		t.Fatalf("lobby start: got %v", conn.last(t).Status)
	}

	// The failed start must have rolled the mutex back.
	f.startRound(300)
	f.mgr.OnMessage(conn, &protocol.Request{ID: 5, Type: protocol.RequestStart, Code: "IncreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("start after rollback: got %v", conn.last(t).Status)
	}
}

func TestKeepAlive_NoResponse(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.mgr.OnConnect(conn)
	before := len(conn.sent)
	f.mgr.OnMessage(conn, &protocol.Request{ID: 11, Type: protocol.RequestKeepAlive})
	if len(conn.sent) != before {
		t.Fatalf("keepalive produced a response")
	}
}

func TestGameDestroyed_EvictsAndUnbinds(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)
	f.startRound(300)

	f.mem.Remove(300)
	f.tracker.GameDestroyed(300)

	// The session's catalog is gone with the game: every code resolves to
	// Failure, not Retry, so clients stop spinning.
	f.mgr.OnMessage(conn, &protocol.Request{ID: 5, Type: protocol.RequestStart, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusFailure {
		t.Fatalf("start against destroyed game: got %v", conn.last(t).Status)
	}
	f.mgr.OnMessage(conn, &protocol.Request{ID: 6, Type: protocol.RequestTest, Code: "CloseAllDoors"})
	if conn.last(t).Status != protocol.StatusFailure {
		t.Fatalf("test against destroyed game: got %v", conn.last(t).Status)
	}

	// The password table was flushed: a reconnect cannot log back in.
	other := &fakeConn{}
	f.mgr.OnConnect(other)
	f.mgr.OnMessage(other, &protocol.Request{
		ID: 1, Type: protocol.RequestLogin, Message: hex.EncodeToString([]byte(pw)),
	})
	if !other.isClosed() {
		t.Fatalf("login with a destroyed game's password should close")
	}
}

func TestDisconnect_StopsInFlightEffects(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)
	f.startRound(300)

	f.mgr.OnMessage(conn, &protocol.Request{ID: 4, Type: protocol.RequestStart, Code: "DecreasePlayerSpeed"})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("start: got %v", conn.last(t).Status)
	}

	f.mgr.OnDisconnect(conn)

	// Effect reverted and mutex released: a new session can use it at once.
	g, _ := f.mem.Find(300)
	if g.Options.PlayerSpeedMod != 1.0 {
		t.Fatalf("disconnect did not revert the effect: %v", g.Options.PlayerSpeedMod)
	}

	f.tracker.PlayerSpawned(300, 1, true)
	// Game is mid-round, so no fresh password is issued; drain defensively.
	select {
	case <-f.chat:
	default:
	}
}

func TestCatalog_SingleBuildAcrossLogins(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)

	conn := f.login(t, 300, pw)
	f.mgr.OnDisconnect(conn)

	// Catalogs are cached per game, not per session: a rebuilt session for
	// the same game sees the same effect instances.
	f.tracker.PlayerSpawned(300, 1, true)
	var pw2 string
	select {
	case msg := <-f.chat:
		pw2 = strings.TrimPrefix(msg.Message, "Your Crowd Control password is: ")
	default:
		t.Fatalf("no password reissued")
	}
	conn2 := f.login(t, 300, pw2)

	f.startRound(300)
	f.mgr.OnMessage(conn2, &protocol.Request{ID: 2, Type: protocol.RequestTest, Code: "SabotageReactor"})
	if conn2.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("cached catalog unusable after re-login: %v", conn2.last(t).Status)
	}
}

func TestScheduler_AutoStopAfterStart(t *testing.T) {
	f := newFixture(t)
	pw := f.spawnGame(t, 300)
	conn := f.login(t, 300, pw)
	f.startRound(300)

	f.mgr.OnMessage(conn, &protocol.Request{ID: 4, Type: protocol.RequestStart, Code: "DecreasePlayerSpeed", Duration: 1})
	if conn.last(t).Status != protocol.StatusSuccess {
		t.Fatalf("start: got %v", conn.last(t).Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		g, _ := f.mem.Find(300)
		if g.Options.PlayerSpeedMod == 1.0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed effect never auto-stopped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
