package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable secondary index over the audit trail. Writes
// flow through a single goroutine; callers never block on the database, and
// entries are dropped if the indexer falls behind (the JSONL files remain
// the source of truth).
type SQLiteIndex struct {
	db *sql.DB

	ch   chan indexReq
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type indexKind int

const (
	indexLogin indexKind = iota + 1
	indexEffect
)

type indexReq struct {
	kind   indexKind
	login  LoginEntry
	effect EffectEntry
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan indexReq, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only write pattern; NORMAL is enough durability
	// for a derived index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logins (
			at TEXT NOT NULL,
			game INTEGER NOT NULL,
			remote TEXT NOT NULL,
			ok INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_logins_game ON logins(game, at);`,
		`CREATE TABLE IF NOT EXISTS effects (
			at TEXT NOT NULL,
			game INTEGER NOT NULL,
			effect TEXT NOT NULL,
			request_id INTEGER NOT NULL,
			request_type INTEGER NOT NULL,
			status INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_game ON effects(game, at);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_code ON effects(effect, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the write queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteLogin(e LoginEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- indexReq{kind: indexLogin, login: e}:
	default:
	}
}

func (s *SQLiteIndex) WriteEffect(e EffectEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- indexReq{kind: indexEffect, effect: e}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	insertLogin, _ := s.db.Prepare(`INSERT INTO logins(at,game,remote,ok) VALUES(?,?,?,?)`)
	insertEffect, _ := s.db.Prepare(`INSERT INTO effects(at,game,effect,request_id,request_type,status) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertLogin != nil {
			_ = insertLogin.Close()
		}
		if insertEffect != nil {
			_ = insertEffect.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case indexLogin:
			if insertLogin != nil {
				_, _ = insertLogin.Exec(r.login.At, r.login.Game, r.login.Remote, boolInt(r.login.OK))
			}
		case indexEffect:
			if insertEffect != nil {
				_, _ = insertEffect.Exec(r.effect.At, r.effect.Game, r.effect.Effect,
					r.effect.RequestID, r.effect.RequestType, r.effect.Status)
			}
		}
	}
}

// EffectCounts returns per-status request counts for one game.
func (s *SQLiteIndex) EffectCounts(game int32) (map[int]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM effects WHERE game = ? GROUP BY status`, game)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// LoginCount returns how many login attempts one game has seen, split by
// outcome.
func (s *SQLiteIndex) LoginCount(game int32, ok bool) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM logins WHERE game = ? AND ok = ?`, game, boolInt(ok)).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
