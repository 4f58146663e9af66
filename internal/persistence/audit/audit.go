// Package audit records the control traffic: login attempts and effect
// requests. Entries land in compressed JSONL files and, optionally, a
// sqlite index for querying.
package audit

import (
	"log"
	"path/filepath"
	"time"

	"crewcontrol.gg/internal/game"
	"crewcontrol.gg/internal/protocol"
)

type LoginEntry struct {
	At     string `json:"at"`
	Game   int32  `json:"game"`
	Remote string `json:"remote"`
	OK     bool   `json:"ok"`
}

type EffectEntry struct {
	At          string `json:"at"`
	Game        int32  `json:"game"`
	Effect      string `json:"effect"`
	RequestID   uint32 `json:"request_id"`
	RequestType int    `json:"request_type"`
	Status      int    `json:"status"`
}

// Log is the audit sink handed to the session layer. A nil index disables
// the sqlite side.
type Log struct {
	jsonl *jsonlWriter
	index *SQLiteIndex
	log   *log.Logger
}

// New writes JSONL under dataDir/audit and indexes into index (may be nil).
func New(dataDir string, index *SQLiteIndex, logger *log.Logger) *Log {
	return &Log{
		jsonl: newJSONLWriter(filepath.Join(dataDir, "audit"), "audit"),
		index: index,
		log:   logger,
	}
}

func (l *Log) Close() error {
	return l.jsonl.Close()
}

func (l *Log) RecordLogin(code game.Code, remote string, ok bool) {
	e := LoginEntry{
		At:     time.Now().UTC().Format(time.RFC3339Nano),
		Game:   int32(code),
		Remote: remote,
		OK:     ok,
	}
	if err := l.jsonl.Write(e); err != nil {
		l.log.Printf("audit: login entry: %v", err)
	}
	l.index.WriteLogin(e)
}

func (l *Log) RecordEffect(code game.Code, effectCode string, reqID uint32, reqType int, status protocol.Status) {
	e := EffectEntry{
		At:          time.Now().UTC().Format(time.RFC3339Nano),
		Game:        int32(code),
		Effect:      effectCode,
		RequestID:   reqID,
		RequestType: reqType,
		Status:      int(status),
	}
	if err := l.jsonl.Write(e); err != nil {
		l.log.Printf("audit: effect entry: %v", err)
	}
	l.index.WriteEffect(e)
}
