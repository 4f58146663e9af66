package protocol

import "encoding/json"

// Request types (client -> server).
const (
	RequestTest      = 0
	RequestStart     = 1
	RequestStop      = 2
	RequestLogin     = 3
	RequestKeepAlive = 255
)

// Response types (server -> client). Zero value is a plain effect result.
const (
	ResponseEffectResult = 0
	ResponseLogin        = 240
	ResponseLoginSuccess = 241
	ResponseDisconnect   = 254
)

// Request is one inbound control message. Duration, when present, overrides
// the effect's default duration for this invocation only.
type Request struct {
	ID       uint32 `json:"id"`
	Type     int    `json:"type"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
}

// Response is correlated to a Request by ID. TimeRemaining is milliseconds.
type Response struct {
	ID            uint32 `json:"id"`
	Type          int    `json:"type"`
	Status        Status `json:"status"`
	TimeRemaining int64  `json:"timeRemaining,omitempty"`
	Message       string `json:"message,omitempty"`
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	ID   uint32 `json:"id"`
	Type int    `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
