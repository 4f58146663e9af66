package game

// Kind enumerates the external commands the control core may issue.
type Kind int

const (
	CmdUpdateGame Kind = iota
	CmdSetSabotage
	CmdClearSabotage
	CmdCloseAllDoors
	CmdSendChat
	CmdGetGameOptions
	CmdKickPlayer
	CmdNewGame
	CmdRemoveGame
)

func (k Kind) String() string {
	switch k {
	case CmdUpdateGame:
		return "UpdateGame"
	case CmdSetSabotage:
		return "SetSabotage"
	case CmdClearSabotage:
		return "ClearSabotage"
	case CmdCloseAllDoors:
		return "CloseAllDoors"
	case CmdSendChat:
		return "SendChat"
	case CmdGetGameOptions:
		return "GetGameOptions"
	case CmdKickPlayer:
		return "KickPlayer"
	case CmdNewGame:
		return "NewGame"
	case CmdRemoveGame:
		return "RemoveGame"
	default:
		return "Unknown"
	}
}

// Command error codes.
const (
	ErrNone           = 0
	ErrBadPayload     = 1
	ErrGameNotFound   = 2
	ErrUnexpected     = 3
	ErrUnknownCommand = 4
)

// UpdatePayload replaces a game's round options.
type UpdatePayload struct {
	Code    Code
	Options *Options
}

// SabotagePayload triggers or clears one sabotage system. Countdown is the
// system countdown seconds where the system has one (reactor family).
type SabotagePayload struct {
	Code      Code
	System    System
	Countdown float64
}

// DoorsPayload closes every door on the map.
type DoorsPayload struct {
	Code Code
}

// ChatPayload delivers a private chat line to one player.
type ChatPayload struct {
	Code     Code
	PlayerID int
	Message  string
}

// NewGamePayload creates a fresh game with the given round options.
type NewGamePayload struct {
	Code    Code
	Options *Options
}

// KickPayload removes a player from a game.
type KickPayload struct {
	Code     Code
	PlayerID int
	Ban      bool
}

// Result is what an external command returns. A command succeeded iff
// Code == ErrNone and Data is non-nil.
type Result struct {
	Code int
	Data any
	Err  string
}

// OK reports command success per the executor contract.
func (r Result) OK() bool { return r.Code == ErrNone && r.Data != nil }

// Failure builds an error result.
func Failure(code int, err string) Result { return Result{Code: code, Err: err} }

// Executor runs external commands against the hosting game server. Calls may
// block until the engine has applied the mutation.
type Executor interface {
	Execute(kind Kind, payload any) Result
}
