package game

// Options is the round configuration subset the control core can touch.
type Options struct {
	Map              Map
	PlayerSpeedMod   float64
	CrewLightMod     float64
	ImpostorLightMod float64
	KillCooldown     float64 // seconds
	KillDistance     int
	VotingTime       int // seconds
	AnonymousVotes   bool
	VisualTasks      bool
	ConfirmImpostor  bool
}

// Clone returns an independent copy, used for starting-round snapshots.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
