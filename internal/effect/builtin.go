package effect

import (
	"log"
	"time"

	"crewcontrol.gg/internal/config"
	"crewcontrol.gg/internal/game"
	"crewcontrol.gg/internal/protocol"
	"crewcontrol.gg/internal/track"
)

// Factory builds the built-in effect catalog for a game. One Factory serves
// every game; the per-game binding happens in Build.
type Factory struct {
	Tracker  *track.Tracker
	Dir      game.Directory
	Exec     game.Executor
	Effects  config.Effects
	Sabotage config.Sabotage
	Log      *log.Logger
}

// Build constructs the full catalog for one game. Load hooks are run by the
// catalog cache, not here.
func (f *Factory) Build(code game.Code) []*Effect {
	timed := time.Duration(f.Effects.TimedDurationSec) * time.Second

	es := []*Effect{
		// Timed option effects; each pair shares a mutex so the two
		// directions cannot overlap.
		f.timedOption(code, "IncreasePlayerSpeed", 1, timed, "PlayerSpeed",
			func(cur, snap *game.Options) { cur.PlayerSpeedMod = snap.PlayerSpeedMod * f.Effects.SpeedScale },
			func(cur, snap *game.Options) { cur.PlayerSpeedMod = snap.PlayerSpeedMod }),
		f.timedOption(code, "DecreasePlayerSpeed", 2, timed, "PlayerSpeed",
			func(cur, snap *game.Options) { cur.PlayerSpeedMod = snap.PlayerSpeedMod / f.Effects.SpeedScale },
			func(cur, snap *game.Options) { cur.PlayerSpeedMod = snap.PlayerSpeedMod }),
		f.timedOption(code, "IncreaseCrewVision", 3, timed, "CrewVision",
			func(cur, snap *game.Options) { cur.CrewLightMod = snap.CrewLightMod * f.Effects.VisionScale },
			func(cur, snap *game.Options) { cur.CrewLightMod = snap.CrewLightMod }),
		f.timedOption(code, "DecreaseCrewVision", 4, timed, "CrewVision",
			func(cur, snap *game.Options) { cur.CrewLightMod = snap.CrewLightMod / f.Effects.VisionScale },
			func(cur, snap *game.Options) { cur.CrewLightMod = snap.CrewLightMod }),
		f.timedOption(code, "IncreaseImpostorVision", 5, timed, "ImpostorVision",
			func(cur, snap *game.Options) { cur.ImpostorLightMod = snap.ImpostorLightMod * f.Effects.VisionScale },
			func(cur, snap *game.Options) { cur.ImpostorLightMod = snap.ImpostorLightMod }),
		f.timedOption(code, "DecreaseImpostorVision", 6, timed, "ImpostorVision",
			func(cur, snap *game.Options) { cur.ImpostorLightMod = snap.ImpostorLightMod / f.Effects.VisionScale },
			func(cur, snap *game.Options) { cur.ImpostorLightMod = snap.ImpostorLightMod }),
		f.timedOption(code, "IncreaseKillCooldown", 7, timed, "KillCooldown",
			func(cur, snap *game.Options) { cur.KillCooldown = snap.KillCooldown * f.Effects.CooldownScale },
			func(cur, snap *game.Options) { cur.KillCooldown = snap.KillCooldown }),
		f.timedOption(code, "DecreaseKillCooldown", 8, timed, "KillCooldown",
			func(cur, snap *game.Options) { cur.KillCooldown = snap.KillCooldown / f.Effects.CooldownScale },
			func(cur, snap *game.Options) { cur.KillCooldown = snap.KillCooldown }),
		f.timedOption(code, "IncreaseKillDistance", 9, timed, "KillDistance",
			func(cur, snap *game.Options) { cur.KillDistance = snap.KillDistance + f.Effects.KillDistanceStep },
			func(cur, snap *game.Options) { cur.KillDistance = snap.KillDistance }),
		f.timedOption(code, "DecreaseKillDistance", 10, timed, "KillDistance",
			func(cur, snap *game.Options) { cur.KillDistance = snap.KillDistance - f.Effects.KillDistanceStep },
			func(cur, snap *game.Options) { cur.KillDistance = snap.KillDistance }),

		// Round-wide setting toggles.
		f.settingToggle(code, "EnableAnonymousVoting", 11,
			func(o *game.Options) { o.AnonymousVotes = true }),
		f.settingToggle(code, "DisableAnonymousVoting", 12,
			func(o *game.Options) { o.AnonymousVotes = false }),
		f.settingToggle(code, "EnableVisualTasks", 13,
			func(o *game.Options) { o.VisualTasks = true }),
		f.settingToggle(code, "DisableVisualTasks", 14,
			func(o *game.Options) { o.VisualTasks = false }),
		f.settingToggle(code, "EnableConfirmImpostor", 15,
			func(o *game.Options) { o.ConfirmImpostor = true }),
		f.settingToggle(code, "DisableConfirmImpostor", 16,
			func(o *game.Options) { o.ConfirmImpostor = false }),

		// Meeting effects.
		f.votingTime(code, "IncrementVotingTime", 17, f.Effects.VotingTimeStep),
		f.votingTime(code, "DecrementVotingTime", 18, -f.Effects.VotingTimeStep),

		// Doors.
		f.closeAllDoors(code, 19),
	}

	// Sabotage/fix pairs. Which system "reactor" means is map-dependent and
	// comes from config.
	es = append(es,
		f.sabotage(code, "SabotageComms", 20, f.fixedSystem(game.SystemComms), 0),
		f.fix(code, "FixComms", 21, f.fixedSystem(game.SystemComms)),
		f.sabotage(code, "SabotageReactor", 22, f.reactorSystem(), -1),
		f.fix(code, "FixReactor", 23, f.reactorSystem()),
		f.sabotage(code, "SabotageElectric", 24, f.fixedSystem(game.SystemElectrical), 0),
		f.fix(code, "FixElectric", 25, f.fixedSystem(game.SystemElectrical)),
		f.sabotage(code, "SabotageO2", 26, f.fixedSystem(game.SystemOxygen), 30),
		f.fix(code, "FixO2", 27, f.fixedSystem(game.SystemOxygen)),
	)

	return es
}

// systemFor resolves which sabotage system an effect targets on the current
// map. Returns false if the map does not support it.
type systemFor func(g *game.Game) (game.System, float64, bool)

func (f *Factory) fixedSystem(sys game.System) systemFor {
	return func(g *game.Game) (game.System, float64, bool) {
		if g.Systems == nil || !g.Systems.Known(sys) {
			return 0, 0, false
		}
		return sys, 0, true
	}
}

func (f *Factory) reactorSystem() systemFor {
	return func(g *game.Game) (game.System, float64, bool) {
		sys, countdown, ok := f.Sabotage.ReactorFor(g.Options.Map)
		if !ok || g.Systems == nil || !g.Systems.Known(sys) {
			return 0, 0, false
		}
		return sys, countdown, true
	}
}

// liveGame returns the game if the tracker knows it, its coarse state
// matches want, and the engine agrees the round is underway. The tracked
// state can lag the engine's own state, so both are checked.
func (f *Factory) liveGame(code game.Code, want track.State) (*game.Game, bool) {
	if !f.Tracker.HasState(code) || !f.Tracker.HasStartingOptions(code) {
		return nil, false
	}
	s, ok := f.Tracker.TryGetState(code)
	if !ok || s != want {
		return nil, false
	}
	g, ok := f.Dir.Find(code)
	if !ok || g.State != game.StateStarted {
		return nil, false
	}
	return g, true
}

// updateOptions clones the game's current options, applies mutate and
// issues an UpdateGame command.
func (f *Factory) updateOptions(g *game.Game, mutate func(*game.Options)) bool {
	opts := g.Options.Clone()
	mutate(opts)
	res := f.Exec.Execute(game.CmdUpdateGame, game.UpdatePayload{Code: g.Code, Options: opts})
	if !res.OK() {
		f.Log.Printf("game %d: UpdateGame failed: code=%d err=%s", g.Code, res.Code, res.Err)
	}
	return res.OK()
}

func (f *Factory) timedOption(code game.Code, name string, id uint32, duration time.Duration,
	mutex string, apply, revert func(cur, snap *game.Options)) *Effect {

	withSnapshot := func(fn func(cur, snap *game.Options)) bool {
		g, ok := f.liveGame(code, track.StateInGame)
		if !ok {
			return false
		}
		snap, ok := f.Tracker.TryGetStartingOptions(code)
		if !ok {
			return false
		}
		return f.updateOptions(g, func(cur *game.Options) { fn(cur, snap) })
	}

	return New(Def{
		Code:     name,
		ID:       id,
		Kind:     Timed,
		Duration: duration,
		Mutex:    []string{mutex},
		// Not ready in the lobby: settings can change freely there, so the
		// revert target would be a moving one. The starting snapshot only
		// pins options once the round begins.
		Ready: func() bool {
			_, ok := f.liveGame(code, track.StateInGame)
			return ok
		},
		Start: func(*protocol.Request) bool { return withSnapshot(apply) },
		Stop:  func() bool { return withSnapshot(revert) },
	}, f.Log)
}

func (f *Factory) settingToggle(code game.Code, name string, id uint32, set func(*game.Options)) *Effect {
	return New(Def{
		Code: name,
		ID:   id,
		Kind: Instant,
		Ready: func() bool {
			_, ok := f.liveGame(code, track.StateInGame)
			return ok
		},
		Start: func(*protocol.Request) bool {
			g, ok := f.liveGame(code, track.StateInGame)
			if !ok {
				return false
			}
			return f.updateOptions(g, set)
		},
	}, f.Log)
}

// votingTime builds the meeting-only voting time effects. The change is
// reverted automatically when the meeting ends, via a tracker subscription
// registered for the catalog's lifetime.
func (f *Factory) votingTime(code game.Code, name string, id uint32, step int) *Effect {
	var unsub func()

	reset := func(c game.Code) {
		if c != code {
			return
		}
		g, ok := f.Dir.Find(code)
		if !ok {
			return
		}
		snap, ok := f.Tracker.TryGetStartingOptions(code)
		if !ok {
			return
		}
		f.updateOptions(g, func(cur *game.Options) { cur.VotingTime = snap.VotingTime })
	}

	return New(Def{
		Code: name,
		ID:   id,
		Kind: Instant,
		Ready: func() bool {
			_, ok := f.liveGame(code, track.StateInMeeting)
			return ok
		},
		Start: func(*protocol.Request) bool {
			g, ok := f.liveGame(code, track.StateInMeeting)
			if !ok {
				return false
			}
			return f.updateOptions(g, func(cur *game.Options) { cur.VotingTime += step })
		},
		Load: func() {
			unsub = f.Tracker.Subscribe(&track.Listener{OnMeetingEnded: reset})
		},
		Unload: func() {
			if unsub != nil {
				unsub()
			}
		},
	}, f.Log)
}

func (f *Factory) closeAllDoors(code game.Code, id uint32) *Effect {
	return New(Def{
		Code: "CloseAllDoors",
		ID:   id,
		Kind: Instant,
		Ready: func() bool {
			_, ok := f.liveGame(code, track.StateInGame)
			return ok
		},
		Start: func(*protocol.Request) bool {
			if _, ok := f.liveGame(code, track.StateInGame); !ok {
				return false
			}
			res := f.Exec.Execute(game.CmdCloseAllDoors, game.DoorsPayload{Code: code})
			return res.OK()
		},
	}, f.Log)
}

func (f *Factory) sabotage(code game.Code, name string, id uint32, target systemFor, countdown float64) *Effect {
	return New(Def{
		Code: name,
		ID:   id,
		Kind: Instant,
		Ready: func() bool {
			g, ok := f.liveGame(code, track.StateInGame)
			if !ok {
				return false
			}
			sys, _, ok := target(g)
			return ok && !g.Systems.Active(sys)
		},
		Start: func(*protocol.Request) bool {
			g, ok := f.liveGame(code, track.StateInGame)
			if !ok {
				return false
			}
			sys, mapCountdown, ok := target(g)
			if !ok || g.Systems.Active(sys) {
				return false
			}
			cd := countdown
			if cd < 0 {
				cd = mapCountdown
			}
			res := f.Exec.Execute(game.CmdSetSabotage, game.SabotagePayload{
				Code: code, System: sys, Countdown: cd,
			})
			return res.OK()
		},
	}, f.Log)
}

func (f *Factory) fix(code game.Code, name string, id uint32, target systemFor) *Effect {
	return New(Def{
		Code: name,
		ID:   id,
		Kind: Instant,
		Ready: func() bool {
			g, ok := f.liveGame(code, track.StateInGame)
			if !ok {
				return false
			}
			sys, _, ok := target(g)
			return ok && g.Systems.Active(sys)
		},
		Start: func(*protocol.Request) bool {
			g, ok := f.liveGame(code, track.StateInGame)
			if !ok {
				return false
			}
			sys, _, ok := target(g)
			if !ok || !g.Systems.Active(sys) {
				return false
			}
			res := f.Exec.Execute(game.CmdClearSabotage, game.SabotagePayload{Code: code, System: sys})
			return res.OK()
		},
	}, f.Log)
}
