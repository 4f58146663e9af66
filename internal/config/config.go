// Package config loads server tuning from yaml. Everything here has a
// sensible default so the server can start with no config file at all.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crewcontrol.gg/internal/game"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"` // raw TCP control protocol
	WSAddr     string `yaml:"ws_addr"`     // websocket control protocol ("" disables)
	DataDir    string `yaml:"data_dir"`
	Wordlist   string `yaml:"wordlist"`

	Effects  Effects  `yaml:"effects"`
	Sabotage Sabotage `yaml:"sabotage"`
}

// Effects tunes the built-in effect catalog.
type Effects struct {
	TimedDurationSec int `yaml:"timed_duration_sec"`

	SpeedScale       float64 `yaml:"speed_scale"`
	VisionScale      float64 `yaml:"vision_scale"`
	CooldownScale    float64 `yaml:"cooldown_scale"`
	KillDistanceStep int     `yaml:"kill_distance_step"`
	VotingTimeStep   int     `yaml:"voting_time_step"` // seconds
}

// Sabotage maps each map to its reactor-style system and countdown. The
// hosting engine is the authority on which room a map's reactor sabotage
// actually targets, so this stays configuration rather than code.
type Sabotage struct {
	Maps map[string]MapSabotage `yaml:"maps"`
}

type MapSabotage struct {
	ReactorSystem string  `yaml:"reactor_system"` // "reactor" or "laboratory"
	CountdownSec  float64 `yaml:"countdown_sec"`
}

func Defaults() Config {
	return Config{
		ListenAddr: ":38984",
		WSAddr:     "",
		DataDir:    "./data",
		Wordlist:   "./words.txt",
		Effects: Effects{
			TimedDurationSec: 30,
			SpeedScale:       2.0,
			VisionScale:      2.0,
			CooldownScale:    2.0,
			KillDistanceStep: 1,
			VotingTimeStep:   10,
		},
		Sabotage: Sabotage{
			Maps: map[string]MapSabotage{
				"skeld":   {ReactorSystem: "reactor", CountdownSec: 30},
				"mira":    {ReactorSystem: "reactor", CountdownSec: 45},
				"polus":   {ReactorSystem: "laboratory", CountdownSec: 60},
				"airship": {ReactorSystem: "reactor", CountdownSec: 90},
			},
		},
	}
}

// Load reads yaml config from path, layered over Defaults.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

var mapKeys = map[game.Map]string{
	game.MapSkeld:   "skeld",
	game.MapMiraHQ:  "mira",
	game.MapPolus:   "polus",
	game.MapAirship: "airship",
}

// ReactorFor resolves the reactor-style sabotage system and countdown for a
// map. The second return is false for unsupported maps.
func (s Sabotage) ReactorFor(m game.Map) (game.System, float64, bool) {
	key, ok := mapKeys[m]
	if !ok {
		return 0, 0, false
	}
	ms, ok := s.Maps[key]
	if !ok {
		return 0, 0, false
	}
	sys := game.SystemReactor
	if ms.ReactorSystem == "laboratory" {
		sys = game.SystemLaboratory
	}
	return sys, ms.CountdownSec, true
}
