// Package domain holds the lobby value types shared by battles, commands
// and the server runtime.
package domain

import (
	"fmt"
	"strings"
)

// Mode selects how a battle is played and balanced.
type Mode int

const (
	// ModeNone is a freeform custom battle; the founder controls teams.
	ModeNone Mode = iota
	// ModeTeams is balanced team play.
	ModeTeams
	// Mode1v1 is a duel.
	Mode1v1
	// ModeFFA is free for all.
	ModeFFA
	// ModeChickens is cooperative play against AI chickens.
	ModeChickens
	// ModePlanetWars is a galaxy campaign battle.
	ModePlanetWars
)

var modeNames = map[Mode]string{
	ModeNone:       "none",
	ModeTeams:      "teams",
	Mode1v1:        "1v1",
	ModeFFA:        "ffa",
	ModeChickens:   "chickens",
	ModePlanetWars: "planetwars",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Freeform reports whether players pick their own teams.
func (m Mode) Freeform() bool { return m == ModeNone }

// DefaultMaxPlayers applies the per-mode capacity rule to a requested
// capacity.
func (m Mode) DefaultMaxPlayers(requested int) int {
	switch m {
	case Mode1v1:
		return 2
	case ModePlanetWars:
		if requested < 2 {
			return 16
		}
	case ModeChickens:
		if requested < 2 {
			return 10
		}
	case ModeFFA:
		if requested < 3 {
			return 16
		}
	case ModeTeams:
		if requested < 4 {
			return 16
		}
	case ModeNone:
		if requested <= 0 {
			return 16
		}
	}
	return requested
}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	switch s {
	case "custom", "":
		return ModeNone, nil
	case "team":
		return ModeTeams, nil
	case "duel":
		return Mode1v1, nil
	case "coop", "chicken":
		return ModeChickens, nil
	}
	return ModeNone, fmt.Errorf("unknown battle mode %q", s)
}
