// Package dedicated supervises the external game engine process that hosts
// one battle's match.
package dedicated

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// Player is one human participant in the start script.
type Player struct {
	Name           string
	ScriptPassword string
	AllyNumber     int
	IsSpectator    bool
	Profile        domain.User
}

// StartSetup is everything the engine needs to host a match.
type StartSetup struct {
	BattleID     int
	Title        string
	Engine       string
	Game         string
	Map          string
	Mode         domain.Mode
	IsMatchMaker bool
	Players      []Player
	Bots         []domain.Bot
	ModOptions   map[string]string
}

// HasPlayer reports whether name was in the start roster.
func (s StartSetup) HasPlayer(name string) bool {
	for _, p := range s.Players {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Visibility is who an in-game chat line was addressed to.
type Visibility int

const (
	Public Visibility = iota
	Allies
	Spectators
	Private
)

func parseVisibility(s string) (Visibility, bool) {
	switch strings.ToLower(s) {
	case "public", "all":
		return Public, true
	case "ally", "allies":
		return Allies, true
	case "spec", "spectators":
		return Spectators, true
	case "private":
		return Private, true
	}
	return Public, false
}

// ActualPlayer is someone who connected to the running engine.
type ActualPlayer struct {
	Name        string
	IsSpectator bool
	AllyNumber  int
}

// Context is what the supervisor observed of one hosted match.
type Context struct {
	Setup         StartSetup
	StartedAt     time.Time
	GameStartedAt *time.Time
	EndedAt       time.Time
	ActualPlayers []ActualPlayer
	WinnerAllies  []int
	ExitCode      int
	Crashed       bool
}

// IsPlayer reports whether name connected as a non-spectator.
func (c Context) IsPlayer(name string) bool {
	for _, p := range c.ActualPlayers {
		if p.Name == name && !p.IsSpectator {
			return true
		}
	}
	return false
}

// HasActual reports whether name connected at all.
func (c Context) HasActual(name string) bool {
	for _, p := range c.ActualPlayers {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (c Context) clone() Context {
	out := c
	out.ActualPlayers = append([]ActualPlayer(nil), c.ActualPlayers...)
	out.WinnerAllies = append([]int(nil), c.WinnerAllies...)
	if c.GameStartedAt != nil {
		at := *c.GameStartedAt
		out.GameStartedAt = &at
	}
	return out
}

// Script renders the engine start script for setup.
func Script(setup StartSetup, ip string, port int) string {
	var b strings.Builder
	b.WriteString("[GAME]\n{\n")
	fmt.Fprintf(&b, "\tHostIP=%s;\n", ip)
	fmt.Fprintf(&b, "\tHostPort=%d;\n", port)
	b.WriteString("\tIsHost=1;\n")
	fmt.Fprintf(&b, "\tGameType=%s;\n", setup.Game)
	fmt.Fprintf(&b, "\tMapName=%s;\n", setup.Map)
	fmt.Fprintf(&b, "\tAutohostMode=%s;\n", setup.Mode)

	allies := map[int]struct{}{}
	team := 0
	for i, p := range setup.Players {
		fmt.Fprintf(&b, "\t[PLAYER%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n", p.Name)
		fmt.Fprintf(&b, "\t\tPassword=%s;\n", p.ScriptPassword)
		fmt.Fprintf(&b, "\t\tSpectator=%d;\n", boolInt(p.IsSpectator))
		if !p.IsSpectator {
			fmt.Fprintf(&b, "\t\tTeam=%d;\n", team)
			team++
			allies[p.AllyNumber] = struct{}{}
		}
		b.WriteString("\t}\n")
	}
	for i, bot := range setup.Bots {
		fmt.Fprintf(&b, "\t[AI%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n", bot.Name)
		fmt.Fprintf(&b, "\t\tShortName=%s;\n", bot.AI)
		fmt.Fprintf(&b, "\t\tHost=%s;\n", bot.Owner)
		fmt.Fprintf(&b, "\t\tTeam=%d;\n", team)
		b.WriteString("\t}\n")
		team++
		allies[bot.AllyNumber] = struct{}{}
	}

	allyIDs := make([]int, 0, len(allies))
	for id := range allies {
		allyIDs = append(allyIDs, id)
	}
	sort.Ints(allyIDs)
	for _, id := range allyIDs {
		fmt.Fprintf(&b, "\t[ALLYTEAM%d]\n\t{\n\t}\n", id)
	}

	if len(setup.ModOptions) > 0 {
		keys := make([]string, 0, len(setup.ModOptions))
		for k := range setup.ModOptions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\t[MODOPTIONS]\n\t{\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\t\t%s=%s;\n", k, setup.ModOptions[k])
		}
		b.WriteString("\t}\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
