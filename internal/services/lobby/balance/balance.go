// Package balance splits battle participants into ally teams.
package balance

import (
	"context"
	"fmt"
	"sort"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// ChickenAI is the AI used for the chicken opponent in coop battles.
const ChickenAI = "Chicken: Normal"

// Player is a member considered for balancing.
type Player struct {
	Name        string
	Elo         int
	IsSpectator bool
	AllyNumber  int
}

// Request is the battle state a balance runs against.
type Request struct {
	Mode        domain.Mode
	IsGameStart bool
	// AllyTeams is a hint for the number of teams; zero picks a default.
	AllyTeams int
	ClanWise  bool
	Founder   string
	Players   []Player
	Bots      []domain.Bot
}

// PlayerAssignment places one member.
type PlayerAssignment struct {
	Name        string
	AllyNumber  int
	IsSpectator bool
}

// Result is the outcome of a balance. Members missing from Players become
// spectators when Players is non-empty.
type Result struct {
	CanStart   bool
	Message    string
	Players    []PlayerAssignment
	Bots       []domain.Bot
	DeleteBots bool
}

// Balancer is the default elo-greedy balancer.
type Balancer struct{}

// Balance assigns teams for req.
func (Balancer) Balance(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	players := activePlayers(req.Players)
	switch req.Mode {
	case domain.Mode1v1:
		return duel(players), nil
	case domain.ModeFFA:
		return ffa(players), nil
	case domain.ModeChickens:
		return chickens(req, players), nil
	case domain.ModeNone:
		if !req.IsGameStart && req.AllyTeams > 0 {
			return teams(players, req.AllyTeams, req.Bots), nil
		}
		return freeform(players, req.Bots), nil
	default:
		n := req.AllyTeams
		if n < 2 {
			n = 2
		}
		return teams(players, n, req.Bots), nil
	}
}

func activePlayers(all []Player) []Player {
	out := make([]Player, 0, len(all))
	for _, p := range all {
		if !p.IsSpectator {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Elo != out[j].Elo {
			return out[i].Elo > out[j].Elo
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func duel(players []Player) Result {
	if len(players) != 2 {
		return Result{Message: fmt.Sprintf("A 1v1 needs exactly two players, there are %d", len(players))}
	}
	return Result{
		CanStart:   true,
		DeleteBots: true,
		Players: []PlayerAssignment{
			{Name: players[0].Name, AllyNumber: 0},
			{Name: players[1].Name, AllyNumber: 1},
		},
	}
}

func ffa(players []Player) Result {
	if len(players) < 2 {
		return Result{Message: "Free for all needs at least two players"}
	}
	res := Result{CanStart: true, DeleteBots: true}
	for i, p := range players {
		res.Players = append(res.Players, PlayerAssignment{Name: p.Name, AllyNumber: i})
	}
	return res
}

func chickens(req Request, players []Player) Result {
	if len(players) == 0 {
		return Result{Message: "Chickens needs at least one player"}
	}
	res := Result{CanStart: true, DeleteBots: true}
	for _, p := range players {
		res.Players = append(res.Players, PlayerAssignment{Name: p.Name, AllyNumber: 0})
	}
	owner := req.Founder
	if owner == "" {
		owner = players[0].Name
	}
	res.Bots = []domain.Bot{{Name: "Chickens", Owner: owner, AI: ChickenAI, AllyNumber: 1}}
	return res
}

func freeform(players []Player, bots []domain.Bot) Result {
	if len(players) == 0 && len(bots) == 0 {
		return Result{Message: "Nobody is playing"}
	}
	res := Result{CanStart: true}
	for _, p := range players {
		res.Players = append(res.Players, PlayerAssignment{Name: p.Name, AllyNumber: p.AllyNumber})
	}
	return res
}

func teams(players []Player, n int, bots []domain.Bot) Result {
	if len(players) < n {
		return Result{Message: fmt.Sprintf("Not enough players for %d teams", n)}
	}
	totals := make([]int, n)
	sizes := make([]int, n)
	capacity := (len(players) + n - 1) / n
	res := Result{CanStart: true, DeleteBots: len(bots) > 0}
	for _, p := range players {
		best := -1
		for team := 0; team < n; team++ {
			if sizes[team] >= capacity {
				continue
			}
			if best < 0 || totals[team] < totals[best] {
				best = team
			}
		}
		totals[best] += p.Elo
		sizes[best]++
		res.Players = append(res.Players, PlayerAssignment{Name: p.Name, AllyNumber: best})
	}
	lo, hi := totals[0], totals[0]
	for _, t := range totals[1:] {
		lo = min(lo, t)
		hi = max(hi, t)
	}
	res.Message = fmt.Sprintf("%d teams balanced, rating difference %d", n, hi-lo)
	return res
}
