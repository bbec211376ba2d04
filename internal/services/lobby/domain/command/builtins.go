package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// Builtins returns a fresh instance of every built-in command.
func Builtins() []Command {
	return []Command{
		mapCmd{},
		startCmd{},
		voteCmd{yes: true},
		voteCmd{yes: false},
		kickCmd{},
		specCmd{},
		notifyCmd{},
		titleCmd{},
		passwordCmd{},
		maxPlayersCmd{},
		typeCmd{},
		engineCmd{},
		gameCmd{},
		balanceCmd{},
		exitCmd{},
		endVoteCmd{},
		boundCmd{which: domain.MinElo},
		boundCmd{which: domain.MaxElo},
		boundCmd{which: domain.MinLevel},
		boundCmd{which: domain.MaxLevel},
		boundCmd{which: domain.MinRank},
		boundCmd{which: domain.MaxRank},
	}
}

type mapCmd struct{}

func (mapCmd) Shortcut() string { return "map" }
func (mapCmd) Help() string     { return "[name] - changes the map, picks a recommended one without a name" }
func (mapCmd) Access() Access   { return NotIngame }
func (mapCmd) Policy() Policy   { return Policy{} }

func (c mapCmd) Arm(_ context.Context, b Battle, _ Invoker, args string) (Prepared, error) {
	name, err := c.resolve(b, args)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Question: fmt.Sprintf("Change map to %s?", name), Args: name}, nil
}

func (c mapCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	name, err := c.resolve(b, args)
	if err != nil {
		return err
	}
	return b.SwitchMap(ctx, name)
}

func (mapCmd) resolve(b Battle, args string) (string, error) {
	if args == "" {
		return b.RecommendedMap(), nil
	}
	name, ok := b.FindMap(args)
	if !ok {
		return "", badUsage("Cannot find such map: %s", args)
	}
	return name, nil
}

type startCmd struct{}

func (startCmd) Shortcut() string { return "start" }
func (startCmd) Help() string     { return "- starts the game" }
func (startCmd) Access() Access   { return NotIngame }
func (startCmd) Policy() Policy   { return Policy{} }

func (startCmd) Arm(_ context.Context, _ Battle, _ Invoker, _ string) (Prepared, error) {
	return Prepared{Question: "Start the game?"}, nil
}

func (startCmd) Run(ctx context.Context, b Battle, _ Invoker, _ string) error {
	return b.StartGame(ctx)
}

type voteCmd struct {
	yes bool
}

func (c voteCmd) Shortcut() string {
	if c.yes {
		return "y"
	}
	return "n"
}

func (c voteCmd) Help() string {
	if c.yes {
		return "- votes for the current poll"
	}
	return "- votes against the current poll"
}

func (voteCmd) Access() Access { return Anywhere }
func (voteCmd) Policy() Policy { return Policy{Direct: true} }

func (voteCmd) Arm(_ context.Context, _ Battle, _ Invoker, _ string) (Prepared, error) {
	return Prepared{}, nil
}

func (c voteCmd) Run(ctx context.Context, b Battle, inv Invoker, _ string) error {
	return b.RegisterVote(ctx, inv.Name, c.yes)
}

type kickCmd struct{}

func (kickCmd) Shortcut() string { return "kick" }
func (kickCmd) Help() string     { return "<name> - kicks a player and bans them for five minutes" }
func (kickCmd) Access() Access   { return Anywhere }
func (kickCmd) Policy() Policy   { return Policy{} }

func (kickCmd) Arm(_ context.Context, b Battle, _ Invoker, args string) (Prepared, error) {
	name, err := findParticipant(b, args)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Question: fmt.Sprintf("Kick %s?", name), Args: name}, nil
}

func (kickCmd) Run(ctx context.Context, b Battle, inv Invoker, args string) error {
	reason := "by vote"
	if !inv.IsServer() {
		reason = "requested by " + inv.Name
	}
	return b.Kick(ctx, args, reason)
}

type specCmd struct{}

func (specCmd) Shortcut() string { return "spec" }
func (specCmd) Help() string     { return "<name> - forces a player to spectate" }
func (specCmd) Access() Access   { return Anywhere }
func (specCmd) Policy() Policy   { return Policy{} }

func (specCmd) Arm(_ context.Context, b Battle, _ Invoker, args string) (Prepared, error) {
	name, err := findParticipant(b, args)
	if err != nil {
		return Prepared{}, err
	}
	if m, _ := b.Member(name); m.IsSpectator {
		return Prepared{}, badUsage("%s is already spectating", name)
	}
	return Prepared{Question: fmt.Sprintf("Make %s a spectator?", name), Args: name}, nil
}

func (specCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	return b.ForceSpectator(ctx, args)
}

type notifyCmd struct{}

func (notifyCmd) Shortcut() string { return "notify" }
func (notifyCmd) Help() string     { return "- messages you when the current game ends" }
func (notifyCmd) Access() Access   { return Anywhere }
func (notifyCmd) Policy() Policy   { return Policy{Direct: true} }

func (notifyCmd) Arm(_ context.Context, _ Battle, _ Invoker, _ string) (Prepared, error) {
	return Prepared{}, nil
}

func (notifyCmd) Run(_ context.Context, b Battle, inv Invoker, _ string) error {
	if inv.IsServer() {
		return nil
	}
	b.AddNotify(inv.Name)
	b.Respond(inv, "You will be notified when the current game ends.")
	return nil
}

type titleCmd struct{}

func (titleCmd) Shortcut() string { return "title" }
func (titleCmd) Help() string     { return "<text> - changes the battle title" }
func (titleCmd) Access() Access   { return Anywhere }
func (titleCmd) Policy() Policy   { return Policy{} }

func (titleCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	if args == "" {
		return Prepared{}, badUsage("Please specify a title")
	}
	return Prepared{Question: fmt.Sprintf("Change title to %s?", args), Args: args}, nil
}

func (titleCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	return b.SwitchTitle(ctx, args)
}

type passwordCmd struct{}

func (passwordCmd) Shortcut() string { return "password" }
func (passwordCmd) Help() string     { return "[password] - sets or clears the battle password" }
func (passwordCmd) Access() Access   { return Anywhere }
func (passwordCmd) Policy() Policy   { return Policy{RunOnly: true} }

func (passwordCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	return Prepared{Question: "Change the password?", Args: args}, nil
}

func (passwordCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	return b.SwitchPassword(ctx, args)
}

type maxPlayersCmd struct{}

func (maxPlayersCmd) Shortcut() string { return "maxplayers" }
func (maxPlayersCmd) Help() string     { return "<count> - changes the player capacity" }
func (maxPlayersCmd) Access() Access   { return NotIngame }
func (maxPlayersCmd) Policy() Policy   { return Policy{} }

func (maxPlayersCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	n, err := strconv.Atoi(args)
	if err != nil || n < 1 {
		return Prepared{}, badUsage("Please specify a player count above zero")
	}
	return Prepared{Question: fmt.Sprintf("Change max players to %d?", n), Args: strconv.Itoa(n)}, nil
}

func (maxPlayersCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil || n < 1 {
		return badUsage("Please specify a player count above zero")
	}
	return b.SwitchMaxPlayers(ctx, n)
}

type typeCmd struct{}

func (typeCmd) Shortcut() string { return "type" }
func (typeCmd) Help() string     { return "<none|teams|1v1|ffa|chickens|planetwars> - changes the game type" }
func (typeCmd) Access() Access   { return NotIngame }
func (typeCmd) Policy() Policy   { return Policy{} }

func (typeCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	mode, err := domain.ParseMode(args)
	if err != nil || args == "" {
		return Prepared{}, badUsage("Please specify a game type: none, teams, 1v1, ffa, chickens or planetwars")
	}
	return Prepared{Question: fmt.Sprintf("Change game type to %s?", mode), Args: mode.String()}, nil
}

func (typeCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	mode, err := domain.ParseMode(args)
	if err != nil {
		return badUsage("%v", err)
	}
	return b.SwitchMode(ctx, mode)
}

type engineCmd struct{}

func (engineCmd) Shortcut() string { return "engine" }
func (engineCmd) Help() string     { return "<version> - changes the engine version" }
func (engineCmd) Access() Access   { return NotIngame }
func (engineCmd) Policy() Policy   { return Policy{} }

func (engineCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	if args == "" {
		return Prepared{}, badUsage("Please specify an engine version")
	}
	return Prepared{Question: fmt.Sprintf("Change engine to %s?", args), Args: args}, nil
}

func (engineCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	return b.SwitchEngine(ctx, args)
}

type gameCmd struct{}

func (gameCmd) Shortcut() string { return "game" }
func (gameCmd) Help() string     { return "<name> - changes the game version" }
func (gameCmd) Access() Access   { return NotIngame }
func (gameCmd) Policy() Policy   { return Policy{} }

func (gameCmd) Arm(_ context.Context, b Battle, _ Invoker, args string) (Prepared, error) {
	if args == "" {
		return Prepared{}, badUsage("Please specify a game")
	}
	name, ok := b.FindGame(args)
	if !ok {
		return Prepared{}, badUsage("Cannot find such game: %s", args)
	}
	return Prepared{Question: fmt.Sprintf("Change game to %s?", name), Args: name}, nil
}

func (gameCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	return b.SwitchGame(ctx, args)
}

type balanceCmd struct{}

func (balanceCmd) Shortcut() string { return "balance" }
func (balanceCmd) Help() string     { return "[teams] - balances players into teams" }
func (balanceCmd) Access() Access   { return NotIngame }
func (balanceCmd) Policy() Policy   { return Policy{} }

func (balanceCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	if args == "" {
		return Prepared{Question: "Balance teams?"}, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n < 2 {
		return Prepared{}, badUsage("Please specify at least two teams")
	}
	return Prepared{Question: fmt.Sprintf("Balance into %d teams?", n), Args: strconv.Itoa(n)}, nil
}

func (balanceCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	teams := 0
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return badUsage("Please specify at least two teams")
		}
		teams = n
	}
	return b.Balance(ctx, teams)
}

type exitCmd struct{}

func (exitCmd) Shortcut() string { return "exit" }
func (exitCmd) Help() string     { return "- stops the running game" }
func (exitCmd) Access() Access   { return Ingame }
func (exitCmd) Policy() Policy   { return Policy{} }

func (exitCmd) Arm(_ context.Context, _ Battle, _ Invoker, _ string) (Prepared, error) {
	return Prepared{Question: "Exit the game?"}, nil
}

func (exitCmd) Run(ctx context.Context, b Battle, _ Invoker, _ string) error {
	return b.ExitGame(ctx)
}

type endVoteCmd struct{}

func (endVoteCmd) Shortcut() string { return "endvote" }
func (endVoteCmd) Help() string     { return "- cancels the current poll" }
func (endVoteCmd) Access() Access   { return Anywhere }
func (endVoteCmd) Policy() Policy   { return Policy{RunOnly: true} }

func (endVoteCmd) Arm(_ context.Context, _ Battle, _ Invoker, _ string) (Prepared, error) {
	return Prepared{Question: "End the current poll?"}, nil
}

func (endVoteCmd) Run(_ context.Context, b Battle, _ Invoker, _ string) error {
	b.StopVote()
	return nil
}

type boundCmd struct {
	which domain.Bound
}

var boundLabels = map[domain.Bound]string{
	domain.MinElo:   "minimum rating",
	domain.MaxElo:   "maximum rating",
	domain.MinLevel: "minimum level",
	domain.MaxLevel: "maximum level",
	domain.MinRank:  "minimum rank",
	domain.MaxRank:  "maximum rank",
}

func (c boundCmd) Shortcut() string { return c.which.String() }
func (c boundCmd) Help() string     { return "<value> - sets the " + boundLabels[c.which] + " to play" }
func (boundCmd) Access() Access     { return NotIngame }
func (boundCmd) Policy() Policy     { return Policy{} }

func (c boundCmd) Arm(_ context.Context, _ Battle, _ Invoker, args string) (Prepared, error) {
	n, err := c.parse(args)
	if err != nil {
		return Prepared{}, err
	}
	label := boundLabels[c.which]
	if c.which == domain.MinRank || c.which == domain.MaxRank {
		return Prepared{Question: fmt.Sprintf("Set %s to %s?", label, domain.RankName(n)), Args: strconv.Itoa(n)}, nil
	}
	return Prepared{Question: fmt.Sprintf("Set %s to %d?", label, n), Args: strconv.Itoa(n)}, nil
}

func (c boundCmd) Run(ctx context.Context, b Battle, _ Invoker, args string) error {
	n, err := c.parse(args)
	if err != nil {
		return err
	}
	return b.SwitchBound(ctx, c.which, n)
}

func (c boundCmd) parse(args string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 0 {
		return 0, badUsage("Please specify a non-negative %s", boundLabels[c.which])
	}
	return n, nil
}

// findParticipant resolves a possibly partial name against battle members.
func findParticipant(b Battle, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", badUsage("Please specify a player name")
	}
	if _, ok := b.Member(query); ok {
		return query, nil
	}
	lower := strings.ToLower(query)
	var match string
	for _, name := range b.MemberNames() {
		if strings.Contains(strings.ToLower(name), lower) {
			if match != "" {
				return "", badUsage("More than one player matches %s", query)
			}
			match = name
		}
	}
	if match == "" {
		return "", badUsage("Cannot find player %s", query)
	}
	return match, nil
}
