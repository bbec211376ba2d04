// Package lobbyctl implements the operator CLI for a running lobby's admin
// gRPC API.
package lobbyctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	entrypoint "github.com/sprangg/Zero-K-Infrastructure/internal/platform/cmd"
	platformgrpc "github.com/sprangg/Zero-K-Infrastructure/internal/platform/grpc"
	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/timeouts"
	server "github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/app"
)

const usage = `usage: lobbyctl [flags] <command> [args]

commands:
  battles           list open battles
  close <id>        close a battle
  replace <id>      retire a battle and open a copy of it
  results [id]      list stored game results, optionally of one battle
  kicks <id>        list the kick audit of a battle`

// Config holds lobbyctl configuration.
type Config struct {
	Addr    string        `env:"ZK_LOBBY_ADMIN_ADDR"    envDefault:"localhost:8201"`
	Timeout time.Duration `env:"ZK_LOBBY_ADMIN_TIMEOUT" envDefault:"10s"`
	JSON    bool
	Limit   int
	Command string
	Args    []string
}

// ParseConfig parses environment and flags into a Config. The first
// positional argument is the command.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "lobby admin gRPC address")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.BoolVar(&cfg.JSON, "json", false, "print raw JSON responses")
	fs.IntVar(&cfg.Limit, "limit", 20, "max results to list")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New(usage)
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	return cfg, nil
}

// Run executes one lobbyctl command against the admin API.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	call, err := commandFor(cfg)
	if err != nil {
		return err
	}

	dialTimeout := timeouts.GRPCDial
	if cfg.Timeout > 0 && cfg.Timeout < dialTimeout {
		dialTimeout = cfg.Timeout
	}
	conn, err := platformgrpc.DialHealthy(ctx, cfg.Addr, server.AdminServiceName, dialTimeout, func(format string, args ...any) {
		fmt.Fprintf(errOut, format+"\n", args...)
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := call(ctx, server.NewAdminClient(conn))
	if err != nil {
		return err
	}
	if resp == nil {
		fmt.Fprintln(out, "ok")
		return nil
	}
	if cfg.JSON {
		return printJSON(out, resp)
	}
	return printTable(out, cfg.Command, resp)
}

type adminCall func(ctx context.Context, client *server.AdminClient) (*structpb.Struct, error)

func commandFor(cfg Config) (adminCall, error) {
	switch cfg.Command {
	case "battles":
		return func(ctx context.Context, c *server.AdminClient) (*structpb.Struct, error) {
			return c.ListBattles(ctx)
		}, nil
	case "close":
		id, err := battleArg(cfg.Args, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *server.AdminClient) (*structpb.Struct, error) {
			return nil, c.CloseBattle(ctx, id)
		}, nil
	case "replace":
		id, err := battleArg(cfg.Args, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *server.AdminClient) (*structpb.Struct, error) {
			return c.ReplaceBattle(ctx, id)
		}, nil
	case "results":
		id, err := battleArg(cfg.Args, false)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *server.AdminClient) (*structpb.Struct, error) {
			return c.ListResults(ctx, id, cfg.Limit)
		}, nil
	case "kicks":
		id, err := battleArg(cfg.Args, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *server.AdminClient) (*structpb.Struct, error) {
			return c.ListKicks(ctx, id)
		}, nil
	default:
		return nil, fmt.Errorf("unknown command %q\n%s", cfg.Command, usage)
	}
}

func battleArg(args []string, required bool) (int, error) {
	if len(args) == 0 {
		if required {
			return 0, errors.New("battle id is required")
		}
		return 0, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid battle id %q", args[0])
	}
	return id, nil
}

func printJSON(out io.Writer, resp *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printTable(out io.Writer, command string, resp *structpb.Struct) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch command {
	case "battles":
		fmt.Fprintln(w, "ID\tFOUNDER\tTITLE\tMODE\tMAP\tPLAYERS\tSPECS\tSTATE")
		for _, row := range rows(resp, "battles") {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				field(row, "id"), field(row, "founder"), field(row, "title"), field(row, "mode"),
				field(row, "map"), field(row, "player_count"), field(row, "spectator_count"), field(row, "state"))
		}
	case "replace":
		fmt.Fprintf(w, "opened battle %s\n", field(resp.AsMap(), "id"))
	case "results":
		fmt.Fprintln(w, "ID\tBATTLE\tTITLE\tMAP\tENDED\tWINNERS")
		for _, row := range rows(resp, "results") {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				field(row, "id"), field(row, "battle_id"), field(row, "title"), field(row, "map"),
				field(row, "ended_at"), field(row, "winner_allies"))
		}
	case "kicks":
		fmt.Fprintln(w, "NAME\tREASON\tKICKED AT")
		for _, row := range rows(resp, "kicks") {
			fmt.Fprintf(w, "%s\t%s\t%s\n", field(row, "name"), field(row, "reason"), field(row, "kicked_at"))
		}
	}
	return w.Flush()
}

func rows(resp *structpb.Struct, key string) []map[string]any {
	list := resp.GetFields()[key].GetListValue().AsSlice()
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func field(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case nil:
		return "-"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
