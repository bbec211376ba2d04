// Package lobby parses lobby server flags and launches the service.
package lobby

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/sprangg/Zero-K-Infrastructure/internal/platform/cmd"
	server "github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/app"
)

// Config holds lobby command configuration.
type Config struct {
	HTTPAddr         string `env:"ZK_LOBBY_HTTP_ADDR"          envDefault:":8200"`
	GRPCPort         int    `env:"ZK_LOBBY_GRPC_PORT"          envDefault:"8201"`
	DBPath           string `env:"ZK_LOBBY_DB_PATH"            envDefault:"data/lobby.db"`
	HostingIP        string `env:"ZK_LOBBY_HOSTING_IP"`
	PortBase         int    `env:"ZK_LOBBY_PORT_BASE"          envDefault:"8452"`
	EngineDir        string `env:"ZK_LOBBY_ENGINE_DIR"         envDefault:"data/engine"`
	EngineBinary     string `env:"ZK_LOBBY_ENGINE_BINARY"      envDefault:"spring-dedicated"`
	ContentDir       string `env:"ZK_LOBBY_CONTENT_DIR"        envDefault:"data/content"`
	DefaultEngine    string `env:"ZK_LOBBY_DEFAULT_ENGINE"     envDefault:"104.0.1"`
	DefaultGame      string `env:"ZK_LOBBY_DEFAULT_GAME"       envDefault:"zk:stable"`
	MaxBattlePlayers int    `env:"ZK_LOBBY_MAX_BATTLE_PLAYERS" envDefault:"32"`
	Autohosts        int    `env:"ZK_LOBBY_AUTOHOSTS"          envDefault:"0"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "WebSocket listen address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "admin gRPC port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "battle history sqlite path")
	fs.StringVar(&cfg.HostingIP, "hosting-ip", cfg.HostingIP, "address players connect to (default: first IPv4 of this host)")
	fs.IntVar(&cfg.PortBase, "port-base", cfg.PortBase, "first UDP hosting port")
	fs.StringVar(&cfg.EngineDir, "engine-dir", cfg.EngineDir, "directory with one subdirectory per engine version")
	fs.StringVar(&cfg.EngineBinary, "engine-binary", cfg.EngineBinary, "dedicated server executable name")
	fs.StringVar(&cfg.ContentDir, "content-dir", cfg.ContentDir, "directory holding maps/ and games/")
	fs.StringVar(&cfg.DefaultEngine, "engine", cfg.DefaultEngine, "engine version battles run")
	fs.StringVar(&cfg.DefaultGame, "game", cfg.DefaultGame, "default game")
	fs.IntVar(&cfg.MaxBattlePlayers, "max-battle-players", cfg.MaxBattlePlayers, "player cap for user-hosted battles")
	fs.IntVar(&cfg.Autohosts, "autohosts", cfg.Autohosts, "autohost battles opened at boot")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.GRPCPort <= 0 || cfg.GRPCPort > 65535 {
		return Config{}, fmt.Errorf("grpc port %d out of range", cfg.GRPCPort)
	}
	if cfg.Autohosts < 0 {
		return Config{}, fmt.Errorf("autohosts must not be negative")
	}
	return cfg, nil
}

// ServerConfig maps the command configuration onto the server runtime.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		HTTPAddr:         c.HTTPAddr,
		GRPCAddr:         fmt.Sprintf(":%d", c.GRPCPort),
		DBPath:           c.DBPath,
		HostingIP:        c.HostingIP,
		PortBase:         c.PortBase,
		EngineDir:        c.EngineDir,
		EngineBinary:     c.EngineBinary,
		ContentDir:       c.ContentDir,
		DefaultEngine:    c.DefaultEngine,
		DefaultGame:      c.DefaultGame,
		MaxBattlePlayers: c.MaxBattlePlayers,
		Autohosts:        c.Autohosts,
		Logf:             log.Printf,
	}
}

// Run starts the lobby WebSocket and admin services.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLobby, func(context.Context) error {
		if err := server.Run(ctx, cfg.ServerConfig()); err != nil {
			return fmt.Errorf("serve lobby: %w", err)
		}
		return nil
	})
}
