// Package server wires the lobby runtime: the battle registry, the
// WebSocket transport and the admin gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/timeouts"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/ports"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/matchmaker"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
	lobbysqlite "github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage/sqlite"
)

// Config configures a lobby server.
type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	DBPath           string
	HostingIP        string
	PortBase         int
	EngineDir        string
	EngineBinary     string
	ContentDir       string
	DefaultEngine    string
	DefaultGame      string
	MaxBattlePlayers int
	Autohosts        int
	Logf             func(string, ...any)
}

// Server hosts the WebSocket lobby and the admin gRPC API.
type Server struct {
	cfg          Config
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	store        *lobbysqlite.Store
	users        *Users
	lobby        *Lobby
}

// New creates a configured lobby server. Both listeners are bound before it
// returns so Addr and AdminAddr are usable right away.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "lobby.db")
	}
	if cfg.PortBase <= 0 {
		cfg.PortBase = ports.DefaultBase
	}
	if strings.TrimSpace(cfg.HostingIP) == "" {
		cfg.HostingIP = resolveHostingIP()
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	store, err := openLobbyStore(ctx, cfg.DBPath)
	if err != nil {
		_ = httpListener.Close()
		_ = grpcListener.Close()
		return nil, err
	}

	users := NewUsers(cfg.Logf)
	mm := matchmaker.New(matchmaker.DefaultQueues(), matchmaker.WithNotifier(users), matchmaker.WithLogf(cfg.Logf))
	content := resources.New(resources.Config{
		EngineDir:    cfg.EngineDir,
		EngineBinary: cfg.EngineBinary,
		ContentDir:   cfg.ContentDir,
		DefaultGame:  cfg.DefaultGame,
		Logf:         cfg.Logf,
	})
	scriptDir := filepath.Join(filepath.Dir(cfg.DBPath), "scripts")
	lobby := NewLobby(users, battle.Deps{
		MatchMaker: mm,
		Resources:  content,
		Ports:      ports.NewAllocator(cfg.PortBase, ports.WithProbe(ports.UDPPortInUse)),
		NewProcess: func() battle.Process {
			return dedicated.New(dedicated.Config{
				EngineDir: cfg.EngineDir,
				Binary:    cfg.EngineBinary,
				ScriptDir: scriptDir,
				Logf:      cfg.Logf,
			})
		},
		Results: store,
		Kicks:   store,
		Logf:    cfg.Logf,
		Settings: battle.Settings{
			HostingIP:        cfg.HostingIP,
			DefaultEngine:    cfg.DefaultEngine,
			DefaultGame:      cfg.DefaultGame,
			MaxBattlePlayers: cfg.MaxBattlePlayers,
		},
	})

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	RegisterAdminServer(grpcServer, newAdminService(lobby, store, store))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(AdminServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	httpServer := &http.Server{
		Handler:           NewHandler(lobby, users),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		cfg:          cfg,
		httpListener: httpListener,
		grpcListener: grpcListener,
		httpServer:   httpServer,
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		users:        users,
		lobby:        lobby,
	}, nil
}

// Addr returns the WebSocket listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// AdminAddr returns the gRPC listener address.
func (s *Server) AdminAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Lobby returns the battle registry.
func (s *Server) Lobby() *Lobby { return s.lobby }

// Run creates and serves a lobby server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve opens the boot autohosts and serves both listeners until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	for i := 0; i < s.cfg.Autohosts; i++ {
		b, err := s.lobby.OpenBattle(ctx, "", domain.Header{IsAutohost: true, Mode: domain.ModeTeams})
		if err != nil {
			return fmt.Errorf("open autohost: %w", err)
		}
		s.cfg.Logf("lobby: autohost battle %d ready", b.ID())
	}

	s.cfg.Logf("lobby listening at %v, admin at %v", s.httpListener.Addr(), s.grpcListener.Addr())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.httpServer.Serve(s.httpListener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	})
	g.Go(func() error {
		err := s.grpcServer.Serve(s.grpcListener)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		s.lobby.Shutdown(shutdownCtx)
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

// Close releases lobby server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.cfg.Logf("close lobby store: %v", err)
		}
		s.store = nil
	}
}

func openLobbyStore(ctx context.Context, path string) (*lobbysqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := lobbysqlite.Open(openCtx, path)
	if err != nil {
		return nil, fmt.Errorf("open lobby store: %w", err)
	}
	return store, nil
}

// resolveHostingIP picks the first non-loopback IPv4 address of the host.
func resolveHostingIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}
