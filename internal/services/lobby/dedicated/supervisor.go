package dedicated

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// killGrace is how long a stopped engine may take to exit before it is
// killed.
const killGrace = 5 * time.Second

var (
	// ErrAlreadyRunning is returned when hosting on a busy supervisor.
	ErrAlreadyRunning = apperrors.New(apperrors.CodeBattleAlreadyRunning, "Game already running")
	// ErrStartFailed is returned when the engine process could not be launched.
	ErrStartFailed = apperrors.New(apperrors.CodeBattleProcessStartFailed, "Failed to start the game server")
)

// Handler receives supervisor events. Calls arrive on the supervisor's
// reader goroutine; a panicking handler is logged and does not stop event
// delivery.
type Handler interface {
	// DedicatedStarted fires once the engine accepts connections.
	DedicatedStarted()
	// GameStarted fires when the match itself begins.
	GameStarted()
	// PlayerSaid relays an in-game chat line.
	PlayerSaid(user, text string, vis Visibility)
	// DedicatedExited fires exactly once per successful Host.
	DedicatedExited(result Context)
}

// Config locates the engine binaries.
type Config struct {
	// EngineDir holds one directory per engine version.
	EngineDir string
	// Binary is the dedicated server executable inside a version directory.
	Binary string
	// ScriptDir receives start scripts. Defaults to the OS temp dir.
	ScriptDir string
	Logf      func(string, ...any)
	Now       func() time.Time
}

// Supervisor wraps one engine process. A Supervisor hosts at most one
// match; battles create a fresh one for every game.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	handler Handler
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	hosted  bool
	ctx     Context
	done    chan struct{}
}

// New creates an idle supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Binary == "" {
		cfg.Binary = "spring-dedicated"
	}
	return &Supervisor{cfg: cfg, done: make(chan struct{})}
}

// Subscribe attaches the event handler, replacing any previous one.
func (s *Supervisor) Subscribe(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Unsubscribe detaches the handler. Events after this call are dropped.
func (s *Supervisor) Unsubscribe() {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
}

// BinaryPath returns where the engine binary for version is expected.
func (s *Supervisor) BinaryPath(version string) string {
	return filepath.Join(s.cfg.EngineDir, version, s.cfg.Binary)
}

// Host writes the start script and launches the engine. It returns once the
// process is running; lifecycle events follow on the handler.
func (s *Supervisor) Host(ctx context.Context, setup StartSetup, ip string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.hosted {
		return ErrAlreadyRunning
	}

	binary := s.BinaryPath(setup.Engine)
	if _, err := os.Stat(binary); err != nil {
		return apperrors.Wrap(apperrors.CodeBattleEngineUnavailable, "Engine "+setup.Engine+" is not installed", err)
	}

	scriptPath, err := s.writeScript(setup, ip, port)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeBattleProcessStartFailed, ErrStartFailed.Message, err)
	}

	cmd := exec.Command(binary, scriptPath)
	cmd.Dir = filepath.Dir(binary)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeBattleProcessStartFailed, ErrStartFailed.Message, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeBattleProcessStartFailed, ErrStartFailed.Message, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(apperrors.CodeBattleProcessStartFailed, ErrStartFailed.Message, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true
	s.hosted = true
	s.ctx = Context{Setup: setup, StartedAt: s.cfg.Now()}
	go s.watch(stdout, scriptPath)
	return nil
}

func (s *Supervisor) writeScript(setup StartSetup, ip string, port int) (string, error) {
	dir := s.cfg.ScriptDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("battle-%d-*.txt", setup.BattleID))
	if err != nil {
		return "", fmt.Errorf("create script: %w", err)
	}
	if _, err := f.WriteString(Script(setup, ip, port)); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close script: %w", err)
	}
	return f.Name(), nil
}

func (s *Supervisor) watch(stdout io.Reader, scriptPath string) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		s.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.cfg.Logf("dedicated: read engine output: %v", err)
	}

	waitErr := s.cmd.Wait()
	_ = os.Remove(scriptPath)

	s.mu.Lock()
	s.running = false
	s.ctx.EndedAt = s.cfg.Now()
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		s.ctx.ExitCode = exitErr.ExitCode()
		s.ctx.Crashed = true
	default:
		s.ctx.Crashed = true
	}
	result := s.ctx.clone()
	s.mu.Unlock()
	close(s.done)

	s.dispatch("exited", func(h Handler) { h.DedicatedExited(result) })
}

// Event is one parsed engine output line.
type Event struct {
	Kind       string
	Name       string
	Text       string
	Visibility Visibility
	Allies     []int
	Spectator  bool
}

// ParseLine decodes one line of engine output. ok is false for lines that
// carry no event.
//
//	SERVER STARTED
//	GAME STARTED
//	PLAYER JOINED <name>
//	PLAYER SPECTATOR <name>
//	CHAT <public|ally|spec|private> <name> <text>
//	WINNERS <ally>[,<ally>...]
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "SERVER STARTED":
		return Event{Kind: "started"}, true
	case line == "GAME STARTED":
		return Event{Kind: "game"}, true
	case strings.HasPrefix(line, "PLAYER JOINED "):
		return Event{Kind: "joined", Name: strings.TrimSpace(strings.TrimPrefix(line, "PLAYER JOINED "))}, true
	case strings.HasPrefix(line, "PLAYER SPECTATOR "):
		return Event{Kind: "joined", Name: strings.TrimSpace(strings.TrimPrefix(line, "PLAYER SPECTATOR ")), Spectator: true}, true
	case strings.HasPrefix(line, "CHAT "):
		parts := strings.SplitN(strings.TrimPrefix(line, "CHAT "), " ", 3)
		if len(parts) < 3 {
			return Event{}, false
		}
		vis, ok := parseVisibility(parts[0])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: "chat", Visibility: vis, Name: parts[1], Text: parts[2]}, true
	case strings.HasPrefix(line, "WINNERS "):
		var allies []int
		for _, field := range strings.Split(strings.TrimPrefix(line, "WINNERS "), ",") {
			n, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return Event{}, false
			}
			allies = append(allies, n)
		}
		return Event{Kind: "winners", Allies: allies}, true
	}
	return Event{}, false
}

func (s *Supervisor) handleLine(line string) {
	ev, ok := ParseLine(line)
	if !ok {
		return
	}
	switch ev.Kind {
	case "started":
		s.dispatch("started", func(h Handler) { h.DedicatedStarted() })
	case "game":
		s.mu.Lock()
		at := s.cfg.Now()
		s.ctx.GameStartedAt = &at
		s.mu.Unlock()
		s.dispatch("game started", func(h Handler) { h.GameStarted() })
	case "joined":
		s.mu.Lock()
		s.ctx.ActualPlayers = upsertActual(s.ctx.ActualPlayers, s.ctx.Setup, ev.Name, ev.Spectator)
		s.mu.Unlock()
	case "chat":
		s.dispatch("player said", func(h Handler) { h.PlayerSaid(ev.Name, ev.Text, ev.Visibility) })
	case "winners":
		s.mu.Lock()
		s.ctx.WinnerAllies = ev.Allies
		s.mu.Unlock()
	}
}

func upsertActual(list []ActualPlayer, setup StartSetup, name string, spectator bool) []ActualPlayer {
	ally := 0
	for _, p := range setup.Players {
		if p.Name == name {
			ally = p.AllyNumber
			spectator = spectator || p.IsSpectator
		}
	}
	for i := range list {
		if list[i].Name == name {
			list[i].IsSpectator = spectator
			list[i].AllyNumber = ally
			return list
		}
	}
	return append(list, ActualPlayer{Name: name, IsSpectator: spectator, AllyNumber: ally})
}

func (s *Supervisor) dispatch(event string, fn func(Handler)) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logf("dedicated: %s handler panic: %v", event, r)
		}
	}()
	fn(h)
}

// AddUser lets a late joiner into the running match.
func (s *Supervisor) AddUser(name, scriptPassword string, profile domain.User) {
	s.send(fmt.Sprintf("/adduser %s %s %d", name, scriptPassword, boolInt(profile.IsBot)))
}

// SayGame relays a chat line into the match.
func (s *Supervisor) SayGame(line string) {
	line = strings.ReplaceAll(line, "\n", " ")
	s.send("/say " + line)
}

// Stop asks the engine to quit and kills it if it lingers.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	running := s.running
	s.mu.Unlock()
	if !running || cmd == nil {
		return
	}
	s.send("/kill")
	go func() {
		select {
		case <-s.done:
		case <-time.After(killGrace):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}()
}

func (s *Supervisor) send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stdin == nil {
		return
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		s.cfg.Logf("dedicated: write %q: %v", line, err)
	}
}

// IsRunning reports whether the engine process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Context snapshots what has been observed of the current match.
func (s *Supervisor) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.clone()
}

// Done is closed after the engine exits.
func (s *Supervisor) Done() <-chan struct{} { return s.done }
