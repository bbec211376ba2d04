// Package resources resolves engines, games and maps available to the
// lobby host and hands out completion handles for missing ones.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Kind is a resource category.
type Kind int

const (
	Engine Kind = iota + 1
	Game
	Map
)

func (k Kind) String() string {
	switch k {
	case Engine:
		return "engine"
	case Game:
		return "game"
	case Map:
		return "map"
	default:
		return "resource"
	}
}

// Fetcher obtains a missing resource. Implementations block until the
// resource is on disk or ctx ends.
type Fetcher interface {
	Fetch(ctx context.Context, kind Kind, name string) error
}

// Download is a completion handle for one resource.
type Download struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	complete bool
	err      error
}

func newDownload() *Download { return &Download{done: make(chan struct{})} }

func finishedDownload(err error) *Download {
	d := newDownload()
	d.finish(err)
	return d
}

// Ready returns a handle for a resource that is already available.
func Ready() *Download { return finishedDownload(nil) }

// Pending returns an unfinished handle and the function that completes it.
// A nil error marks the resource available.
func Pending() (*Download, func(err error)) {
	d := newDownload()
	return d, d.finish
}

func (d *Download) finish(err error) {
	d.once.Do(func() {
		d.mu.Lock()
		d.complete = err == nil
		d.err = err
		d.mu.Unlock()
		close(d.done)
	})
}

// Done is closed when the download finished, successfully or not.
func (d *Download) Done() <-chan struct{} { return d.done }

// IsComplete reports whether the resource is available.
func (d *Download) IsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.complete
}

// Err returns why the download failed.
func (d *Download) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// ErrUnavailable is the failure of a download with no fetcher configured.
var ErrUnavailable = errors.New("resource not available locally")

// Config locates local content.
type Config struct {
	EngineDir    string
	EngineBinary string
	// ContentDir holds maps/ and games/ subdirectories.
	ContentDir string
	// DefaultGame is what the "zk:stable" tag and empty selections resolve to.
	DefaultGame string
	Fetcher     Fetcher
	Logf        func(string, ...any)
}

// GameInfo is the metadata of a locally installed game archive.
type GameInfo struct {
	Name string
	Path string
	Size int64
}

// Manager is the default resource collaborator backed by the filesystem.
type Manager struct {
	cfg  Config
	rand func(n int) int

	mu       sync.Mutex
	inFlight map[string]*Download
}

// New creates a filesystem-backed manager.
func New(cfg Config) *Manager {
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.EngineBinary == "" {
		cfg.EngineBinary = "spring-dedicated"
	}
	return &Manager{cfg: cfg, rand: rand.IntN, inFlight: make(map[string]*Download)}
}

// Get returns a handle for the resource. Present resources yield a complete
// handle; missing ones are fetched once in the background.
func (m *Manager) Get(kind Kind, name string) *Download {
	if m.present(kind, name) {
		return finishedDownload(nil)
	}
	if m.cfg.Fetcher == nil {
		return finishedDownload(fmt.Errorf("%s %s: %w", kind, name, ErrUnavailable))
	}

	key := kind.String() + ":" + name
	m.mu.Lock()
	if d, ok := m.inFlight[key]; ok {
		m.mu.Unlock()
		return d
	}
	d := newDownload()
	m.inFlight[key] = d
	m.mu.Unlock()

	go func() {
		err := m.cfg.Fetcher.Fetch(context.Background(), kind, name)
		if err == nil && !m.present(kind, name) {
			err = fmt.Errorf("%s %s: fetch reported success but nothing was installed", kind, name)
		}
		if err != nil {
			m.cfg.Logf("resources: fetch %s %s: %v", kind, name, err)
		}
		m.mu.Lock()
		delete(m.inFlight, key)
		m.mu.Unlock()
		d.finish(err)
	}()
	return d
}

func (m *Manager) present(kind Kind, name string) bool {
	switch kind {
	case Engine:
		_, err := os.Stat(filepath.Join(m.cfg.EngineDir, name, m.cfg.EngineBinary))
		return err == nil
	case Game:
		_, ok := m.FindGame(name)
		return ok
	case Map:
		_, ok := m.FindMap(name)
		return ok
	}
	return false
}

// Maps lists installed map names in order.
func (m *Manager) Maps() []string {
	return m.scan("maps", ".sd7", ".sdz")
}

// Games lists installed game names in order.
func (m *Manager) Games() []string {
	return m.scan("games", ".sdz", ".sd7", ".sdd")
}

func (m *Manager) scan(sub string, exts ...string) []string {
	if m.cfg.ContentDir == "" {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(m.cfg.ContentDir, sub))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.cfg.Logf("resources: scan %s: %v", sub, err)
		}
		return nil
	}
	var names []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range exts {
			if ext == want {
				names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// FindMap resolves a map by exact name, then case-insensitively, then by a
// unique substring.
func (m *Manager) FindMap(query string) (string, bool) {
	return match(m.Maps(), query)
}

// FindGame resolves a game name or the stable tag.
func (m *Manager) FindGame(query string) (string, bool) {
	if query == "" || strings.EqualFold(query, "zk:stable") {
		if m.cfg.DefaultGame == "" {
			return "", false
		}
		query = m.cfg.DefaultGame
	}
	return match(m.Games(), query)
}

// RecommendedMap picks an installed map for a battle with the given number
// of players. It returns "" when no map is installed.
func (m *Manager) RecommendedMap(players int) string {
	maps := m.Maps()
	if len(maps) == 0 {
		return ""
	}
	return maps[m.rand(len(maps))]
}

// GameInfo loads the metadata of an installed game.
func (m *Manager) GameInfo(name string) (GameInfo, error) {
	for _, ext := range []string{".sdz", ".sd7", ".sdd"} {
		path := filepath.Join(m.cfg.ContentDir, "games", name+ext)
		fi, err := os.Stat(path)
		if err == nil {
			return GameInfo{Name: name, Path: path, Size: fi.Size()}, nil
		}
	}
	return GameInfo{}, fmt.Errorf("game %s: %w", name, os.ErrNotExist)
}

func match(names []string, query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	for _, name := range names {
		if name == query {
			return name, true
		}
	}
	for _, name := range names {
		if strings.EqualFold(name, query) {
			return name, true
		}
	}
	lower := strings.ToLower(query)
	found := ""
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), lower) {
			if found != "" {
				return "", false
			}
			found = name
		}
	}
	return found, found != ""
}
