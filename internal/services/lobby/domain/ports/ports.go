// Package ports hands out UDP hosting ports to battles.
package ports

import (
	"fmt"
	"net"
	"sync"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
)

// DefaultBase is the first UDP port tried for hosting.
const DefaultBase = 8452

const maxPort = 65535

// ErrExhausted means no port is left between the base and 65535. It is a
// configuration problem and retrying will not help.
var ErrExhausted = apperrors.New(apperrors.CodePortsExhausted, "no free hosting port")

// Allocator reserves unique hosting ports across all active battles.
type Allocator struct {
	base  int
	inUse func(port int) bool

	mu       sync.Mutex
	reserved map[int]struct{}
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithProbe replaces the OS check used to skip ports held by other processes.
func WithProbe(inUse func(port int) bool) Option {
	return func(a *Allocator) {
		if inUse != nil {
			a.inUse = inUse
		}
	}
}

// NewAllocator creates an allocator scanning upward from base.
func NewAllocator(base int, opts ...Option) *Allocator {
	if base <= 0 || base > maxPort {
		base = DefaultBase
	}
	a := &Allocator{
		base:     base,
		inUse:    UDPPortInUse,
		reserved: make(map[int]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Acquire reserves and returns the lowest port that is neither reserved by
// another battle nor bound on this host.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port := a.base; port <= maxPort; port++ {
		if _, taken := a.reserved[port]; taken {
			continue
		}
		if a.inUse(port) {
			continue
		}
		a.reserved[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("acquire from %d: %w", a.base, ErrExhausted)
}

// Release returns port to the pool. Releasing an unknown port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.reserved, port)
	a.mu.Unlock()
}

// Reserved returns the number of ports currently handed out.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}

// UDPPortInUse reports whether some socket on this host already holds the
// UDP port.
func UDPPortInUse(port int) bool {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}
