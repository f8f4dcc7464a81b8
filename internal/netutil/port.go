package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/korrosivesec/yarals/internal/sentinel"
)

// ErrPortsExhausted is returned when every kernel-assigned port in the retry
// budget was already held by this process.
const ErrPortsExhausted = sentinel.Error("no unreserved port available")

// maxPortRetries bounds how many kernel ports are tried before giving up.
const maxPortRetries = 20

// PortRegistry tracks ports currently handed out by this process.
// It is safe for concurrent use.
type PortRegistry struct {
	mu    sync.Mutex
	ports map[int]struct{}
	log   *slog.Logger
}

// NewPortRegistry creates an empty PortRegistry.
// If logger is nil, slog.Default() is used.
func NewPortRegistry(logger *slog.Logger) *PortRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortRegistry{
		ports: make(map[int]struct{}),
		log:   logger,
	}
}

// reserve registers port. It returns false if the port is already held.
func (r *PortRegistry) reserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return false
	}
	r.ports[port] = struct{}{}
	return true
}

// Release returns port to the pool. Releasing an unknown port is a no-op.
func (r *PortRegistry) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, port)
}

// Held reports whether port is currently reserved.
func (r *PortRegistry) Held(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[port]
	return ok
}

// AllocatePort returns a port that was unbound on host at the moment of the
// call and is not held by any other caller of this registry. The port is not
// kept bound: the launched server must bind it itself, and losing that race to
// an unrelated process surfaces later as a bind or connect failure.
//
// The caller must Release the port once the launch it was allocated for is
// torn down.
func (r *PortRegistry) AllocatePort(host string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("resolve tcp address: %w", err)
	}

	for range maxPortRetries {
		l, err := net.ListenTCP("tcp", addr)
		if err != nil {
			return 0, fmt.Errorf("listen on %s: %w", addr, err)
		}
		tcpAddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			_ = l.Close()
			return 0, fmt.Errorf("unexpected address type: %T", l.Addr())
		}
		port := tcpAddr.Port
		if r.reserve(port) {
			if closeErr := l.Close(); closeErr != nil {
				r.log.Warn("close scratch listener", "port", port, "error", closeErr)
			}
			r.log.Debug("port allocated", "host", host, "port", port)
			return port, nil
		}
		r.log.Debug("port already reserved, retrying", "port", port)
		_ = l.Close()
	}
	return 0, fmt.Errorf("allocate port on %s after %d attempts: %w", host, maxPortRetries, ErrPortsExhausted)
}
