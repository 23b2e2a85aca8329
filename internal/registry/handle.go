package registry

import (
	"sync"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
)

// ConnState is the connection state of a device handle.
type ConnState string

// Handle connection states. Transitions follow the fixed sequence
// Connected -> Disconnected -> Reconnecting -> Connected.
const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateReconnecting ConnState = "reconnecting"
)

// Handle identifies one control-bus device. It is owned exclusively by
// the Adapter; callers read the connection and state but never mutate
// them.
type Handle struct {
	name string

	mu       sync.RWMutex
	conn     bus.Connection
	state    ConnState
	lastErr  error
	lastUsed time.Time
}

// Name returns the canonical device name.
func (h *Handle) Name() string { return h.name }

// Conn returns the live bus connection.
func (h *Handle) Conn() bus.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

// State returns the current connection state.
func (h *Handle) State() ConnState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// LastError returns the most recent connection error, nil when healthy.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// touch records use for idle-TTL accounting.
func (h *Handle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *Handle) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastUsed
}

// setConnected installs a fresh connection. Adapter use only.
func (h *Handle) setConnected(conn bus.Connection) {
	h.mu.Lock()
	h.conn = conn
	h.state = StateConnected
	h.lastErr = nil
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// setDisconnected records a broken connection. Adapter use only.
func (h *Handle) setDisconnected(err error) {
	h.mu.Lock()
	h.state = StateDisconnected
	h.lastErr = err
	h.mu.Unlock()
}

// setReconnecting marks a reconnection attempt in progress. Adapter use only.
func (h *Handle) setReconnecting() {
	h.mu.Lock()
	h.state = StateReconnecting
	h.mu.Unlock()
}
