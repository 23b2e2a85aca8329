package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
)

// Logger defines the logging interface used by the Adapter.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains resolution and reconnection settings.
type Config struct {
	// MaxAttempts is the resolution attempt ceiling per Resolve call.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; it doubles
	// per attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// IdleTTL evicts handles not used for this long. Zero disables
	// eviction.
	IdleTTL time.Duration
}

// Adapter resolves device names to live bus handles.
//
// Resolution and reconnection are serialised per device name: at most
// one dial is in flight for a given device at a time, while different
// devices resolve concurrently. All public methods are thread-safe.
type Adapter struct {
	dialer bus.Dialer
	cfg    Config
	logger Logger

	mu       sync.Mutex
	handles  map[string]*Handle
	retained map[string]int           // pin counts, eviction skips pinned handles
	inflight map[string]chan struct{} // per-device resolution guard
	closed   bool

	onReconnect func(device string)
}

// New creates a device registry adapter over the given dialer.
func New(dialer bus.Dialer, cfg Config) *Adapter {
	return &Adapter{
		dialer:   dialer,
		cfg:      cfg,
		logger:   noopLogger{},
		handles:  make(map[string]*Handle),
		retained: make(map[string]int),
		inflight: make(map[string]chan struct{}),
	}
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// SetReconnectListener registers a callback invoked after a device that
// had previously failed is successfully reconnected. The event
// subscription hub uses this to re-arm bus-side registrations.
func (a *Adapter) SetReconnectListener(fn func(device string)) {
	a.mu.Lock()
	a.onReconnect = fn
	a.mu.Unlock()
}

// Resolve returns a connected handle for the named device.
//
// Transient dial failures are retried with bounded exponential backoff
// up to the configured attempt ceiling, after which ErrDeviceUnavailable
// is returned. Unknown devices fail immediately with
// bus.ErrDeviceNotFound. If another goroutine is already resolving the
// same device, Resolve waits for that attempt instead of dialling
// concurrently.
func (a *Adapter) Resolve(ctx context.Context, name string) (*Handle, error) {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrClosed
		}
		if h, ok := a.handles[name]; ok && h.State() == StateConnected {
			a.mu.Unlock()
			h.touch()
			return h, nil
		}
		if ch, waiting := a.inflight[name]; waiting {
			a.mu.Unlock()
			select {
			case <-ch:
				// Re-check the handle; the other attempt may have failed.
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		a.inflight[name] = ch
		a.mu.Unlock()
		return a.resolve(ctx, name, ch)
	}
}

// resolve performs the dial loop. The caller holds the inflight slot for
// name; done is closed when the attempt finishes either way.
func (a *Adapter) resolve(ctx context.Context, name string, done chan struct{}) (*Handle, error) {
	defer func() {
		a.mu.Lock()
		delete(a.inflight, name)
		a.mu.Unlock()
		close(done)
	}()

	a.mu.Lock()
	h, existed := a.handles[name]
	if !existed {
		h = &Handle{name: name, state: StateDisconnected}
		a.handles[name] = h
	}
	a.mu.Unlock()

	h.setReconnecting()

	backoff := a.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		conn, err := a.dialer.Connect(ctx, name)
		if err == nil {
			// Discard any stale connection from a previous life.
			if old := h.Conn(); old != nil {
				_ = old.Close()
			}
			h.setConnected(conn)
			if attempt > 1 || existed {
				a.logger.Info("device reconnected", "device", name, "attempts", attempt)
			} else {
				a.logger.Debug("device resolved", "device", name)
			}
			if existed {
				a.notifyReconnect(name)
			}
			return h, nil
		}

		if errors.Is(err, bus.ErrDeviceNotFound) || !errors.Is(err, bus.ErrTransient) {
			h.setDisconnected(err)
			return nil, err
		}

		lastErr = err
		a.logger.Warn("device resolution failed",
			"device", name,
			"attempt", attempt,
			"max_attempts", a.cfg.MaxAttempts,
			"error", err,
		)

		if attempt == a.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			h.setDisconnected(ctx.Err())
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > a.cfg.MaxBackoff {
			backoff = a.cfg.MaxBackoff
		}
	}

	h.setDisconnected(lastErr)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w",
		ErrDeviceUnavailable, name, a.cfg.MaxAttempts, lastErr)
}

// notifyReconnect invokes the reconnect listener outside the adapter lock.
func (a *Adapter) notifyReconnect(name string) {
	a.mu.Lock()
	fn := a.onReconnect
	a.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

// ReportFault records that operations against a device's connection are
// failing, transitioning its handle to Disconnected. The next Resolve
// for the device performs a reconnection.
func (a *Adapter) ReportFault(name string, err error) {
	a.mu.Lock()
	h, ok := a.handles[name]
	a.mu.Unlock()
	if !ok {
		return
	}
	if h.State() == StateConnected {
		h.setDisconnected(err)
		a.logger.Warn("device fault reported", "device", name, "error", err)
	}
}

// Invalidate evicts the handle for a device, closing its connection.
func (a *Adapter) Invalidate(name string) {
	a.mu.Lock()
	h, ok := a.handles[name]
	if ok {
		delete(a.handles, name)
	}
	a.mu.Unlock()

	if ok {
		if conn := h.Conn(); conn != nil {
			_ = conn.Close()
		}
		a.logger.Debug("device handle evicted", "device", name)
	}
}

// Retain pins a device's handle against idle eviction. The hub retains
// devices with live bus-side registrations so the TTL sweep cannot pull
// a connection out from under an active event stream.
func (a *Adapter) Retain(name string) {
	a.mu.Lock()
	a.retained[name]++
	a.mu.Unlock()
}

// Release undoes one Retain.
func (a *Adapter) Release(name string) {
	a.mu.Lock()
	if a.retained[name] > 0 {
		a.retained[name]--
		if a.retained[name] == 0 {
			delete(a.retained, name)
		}
	}
	a.mu.Unlock()
}

// Run starts the idle-eviction sweep. It blocks until the context is
// cancelled. No-op when IdleTTL is zero.
func (a *Adapter) Run(ctx context.Context) {
	if a.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return
	}

	interval := a.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.evictIdle()
		}
	}
}

// evictIdle closes and removes handles unused beyond the TTL.
func (a *Adapter) evictIdle() {
	cutoff := time.Now().Add(-a.cfg.IdleTTL)

	a.mu.Lock()
	var expired []*Handle
	for name, h := range a.handles {
		if a.retained[name] > 0 {
			continue
		}
		if h.idleSince().Before(cutoff) {
			delete(a.handles, name)
			expired = append(expired, h)
		}
	}
	a.mu.Unlock()

	for _, h := range expired {
		if conn := h.Conn(); conn != nil {
			_ = conn.Close()
		}
		a.logger.Debug("idle device handle evicted", "device", h.Name())
	}
}

// HandleCount returns the number of cached handles.
func (a *Adapter) HandleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// Close evicts every handle and rejects further resolution.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	handles := make([]*Handle, 0, len(a.handles))
	for _, h := range a.handles {
		handles = append(handles, h)
	}
	a.handles = make(map[string]*Handle)
	a.mu.Unlock()

	for _, h := range handles {
		if conn := h.Conn(); conn != nil {
			_ = conn.Close()
		}
	}
	return nil
}
