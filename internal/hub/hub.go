package hub

import (
	"context"
	"sync"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/registry"
)

// Logger is the minimal logging interface the hub needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Tap receives every attribute event accepted from the bus. Implementations
// must not block; the telemetry writer buffers internally.
type Tap interface {
	RecordAttribute(device, attribute string, value *bus.AttributeValue)
}

// Config controls registration retry and subscriber buffering.
type Config struct {
	// SubscriberBuffer is the per-subscriber event buffer capacity.
	// When full, the oldest buffered event is dropped.
	SubscriberBuffer int

	// ReregisterAttempts bounds re-registration tries after the bus
	// stream for a key faults.
	ReregisterAttempts int

	// ReregisterBackoff is the delay between re-registration tries.
	ReregisterBackoff time.Duration
}

// Event is one change notification delivered to a subscriber.
//
// Exactly one of Value and State is meaningful for normal events,
// depending on the subscribed target. A Terminated event is the last
// event a subscriber ever receives on its channel; Err carries the
// cause.
type Event struct {
	Device     string
	Target     string
	Value      *bus.AttributeValue
	State      bus.DeviceState
	Terminated bool
	Err        error
}

type key struct {
	device string
	target string
}

// Hub owns the per-key registration state machines.
type Hub struct {
	registry *registry.Adapter
	cfg      Config
	logger   Logger
	tap      Tap

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	keys   map[key]*registration
	closed bool
}

// New creates a hub over the given registry.
func New(reg *registry.Adapter, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry: reg,
		cfg:      cfg,
		logger:   noopLogger{},
		ctx:      ctx,
		cancel:   cancel,
		keys:     make(map[key]*registration),
	}
	reg.SetReconnectListener(h.deviceReconnected)
	return h
}

// SetLogger replaces the no-op logger.
func (h *Hub) SetLogger(logger Logger) { h.logger = logger }

// SetTap installs a telemetry tap invoked for every accepted attribute
// event.
func (h *Hub) SetTap(tap Tap) { h.tap = tap }

// Subscribe attaches a new subscriber to the (device, target) stream,
// creating the bus-side registration if this is the first subscriber
// for the key. target is an attribute name or bus.TargetState.
func (h *Hub) Subscribe(ctx context.Context, device, target string) (*Subscription, error) {
	if device == "" || target == "" {
		return nil, bus.ErrAttributeNotFound
	}

	k := key{device: device, target: target}
	sub := &Subscription{events: make(chan Event, h.bufferSize())}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		r := h.keys[k]
		if r == nil {
			r = newRegistration(h, k)
			h.keys[k] = r
			h.registry.Retain(device)
			h.wg.Add(1)
			go r.run(h.ctx)
		}
		h.mu.Unlock()

		// A registration found in the map may be winding down; if
		// attach loses that race, unlink it and wait for its run
		// goroutine to cancel the bus-side stream before creating a
		// replacement. Starting earlier would briefly hold two bus
		// registrations for the key, and on topic-keyed transports the
		// stale cancel could tear down the new stream.
		if r.attach(sub) {
			sub.reg = r
			return sub, nil
		}
		h.mu.Lock()
		if h.keys[k] == r {
			delete(h.keys, k)
		}
		h.mu.Unlock()

		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// KeyCount reports the number of live bus-side registrations.
func (h *Hub) KeyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.keys)
}

// Close tears down every registration and waits for their goroutines
// to exit. Subscribers receive terminal events.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *Hub) bufferSize() int {
	if h.cfg.SubscriberBuffer > 0 {
		return h.cfg.SubscriberBuffer
	}
	return 1
}

// remove drops a registration from the key map, keeping a newer
// registration for the same key if one has already replaced it.
func (h *Hub) remove(r *registration) {
	h.mu.Lock()
	if h.keys[r.key] == r {
		delete(h.keys, r.key)
	}
	h.mu.Unlock()
	h.registry.Release(r.key.device)
}

// deviceReconnected nudges degraded registrations for a device so they
// retry immediately instead of waiting out the backoff.
func (h *Hub) deviceReconnected(device string) {
	h.mu.Lock()
	var nudge []*registration
	for k, r := range h.keys {
		if k.device == device {
			nudge = append(nudge, r)
		}
	}
	h.mu.Unlock()

	for _, r := range nudge {
		r.nudge()
	}
}
