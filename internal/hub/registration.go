package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
)

type regState int

const (
	stateRegistering regState = iota
	stateActive
	stateDegraded
)

func (s regState) String() string {
	switch s {
	case stateRegistering:
		return "registering"
	case stateActive:
		return "active"
	case stateDegraded:
		return "degraded"
	default:
		return "unregistered"
	}
}

// registration is the bus-side subscription shared by every API
// subscriber for one (device, target) key. Its run goroutine owns the
// bus event channel; subscriber attach/detach and event delivery are
// serialised on mu.
type registration struct {
	hub *Hub
	key key

	stop     chan struct{} // closed when the last subscriber detaches
	stopOnce func()
	revive   chan struct{} // reconnect nudge, capacity 1
	done     chan struct{} // closed once run has cancelled the bus stream and left the key map

	mu    sync.Mutex
	state regState
	dead  bool // no further attaches or deliveries
	subs  map[*Subscription]struct{}
}

func newRegistration(h *Hub, k key) *registration {
	r := &registration{
		hub:    h,
		key:    k,
		stop:   make(chan struct{}),
		revive: make(chan struct{}, 1),
		done:   make(chan struct{}),
		subs:   make(map[*Subscription]struct{}),
	}
	var once sync.Once
	r.stopOnce = func() { once.Do(func() { close(r.stop) }) }
	return r
}

// attach adds a subscriber. It reports false when the registration is
// winding down and cannot accept members.
func (r *registration) attach(s *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.subs[s] = struct{}{}
	return true
}

// detach removes a subscriber and closes its channel. The last detach
// initiates teardown of the bus-side registration. Because delivery
// holds mu, no event can reach the subscriber once detach returns.
func (r *registration) detach(s *Subscription) {
	r.mu.Lock()
	if _, ok := r.subs[s]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, s)
	close(s.events)
	last := len(r.subs) == 0
	if last {
		r.dead = true
	}
	r.mu.Unlock()

	if last {
		r.stopOnce()
	}
}

// nudge wakes a degraded registration's backoff wait.
func (r *registration) nudge() {
	select {
	case r.revive <- struct{}{}:
	default:
	}
}

func (r *registration) setState(s regState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// run drives the registration state machine until the last subscriber
// detaches, re-registration retries are exhausted, or the hub shuts
// down.
func (r *registration) run(ctx context.Context) {
	defer r.hub.wg.Done()
	defer close(r.done)
	defer r.hub.remove(r)

	logger := r.hub.logger

	events, cancel, err := r.establish(ctx)
	if err != nil {
		events, cancel, err = r.reestablish(ctx, err)
	}
	if err != nil {
		r.terminate(err)
		return
	}
	r.setState(stateActive)
	logger.Debug("registration active", "device", r.key.device, "target", r.key.target)

	for {
		select {
		case <-ctx.Done():
			cancel()
			r.terminate(ctx.Err())
			return
		case <-r.stop:
			cancel()
			r.drain()
			logger.Debug("registration torn down", "device", r.key.device, "target", r.key.target)
			return
		case ev, ok := <-events:
			if !ok || ev.Err != nil {
				cancel()
				cause := bus.ErrTransient
				if ok && ev.Err != nil {
					cause = ev.Err
				}
				r.setState(stateDegraded)
				logger.Warn("registration degraded",
					"device", r.key.device, "target", r.key.target, "error", cause)
				r.hub.registry.ReportFault(r.key.device, cause)

				events, cancel, err = r.reestablish(ctx, cause)
				if err != nil {
					r.terminate(err)
					return
				}
				r.setState(stateActive)
				logger.Info("registration recovered",
					"device", r.key.device, "target", r.key.target)
				continue
			}
			r.deliver(ev)
		}
	}
}

// establish resolves the device and opens the bus-side event stream.
func (r *registration) establish(ctx context.Context) (<-chan bus.Event, bus.CancelFunc, error) {
	h, err := r.hub.registry.Resolve(ctx, r.key.device)
	if err != nil {
		return nil, nil, err
	}
	return h.Conn().SubscribeEvents(ctx, r.key.target)
}

// reestablish retries establish with a fixed backoff, bounded by the
// configured attempt ceiling. A reconnect nudge from the registry cuts
// the backoff short.
func (r *registration) reestablish(ctx context.Context, cause error) (<-chan bus.Event, bus.CancelFunc, error) {
	attempts := r.hub.cfg.ReregisterAttempts
	if attempts < 1 {
		attempts = 1
	}
	lastErr := cause

	for try := 0; try < attempts; try++ {
		if try > 0 {
			timer := time.NewTimer(r.hub.cfg.ReregisterBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			case <-r.stop:
				timer.Stop()
				return nil, nil, errLastDetached
			case <-r.revive:
				timer.Stop()
			case <-timer.C:
			}
		}

		events, cancel, err := r.establish(ctx)
		if err == nil {
			return events, cancel, nil
		}
		lastErr = err
		if errors.Is(err, bus.ErrDeviceNotFound) {
			break
		}
	}

	return nil, nil, fmt.Errorf("%w: %s/%s: %w",
		ErrTerminated, r.key.device, r.key.target, lastErr)
}

// errLastDetached signals that teardown pre-empted re-registration; it
// never reaches a subscriber because none remain.
var errLastDetached = errors.New("hub: last subscriber detached")

// deliver fans one bus event out to every attached subscriber.
func (r *registration) deliver(ev bus.Event) {
	out := Event{
		Device: r.key.device,
		Target: r.key.target,
		Value:  ev.Value,
		State:  ev.State,
	}

	r.mu.Lock()
	if r.dead {
		r.mu.Unlock()
		return
	}
	// Tap only events that subscribers can still observe. Tap
	// implementations are non-blocking, so holding mu here is fine.
	if r.hub.tap != nil && ev.Value != nil {
		r.hub.tap.RecordAttribute(r.key.device, r.key.target, ev.Value)
	}
	for s := range r.subs {
		s.push(out)
	}
	r.mu.Unlock()
}

// terminate delivers a terminal event to every remaining subscriber
// and closes their channels.
func (r *registration) terminate(cause error) {
	if cause == nil || errors.Is(cause, errLastDetached) {
		r.drain()
		return
	}
	if !errors.Is(cause, ErrTerminated) {
		cause = fmt.Errorf("%w: %s/%s: %w", ErrTerminated, r.key.device, r.key.target, cause)
	}

	term := Event{
		Device:     r.key.device,
		Target:     r.key.target,
		Terminated: true,
		Err:        cause,
	}

	r.mu.Lock()
	r.dead = true
	for s := range r.subs {
		s.push(term)
		close(s.events)
		delete(r.subs, s)
	}
	r.mu.Unlock()

	r.hub.logger.Warn("registration terminated",
		"device", r.key.device, "target", r.key.target, "error", cause)
}

// drain closes out any subscribers still attached, without a terminal
// event. Used on orderly teardown.
func (r *registration) drain() {
	r.mu.Lock()
	r.dead = true
	for s := range r.subs {
		close(s.events)
		delete(r.subs, s)
	}
	r.mu.Unlock()
}
