package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/registry"
)

// eventConn is a scriptable bus.Connection whose event streams the
// tests drive by hand.
type eventConn struct {
	mu        sync.Mutex
	streams   []chan bus.Event
	active    int
	maxActive int
	total     int
	subErr    error
}

func (c *eventConn) DescribeAttributes(context.Context) ([]bus.AttributeDescriptor, error) {
	return nil, nil
}

func (c *eventConn) DescribeCommands(context.Context) ([]bus.CommandDescriptor, error) {
	return nil, nil
}

func (c *eventConn) ReadAttribute(context.Context, string) (*bus.AttributeValue, error) {
	return nil, bus.ErrAttributeNotFound
}

func (c *eventConn) WriteAttribute(context.Context, string, bus.Value) error {
	return bus.ErrAttributeNotFound
}

func (c *eventConn) InvokeCommand(context.Context, string, *bus.Value) (*bus.Value, error) {
	return nil, bus.ErrCommandNotFound
}

func (c *eventConn) SubscribeEvents(context.Context, string) (<-chan bus.Event, bus.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return nil, nil, c.subErr
	}

	ch := make(chan bus.Event, 32)
	c.streams = append(c.streams, ch)
	c.active++
	c.total++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (c *eventConn) State(context.Context) (bus.DeviceState, error) { return bus.StateRunning, nil }

func (c *eventConn) Close() error { return nil }

// emit pushes an event into the most recent stream.
func (c *eventConn) emit(ev bus.Event) {
	c.mu.Lock()
	ch := c.streams[len(c.streams)-1]
	c.mu.Unlock()
	ch <- ev
}

// fault closes the most recent stream, simulating a bus-side failure.
func (c *eventConn) fault() {
	c.mu.Lock()
	ch := c.streams[len(c.streams)-1]
	c.mu.Unlock()
	close(ch)
}

func (c *eventConn) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *eventConn) totalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *eventConn) maxActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

func (c *eventConn) setSubErr(err error) {
	c.mu.Lock()
	c.subErr = err
	c.mu.Unlock()
}

type eventDialer struct{ conn *eventConn }

func (d *eventDialer) Connect(context.Context, string) (bus.Connection, error) {
	return d.conn, nil
}

func (d *eventDialer) ListDevices(context.Context, string) ([]string, error) { return nil, nil }

func newTestHub(t *testing.T, conn *eventConn, cfg Config) *Hub {
	t.Helper()
	adapter := registry.New(&eventDialer{conn: conn}, registry.Config{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	t.Cleanup(func() { adapter.Close() })

	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = 16
	}
	if cfg.ReregisterAttempts == 0 {
		cfg.ReregisterAttempts = 3
	}
	if cfg.ReregisterBackoff == 0 {
		cfg.ReregisterBackoff = time.Millisecond
	}
	h := New(adapter, cfg)
	t.Cleanup(func() { h.Close() })
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func attrEvent(n float64) bus.Event {
	return bus.Event{
		Device: "lab/sensor/1",
		Target: "temperature",
		Value: &bus.AttributeValue{
			Attribute: "temperature",
			Value:     bus.Float(n),
			Quality:   bus.QualityValid,
			Timestamp: time.Now(),
		},
	}
}

func TestSubscribe_SharesOneRegistration(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})
	ctx := context.Background()

	first, err := h.Subscribe(ctx, "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := h.Subscribe(ctx, "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")
	if conn.maxActiveCount() != 1 {
		t.Errorf("max concurrent registrations = %d, want 1", conn.maxActiveCount())
	}

	conn.emit(attrEvent(1))
	for _, sub := range []*Subscription{first, second} {
		select {
		case ev := <-sub.Events():
			if f, _ := ev.Value.Value.AsFloat(); f != 1 {
				t.Errorf("value = %v", ev.Value.Value.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}

	// Closing one subscriber must not disturb its sibling.
	first.Close()
	if _, ok := <-first.Events(); ok {
		t.Error("event delivered after Close returned")
	}

	conn.emit(attrEvent(2))
	select {
	case ev := <-second.Events():
		if f, _ := ev.Value.Value.AsFloat(); f != 2 {
			t.Errorf("value = %v", ev.Value.Value.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber did not receive the event")
	}

	// The last detach tears the bus-side registration down.
	second.Close()
	waitFor(t, func() bool { return conn.activeCount() == 0 }, "registration not torn down")
	waitFor(t, func() bool { return h.KeyCount() == 0 }, "key not removed")
}

func TestSubscriber_ReceivesInOrder(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{SubscriberBuffer: 64})

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	const n = 20
	for i := 0; i < n; i++ {
		conn.emit(attrEvent(float64(i)))
	}
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.Events():
			if f, _ := ev.Value.Value.AsFloat(); f != float64(i) {
				t.Fatalf("event %d: value = %v", i, ev.Value.Value.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestSlowSubscriber_DropsOldestOnly(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{SubscriberBuffer: 2})
	ctx := context.Background()

	slow, err := h.Subscribe(ctx, "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer slow.Close()
	fast, err := h.Subscribe(ctx, "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer fast.Close()
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	const n = 10
	for i := 0; i < n; i++ {
		conn.emit(attrEvent(float64(i)))
		// The fast subscriber drains every event; the slow one reads
		// nothing until the burst is over.
		select {
		case ev := <-fast.Events():
			if f, _ := ev.Value.Value.AsFloat(); f != float64(i) {
				t.Fatalf("fast subscriber event %d: value = %v", i, ev.Value.Value.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missing event %d", i)
		}
	}

	// The slow subscriber keeps only the newest two events, in order.
	want := []float64{n - 2, n - 1}
	for _, w := range want {
		select {
		case ev := <-slow.Events():
			if f, _ := ev.Value.Value.AsFloat(); f != w {
				t.Errorf("slow subscriber value = %v, want %v", ev.Value.Value.Data, w)
			}
		case <-time.After(time.Second):
			t.Fatal("slow subscriber missing buffered event")
		}
	}
	if slow.Dropped() != n-2 {
		t.Errorf("dropped = %d, want %d", slow.Dropped(), n-2)
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast subscriber dropped = %d, want 0", fast.Dropped())
	}
}

func TestRegistration_RecoversFromStreamFault(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	conn.fault()
	waitFor(t, func() bool { return conn.totalCount() == 2 }, "no re-registration after fault")
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "re-registration not active")
	if conn.maxActiveCount() != 1 {
		t.Errorf("max concurrent registrations = %d, want 1", conn.maxActiveCount())
	}

	conn.emit(attrEvent(7))
	select {
	case ev := <-sub.Events():
		if f, _ := ev.Value.Value.AsFloat(); f != 7 {
			t.Errorf("value = %v", ev.Value.Value.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after recovery")
	}
}

func TestRegistration_TerminatesAfterRetryExhaustion(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{ReregisterAttempts: 2})

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	conn.setSubErr(bus.ErrTransient)
	conn.fault()

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("channel closed without a terminal event")
		}
		if !ev.Terminated {
			t.Fatalf("event = %+v, want terminal", ev)
		}
		if !errors.Is(ev.Err, ErrTerminated) {
			t.Errorf("terminal error = %v", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal event")
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("event delivered after termination")
	}
	waitFor(t, func() bool { return h.KeyCount() == 0 }, "terminated key not removed")
}

func TestHub_CloseTerminatesSubscribers(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Drain until the channel closes; a terminal event may precede it.
	for ev := range sub.Events() {
		if !ev.Terminated {
			t.Errorf("unexpected event after Close: %+v", ev)
		}
	}

	if _, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

// Closing the last subscriber while another caller subscribes to the
// same key must never leave two bus-side streams open at once: on
// topic-keyed transports the winding-down stream's cancel would tear
// down the replacement's broker subscription and silence it for good.
func TestSubscribe_CloseResubscribeChurn(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})
	ctx := context.Background()

	cur, err := h.Subscribe(ctx, "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 500; i++ {
		var (
			wg   sync.WaitGroup
			next *Subscription
			serr error
		)
		old := cur
		wg.Add(2)
		go func() {
			defer wg.Done()
			old.Close()
		}()
		go func() {
			defer wg.Done()
			next, serr = h.Subscribe(ctx, "lab/sensor/1", "temperature")
		}()
		wg.Wait()
		if serr != nil {
			t.Fatalf("iteration %d: Subscribe: %v", i, serr)
		}
		cur = next
	}

	if got := conn.maxActiveCount(); got > 1 {
		t.Fatalf("max concurrent bus-side streams = %d, want at most 1", got)
	}

	// The survivor's stream must still be live and delivering.
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "surviving subscriber has no active stream")
	conn.emit(attrEvent(9))
	select {
	case ev := <-cur.Events():
		if f, _ := ev.Value.Value.AsFloat(); f != 9 {
			t.Errorf("value = %v", ev.Value.Value.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber did not receive an event")
	}

	cur.Close()
	waitFor(t, func() bool { return conn.activeCount() == 0 }, "registration not torn down")
}

// recordingTap captures telemetry calls.
type recordingTap struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingTap) RecordAttribute(string, string, *bus.AttributeValue) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func TestHub_InvokesTelemetryTap(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})
	tap := &recordingTap{}
	h.SetTap(tap)

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	conn.emit(attrEvent(3))
	<-sub.Events()

	waitFor(t, func() bool {
		tap.mu.Lock()
		defer tap.mu.Unlock()
		return tap.calls == 1
	}, "telemetry tap not invoked")
}

func TestTelemetryTap_SkipsEventsAfterLastDetach(t *testing.T) {
	conn := &eventConn{}
	h := newTestHub(t, conn, Config{})
	tap := &recordingTap{}
	h.SetTap(tap)

	sub, err := h.Subscribe(context.Background(), "lab/sensor/1", "temperature")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return conn.activeCount() == 1 }, "registration never became active")

	conn.emit(attrEvent(1))
	<-sub.Events()
	waitFor(t, func() bool {
		tap.mu.Lock()
		defer tap.mu.Unlock()
		return tap.calls == 1
	}, "telemetry tap not invoked")

	reg := sub.reg
	sub.Close()

	// A bus event racing the final detach reaches deliver after the
	// registration is dead; no subscriber can observe it, so the tap
	// must not record it either.
	reg.deliver(attrEvent(2))

	tap.mu.Lock()
	calls := tap.calls
	tap.mu.Unlock()
	if calls != 1 {
		t.Errorf("tap calls = %d, want 1", calls)
	}
}
