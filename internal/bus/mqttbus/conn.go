package mqttbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openctl/ctrlgraph/internal/bus"
)

// eventBuffer is the per-stream channel capacity between the broker
// handler and the consumer. One stream feeds every subscriber of its
// key, so this stage is shared: when it overflows, the newest events
// are dropped for all of them, before the hub's per-subscriber
// drop-oldest policy applies.
const eventBuffer = 32

// conn is one device's view of the gateway. All RPC traffic goes
// through the shared dialer; event streams subscribe their own topics.
type conn struct {
	dialer *Dialer
	device string

	mu      sync.Mutex
	streams map[*eventStream]struct{}
	closed  bool
}

func (c *conn) DescribeAttributes(ctx context.Context) ([]bus.AttributeDescriptor, error) {
	raw, err := c.call(ctx, opDescribeAttributes, rpcRequest{})
	if err != nil {
		return nil, err
	}
	var wire []wireAttrDescriptor
	if err := decodeResult(raw, &wire); err != nil {
		return nil, err
	}
	descs := make([]bus.AttributeDescriptor, 0, len(wire))
	for _, w := range wire {
		d, err := decodeAttrDescriptor(w)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (c *conn) DescribeCommands(ctx context.Context) ([]bus.CommandDescriptor, error) {
	raw, err := c.call(ctx, opDescribeCommands, rpcRequest{})
	if err != nil {
		return nil, err
	}
	var wire []wireCmdDescriptor
	if err := decodeResult(raw, &wire); err != nil {
		return nil, err
	}
	descs := make([]bus.CommandDescriptor, 0, len(wire))
	for _, w := range wire {
		d, err := decodeCmdDescriptor(w)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (c *conn) ReadAttribute(ctx context.Context, name string) (*bus.AttributeValue, error) {
	raw, err := c.call(ctx, opRead, rpcRequest{Attribute: name})
	if err != nil {
		return nil, err
	}
	var wire wireValue
	if err := decodeResult(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Attribute == "" {
		wire.Attribute = name
	}
	return decodeValue(wire)
}

func (c *conn) WriteAttribute(ctx context.Context, name string, value bus.Value) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("mqttbus: encoding write value: %w", err)
	}
	_, err = c.call(ctx, opWrite, rpcRequest{
		Attribute: name,
		Type:      value.Type.String(),
		Value:     encoded,
	})
	return err
}

func (c *conn) InvokeCommand(ctx context.Context, name string, in *bus.Value) (*bus.Value, error) {
	req := rpcRequest{Command: name}
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("mqttbus: encoding command input: %w", err)
		}
		req.Type = in.Type.String()
		req.Value = encoded
	}

	raw, err := c.call(ctx, opInvoke, req)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var wire wireValue
	if err := decodeResult(raw, &wire); err != nil {
		return nil, err
	}
	av, err := decodeValue(wire)
	if err != nil {
		return nil, err
	}
	out := av.Value
	return &out, nil
}

func (c *conn) State(ctx context.Context) (bus.DeviceState, error) {
	raw, err := c.call(ctx, opState, rpcRequest{})
	if err != nil {
		return bus.StateUnknown, err
	}
	var wire wireState
	if err := decodeResult(raw, &wire); err != nil {
		return bus.StateUnknown, err
	}
	return bus.DeviceState(wire.State), nil
}

// SubscribeEvents opens a stream of change notifications for one
// attribute, or for device state when target is bus.TargetState.
func (c *conn) SubscribeEvents(_ context.Context, target string) (<-chan bus.Event, bus.CancelFunc, error) {
	if target == "" {
		return nil, nil, bus.ErrAttributeNotFound
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, bus.ErrClosed
	}
	topic := fmt.Sprintf("%s/event/%s/%s", c.dialer.cfg.TopicPrefix, c.device, target)
	stream := newEventStream(c, topic)
	if c.streams == nil {
		c.streams = make(map[*eventStream]struct{})
	}
	c.streams[stream] = struct{}{}
	c.mu.Unlock()

	handler := func(_ string, payload []byte) error {
		ev, err := decodeEvent(c.device, target, payload)
		if err != nil {
			return err
		}
		stream.send(ev)
		return nil
	}
	if err := c.dialer.client.Subscribe(topic, handler); err != nil {
		c.dropStream(stream)
		return nil, nil, fmt.Errorf("%w: %w", bus.ErrTransient, err)
	}

	return stream.ch, stream.cancel, nil
}

func (c *conn) call(ctx context.Context, op string, req rpcRequest) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, bus.ErrClosed
	}
	c.mu.Unlock()
	return c.dialer.call(ctx, c.device, op, req)
}

func (c *conn) dropStream(s *eventStream) {
	c.mu.Lock()
	delete(c.streams, s)
	c.mu.Unlock()
}

// Close cancels every open event stream and marks the connection
// unusable. The shared broker session stays up for other devices.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := make([]*eventStream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = nil
	c.mu.Unlock()

	for _, s := range streams {
		s.cancel()
	}
	return nil
}

// eventStream bridges a broker subscription to a bus.Event channel.
// send and cancel may race with paho's handler goroutines; the mutex
// keeps the channel close orderly.
type eventStream struct {
	conn  *conn
	topic string

	mu     sync.Mutex
	ch     chan bus.Event
	closed bool
}

func newEventStream(c *conn, topic string) *eventStream {
	return &eventStream{
		conn:  c,
		topic: topic,
		ch:    make(chan bus.Event, eventBuffer),
	}
}

// send enqueues an event, dropping it when the consumer's buffer is
// full. The drop happens before the hub's per-subscriber buffering, so
// it affects every subscriber of the key alike. The hub re-arms from a
// fresh read, so a dropped bus event is not a correctness problem,
// only lost liveness under burst.
func (s *eventStream) send(ev bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *eventStream) cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.conn.dropStream(s)
	s.conn.dialer.client.Unsubscribe(s.topic)
}
