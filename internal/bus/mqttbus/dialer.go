package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

// Dialer implements bus.Dialer over one shared MQTT client. All device
// connections multiplex the same broker session; replies come back on
// a single per-client reply topic and are correlated by request ID.
type Dialer struct {
	client *Client
	cfg    config.BusConfig

	replyTopic string

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	closed  bool
}

// NewDialer wires a dialer onto an established bus client.
func NewDialer(client *Client, cfg config.BusConfig) (*Dialer, error) {
	d := &Dialer{
		client:     client,
		cfg:        cfg,
		replyTopic: fmt.Sprintf("%s/reply/%s", cfg.TopicPrefix, cfg.Broker.ClientID),
		pending:    make(map[string]chan rpcResponse),
	}
	if err := client.Subscribe(d.replyTopic, d.handleReply); err != nil {
		return nil, fmt.Errorf("subscribing reply topic: %w", err)
	}
	return d, nil
}

// Connect verifies the device exists on the gateway and returns a
// connection bound to it.
func (d *Dialer) Connect(ctx context.Context, device string) (bus.Connection, error) {
	if device == "" {
		return nil, bus.ErrDeviceNotFound
	}
	if _, err := d.call(ctx, device, opPing, rpcRequest{}); err != nil {
		return nil, err
	}
	return &conn{dialer: d, device: device}, nil
}

// ListDevices asks the gateway for device names matching pattern.
// Pattern syntax ("*" wildcards) is the gateway's.
func (d *Dialer) ListDevices(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	raw, err := d.call(ctx, gatewayDevice, opList, rpcRequest{Pattern: pattern})
	if err != nil {
		return nil, err
	}
	var list wireDeviceList
	if err := decodeResult(raw, &list); err != nil {
		return nil, err
	}
	return list.Devices, nil
}

// Close stops reply handling. Connections handed out earlier fail
// their next call.
func (d *Dialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for id, ch := range d.pending {
		close(ch)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	return d.client.Unsubscribe(d.replyTopic)
}

// call performs one RPC round-trip. A missing reply within the
// configured window is a transient fault: the gateway may be
// restarting, and the registry's backoff decides whether to retry.
func (d *Dialer) call(ctx context.Context, device, op string, req rpcRequest) (json.RawMessage, error) {
	req.ID = uuid.NewString()
	req.ReplyTo = d.replyTopic

	ch := make(chan rpcResponse, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, bus.ErrClosed
	}
	d.pending[req.ID] = ch
	d.mu.Unlock()
	defer d.forget(req.ID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mqttbus: encoding rpc request: %w", err)
	}

	topic := fmt.Sprintf("%s/rpc/%s/%s", d.cfg.TopicPrefix, device, op)
	if err := d.client.Publish(topic, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", bus.ErrTransient, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout())
	defer cancel()

	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: no reply from %s within %s",
			bus.ErrTransient, device, d.cfg.Timeout())
	case resp, ok := <-ch:
		if !ok {
			return nil, bus.ErrClosed
		}
		if resp.Error != nil {
			return nil, mapRPCError(resp.Error)
		}
		return resp.Result, nil
	}
}

func (d *Dialer) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// handleReply routes one reply-topic message to its waiting caller.
// Late replies for timed-out requests are dropped.
func (d *Dialer) handleReply(_ string, payload []byte) error {
	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("mqttbus: decoding rpc reply: %w", err)
	}

	d.mu.Lock()
	ch, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	d.mu.Unlock()

	if ok {
		ch <- resp
	}
	return nil
}
