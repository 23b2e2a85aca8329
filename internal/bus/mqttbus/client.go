package mqttbus

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

const (
	// connectTimeout is the maximum time to wait for the initial
	// broker connection.
	connectTimeout = 10 * time.Second

	// opTimeout is the maximum time to wait for publish/subscribe
	// acknowledgement.
	opTimeout = 5 * time.Second

	// disconnectQuiesce is the time in milliseconds given to pending
	// operations on disconnect.
	disconnectQuiesce = 1000

	// keepAlive is the MQTT keepalive interval.
	keepAlive = 60 * time.Second

	// reconnectInitialDelay and reconnectMaxDelay bound paho's
	// auto-reconnect backoff.
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
// Handlers run on paho's goroutines and must not block for long.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
	refs    int
}

// Client wraps the paho MQTT client with subscription tracking so
// active subscriptions survive broker reconnects. Subscriptions are
// reference-counted per topic: the broker-side subscription is created
// on the first Subscribe for a topic and removed only when the last
// Unsubscribe releases it.
type Client struct {
	client pahomqtt.Client
	cfg    config.BusConfig

	subMu         sync.RWMutex
	subscriptions map[string]*subscription

	connMu    sync.RWMutex
	connected bool

	loggerMu sync.RWMutex
	logger   Logger
}

// Connect establishes the broker connection described by cfg.
func Connect(cfg config.BusConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]*subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the state here
	// so IsConnected holds immediately after Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func buildClientOptions(cfg config.BusConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInitialDelay)
	opts.SetMaxReconnectInterval(reconnectMaxDelay)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	c.restoreSubscriptions()
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("bus broker connection lost", "error", err)
	}
}

// restoreSubscriptions re-subscribes every tracked topic after a
// reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub))
	}
}

// Subscribe registers a handler for messages on a topic. The
// subscription is tracked and restored after broker reconnects.
// Subscribing to an already-tracked topic adds a reference and routes
// the topic's messages to the new handler.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub, first := c.retainSubscription(topic, byte(c.cfg.QoS), handler)
	if !first {
		// The broker-side subscription already exists; the route reads
		// the handler through the tracked entry.
		return nil
	}

	token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub))
	if !token.WaitTimeout(opTimeout) {
		c.releaseSubscription(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, opTimeout)
	}
	if err := token.Error(); err != nil {
		c.releaseSubscription(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe releases one reference on a topic. The broker-side
// subscription is removed only when the last reference goes away, so a
// stale caller cannot tear down a topic another subscriber still uses.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if !c.releaseSubscription(topic) {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, opTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// retainSubscription records a handler for topic and reports whether
// this is the first reference, in which case the caller must create
// the broker-side subscription.
func (c *Client) retainSubscription(topic string, qos byte, handler MessageHandler) (*subscription, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sub, ok := c.subscriptions[topic]; ok {
		sub.refs++
		sub.handler = handler
		return sub, false
	}
	sub := &subscription{topic: topic, qos: qos, handler: handler, refs: 1}
	c.subscriptions[topic] = sub
	return sub, true
}

// releaseSubscription drops one reference on topic and reports whether
// the last reference was released.
func (c *Client) releaseSubscription(topic string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	sub, ok := c.subscriptions[topic]
	if !ok {
		return false
	}
	sub.refs--
	if sub.refs > 0 {
		return false
	}
	delete(c.subscriptions, topic)
	return true
}

// Publish sends a message to a topic at the configured QoS.
func (c *Client) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, opTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// HealthCheck verifies the broker connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("bus health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker, allowing pending operations a
// short quiesce period.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(disconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// SetLogger sets a logger for handler errors and connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adds panic recovery and error logging around a tracked
// subscription's handler. The handler is read through the subscription
// entry at delivery time so a re-subscribe on the same topic takes
// effect without touching the broker route.
func (c *Client) wrapHandler(sub *subscription) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("bus message handler panic recovered",
						"topic", msg.Topic(), "panic", r)
				}
			}
		}()

		c.subMu.RLock()
		handler := sub.handler
		c.subMu.RUnlock()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("bus message handler error",
					"topic", msg.Topic(), "error", err)
			}
		}
	}
}
