package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	msPerSecond = 1000

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Sink writes attribute telemetry points through the non-blocking
// InfluxDB write API. It satisfies the hub's Tap interface.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect verifies InfluxDB is reachable and prepares the batched
// write API.
func Connect(cfg config.TelemetryConfig) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*msPerSecond))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := &Sink{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}
	go s.handleWriteErrors(s.writeAPI.Errors())
	return s, nil
}

// RecordAttribute writes one attribute change as a point. Non-numeric
// values are skipped; telemetry tracks measurements, not strings or
// enum states.
func (s *Sink) RecordAttribute(device, attribute string, value *bus.AttributeValue) {
	if value == nil || !s.IsConnected() {
		return
	}
	num, ok := value.Value.Numeric()
	if !ok {
		return
	}

	ts := value.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		"attribute_values",
		map[string]string{
			"device":    device,
			"attribute": attribute,
			"quality":   string(value.Quality),
		},
		map[string]any{"value": num},
		ts,
	)
	s.writeAPI.WritePoint(point)
}

// handleWriteErrors drains async write failures from the write API.
func (s *Sink) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		s.mu.RLock()
		callback := s.onError
		s.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError installs a callback for asynchronous write failures.
func (s *Sink) SetOnError(callback func(err error)) {
	s.mu.Lock()
	s.onError = callback
	s.mu.Unlock()
}

// IsConnected reports the last known connection state.
func (s *Sink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// HealthCheck pings the server.
func (s *Sink) HealthCheck(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("telemetry health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check: server not healthy")
	}
	return nil
}

// Close flushes buffered points and shuts the client down.
func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.writeAPI.Flush()
	s.client.Close()
	return nil
}
