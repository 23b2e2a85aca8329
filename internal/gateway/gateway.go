// Package gateway executes point-in-time reads, writes, and command
// invocations against resolved device handles.
//
// Every call runs on its own goroutine with a per-call timeout, so a
// slow or hung device cannot stall unrelated requests: the caller gets
// ErrTimeout (or ErrCancelled) while the stray bus call is abandoned to
// finish in the background. Requested attributes and commands are
// validated against the device's descriptor set before dispatch, and
// type-mismatched payloads are rejected without contacting the bus.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/registry"
)

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// FaultReporter receives device faults observed during operations, so
// the registry can mark the handle for reconnection.
type FaultReporter interface {
	ReportFault(device string, err error)
}

// Config contains per-operation execution settings.
type Config struct {
	// CallTimeout bounds each bus round-trip.
	CallTimeout time.Duration

	// TransientRetries is how many times a transient bus fault is
	// retried before surfacing. Non-transient faults never retry.
	TransientRetries int
}

// Gateway performs attribute and command operations on device handles.
// All methods are safe for concurrent use.
type Gateway struct {
	cfg    Config
	logger Logger
	faults FaultReporter
}

// New creates a gateway with the given configuration.
func New(cfg Config) *Gateway {
	return &Gateway{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) { g.logger = logger }

// SetFaultReporter wires device faults back to the registry.
func (g *Gateway) SetFaultReporter(r FaultReporter) { g.faults = r }

// ReadAttribute reads the current value of an attribute.
//
// The attribute must exist on the device and be readable; otherwise
// bus.ErrAttributeNotFound or ErrNotReadable is returned without a bus
// read.
func (g *Gateway) ReadAttribute(ctx context.Context, h *registry.Handle, name string) (*bus.AttributeValue, error) {
	desc, err := g.describeAttribute(ctx, h, name)
	if err != nil {
		return nil, err
	}
	if !desc.Access.Readable() {
		return nil, ErrNotReadable
	}

	return call(g, ctx, h, func(ctx context.Context) (*bus.AttributeValue, error) {
		return h.Conn().ReadAttribute(ctx, name)
	})
}

// WriteAttribute writes a value to an attribute.
//
// The value's type tag must match the attribute's declared type;
// mismatches return ErrTypeMismatch before any bus traffic. A timed-out
// or cancelled write may still have been partially applied on the
// device side.
func (g *Gateway) WriteAttribute(ctx context.Context, h *registry.Handle, name string, value bus.Value) error {
	desc, err := g.describeAttribute(ctx, h, name)
	if err != nil {
		return err
	}
	if !desc.Access.Writable() {
		return ErrNotWritable
	}
	if !value.Matches(desc.Type) {
		return typeMismatch(desc.Type, value.Type)
	}

	_, err = call(g, ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Conn().WriteAttribute(ctx, name, value)
	})
	return err
}

// InvokeCommand executes a command on the device. in must be nil for
// commands declaring no input, and must match the declared input type
// otherwise. The result is nil for commands returning nothing.
func (g *Gateway) InvokeCommand(ctx context.Context, h *registry.Handle, name string, in *bus.Value) (*bus.Value, error) {
	desc, err := g.describeCommand(ctx, h, name)
	if err != nil {
		return nil, err
	}
	switch {
	case desc.InType == nil && in != nil:
		return nil, typeMismatchNone(in.Type)
	case desc.InType != nil && in == nil:
		return nil, typeMismatchMissing(*desc.InType)
	case desc.InType != nil && !in.Matches(*desc.InType):
		return nil, typeMismatch(*desc.InType, in.Type)
	}

	return call(g, ctx, h, func(ctx context.Context) (*bus.Value, error) {
		return h.Conn().InvokeCommand(ctx, name, in)
	})
}

// DescribeAttributes lists the device's attribute descriptors.
func (g *Gateway) DescribeAttributes(ctx context.Context, h *registry.Handle) ([]bus.AttributeDescriptor, error) {
	return call(g, ctx, h, func(ctx context.Context) ([]bus.AttributeDescriptor, error) {
		return h.Conn().DescribeAttributes(ctx)
	})
}

// DescribeCommands lists the device's command descriptors.
func (g *Gateway) DescribeCommands(ctx context.Context, h *registry.Handle) ([]bus.CommandDescriptor, error) {
	return call(g, ctx, h, func(ctx context.Context) ([]bus.CommandDescriptor, error) {
		return h.Conn().DescribeCommands(ctx)
	})
}

// DeviceState reads the device's operational state.
func (g *Gateway) DeviceState(ctx context.Context, h *registry.Handle) (bus.DeviceState, error) {
	return call(g, ctx, h, func(ctx context.Context) (bus.DeviceState, error) {
		return h.Conn().State(ctx)
	})
}

// describeAttribute fetches descriptors and selects one by name.
// Descriptors are read per request, never cached across requests.
func (g *Gateway) describeAttribute(ctx context.Context, h *registry.Handle, name string) (*bus.AttributeDescriptor, error) {
	descs, err := g.DescribeAttributes(ctx, h)
	if err != nil {
		return nil, err
	}
	for i := range descs {
		if descs[i].Name == name {
			return &descs[i], nil
		}
	}
	return nil, bus.ErrAttributeNotFound
}

func (g *Gateway) describeCommand(ctx context.Context, h *registry.Handle, name string) (*bus.CommandDescriptor, error) {
	descs, err := g.DescribeCommands(ctx, h)
	if err != nil {
		return nil, err
	}
	for i := range descs {
		if descs[i].Name == name {
			return &descs[i], nil
		}
	}
	return nil, bus.ErrCommandNotFound
}

// call runs fn on its own goroutine with the per-call timeout, retrying
// transient faults up to the configured bound. When the timeout or the
// caller's cancellation fires, the stray goroutine is left to drain into
// its buffered channel.
func call[T any](g *Gateway, ctx context.Context, h *registry.Handle, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for try := 0; try <= g.cfg.TransientRetries; try++ {
		v, err := attempt(g, ctx, fn)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, bus.ErrTransient) {
			g.reportFault(h, err)
		}
		if !errors.Is(err, bus.ErrTransient) {
			return zero, err
		}
		lastErr = err
		g.logger.Debug("retrying transient bus fault",
			"device", h.Name(),
			"attempt", try+1,
			"error", err,
		)
		if ctx.Err() != nil {
			return zero, ErrCancelled
		}
	}
	return zero, lastErr
}

// attempt is one bounded execution of fn on an isolated goroutine.
func attempt[T any](g *Gateway, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			// fn may surface the context error itself.
			switch {
			case errors.Is(r.err, context.DeadlineExceeded):
				if ctx.Err() == nil {
					return zero, fmt.Errorf("%w: %v", ErrTimeout, r.err)
				}
				return zero, ErrCancelled
			case errors.Is(r.err, context.Canceled):
				return zero, ErrCancelled
			}
		}
		return r.v, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ErrCancelled
		}
		return zero, fmt.Errorf("%w: no answer within %s", ErrTimeout, g.cfg.CallTimeout)
	}
}

func typeMismatch(want, got bus.DataType) error {
	return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, got)
}

func typeMismatchNone(got bus.DataType) error {
	return fmt.Errorf("%w: command takes no input, got %s", ErrTypeMismatch, got)
}

func typeMismatchMissing(want bus.DataType) error {
	return fmt.Errorf("%w: command requires %s input", ErrTypeMismatch, want)
}

// reportFault forwards a device fault to the registry, if wired.
func (g *Gateway) reportFault(h *registry.Handle, err error) {
	if g.faults != nil {
		g.faults.ReportFault(h.Name(), err)
	}
}
