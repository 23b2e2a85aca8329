package graph

import (
	"context"
	"errors"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/gateway"
	"github.com/openctl/ctrlgraph/internal/hub"
	"github.com/openctl/ctrlgraph/internal/registry"
	"github.com/openctl/ctrlgraph/internal/session"
)

// Error kinds exposed to API clients.
const (
	KindUnauthorized           = "UNAUTHORIZED"
	KindAuthServiceUnavailable = "AUTH_SERVICE_UNAVAILABLE"
	KindNotFound               = "NOT_FOUND"
	KindTypeMismatch           = "TYPE_MISMATCH"
	KindDeviceUnavailable      = "DEVICE_UNAVAILABLE"
	KindTimeout                = "TIMEOUT"
	KindCancelled              = "CANCELLED"
	KindSubscriptionTerminated = "SUBSCRIPTION_TERMINATED"
	KindInternal               = "INTERNAL"
)

// OpError is a resolver failure with a client-facing kind. It
// implements gqlerrors.ExtendedError, so the kind travels in the
// GraphQL error extensions.
type OpError struct {
	Kind    string
	Message string
}

func (e *OpError) Error() string { return e.Message }

// Extensions satisfies gqlerrors.ExtendedError.
func (e *OpError) Extensions() map[string]any {
	return map[string]any{"kind": e.Kind}
}

// WrapError classifies an internal error into an OpError. Unknown
// errors become INTERNAL rather than leaking detail-free.
func WrapError(err error) *OpError {
	if err == nil {
		return nil
	}
	var op *OpError
	if errors.As(err, &op) {
		return op
	}
	return &OpError{Kind: ErrorKind(err), Message: err.Error()}
}

// ErrorKind maps the internal error taxonomy onto client kinds.
// Termination is checked first: a terminal subscription error wraps its
// cause, and the cause must not shadow the terminal kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, hub.ErrTerminated):
		return KindSubscriptionTerminated
	case errors.Is(err, session.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, session.ErrStoreUnavailable):
		return KindAuthServiceUnavailable
	case errors.Is(err, bus.ErrDeviceNotFound),
		errors.Is(err, bus.ErrAttributeNotFound),
		errors.Is(err, bus.ErrCommandNotFound):
		return KindNotFound
	case errors.Is(err, gateway.ErrTypeMismatch),
		errors.Is(err, gateway.ErrNotReadable),
		errors.Is(err, gateway.ErrNotWritable),
		errors.Is(err, bus.ErrValueMismatch),
		errors.Is(err, bus.ErrInvalidDataType):
		return KindTypeMismatch
	case errors.Is(err, registry.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, gateway.ErrTimeout):
		return KindTimeout
	case errors.Is(err, gateway.ErrCancelled),
		errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
