package gateway

import "errors"

// Domain errors for the gateway package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTypeMismatch is returned when a write value or command input
	// does not match the attribute's or command's declared type. The
	// bus is never contacted in this case.
	ErrTypeMismatch = errors.New("gateway: value type mismatch")

	// ErrNotReadable is returned when reading a write-only attribute.
	ErrNotReadable = errors.New("gateway: attribute is not readable")

	// ErrNotWritable is returned when writing a read-only attribute.
	ErrNotWritable = errors.New("gateway: attribute is not writable")

	// ErrTimeout is returned when a device does not answer within the
	// per-call timeout.
	ErrTimeout = errors.New("gateway: device operation timed out")

	// ErrCancelled is returned when the caller's context is cancelled
	// mid-operation. The operation may have been partially applied on
	// the device side; bus writes are not atomic from the gateway's
	// perspective.
	ErrCancelled = errors.New("gateway: operation cancelled")
)
