package bus

import "errors"

// Boundary errors for control-bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device name is unknown to the bus.
	ErrDeviceNotFound = errors.New("bus: device not found")

	// ErrAttributeNotFound is returned when an attribute does not exist on a device.
	ErrAttributeNotFound = errors.New("bus: attribute not found")

	// ErrCommandNotFound is returned when a command does not exist on a device.
	ErrCommandNotFound = errors.New("bus: command not found")

	// ErrTransient marks faults that are worth retrying: gateway timeouts,
	// broken connections, devices mid-restart. Callers wrap it so
	// errors.Is(err, ErrTransient) holds on the whole chain.
	ErrTransient = errors.New("bus: transient fault")

	// ErrClosed is returned when operating on a closed connection.
	ErrClosed = errors.New("bus: connection closed")

	// ErrInvalidDataType is returned when a data type tag cannot be parsed.
	ErrInvalidDataType = errors.New("bus: invalid data type")

	// ErrValueMismatch is returned when a value payload does not match its
	// declared data type tag.
	ErrValueMismatch = errors.New("bus: value does not match data type")
)
