package registry

import "errors"

// Domain errors for the registry package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceUnavailable is returned when resolution exhausted the
	// configured attempt ceiling without reaching the device.
	ErrDeviceUnavailable = errors.New("registry: device unavailable")

	// ErrClosed is returned when resolving through a closed adapter.
	ErrClosed = errors.New("registry: adapter closed")
)
