package hub

import "errors"

var (
	// ErrClosed is returned by Subscribe after the hub has shut down.
	ErrClosed = errors.New("hub: closed")

	// ErrTerminated is carried by the terminal event delivered to
	// subscribers when a registration exhausts its re-registration
	// retries.
	ErrTerminated = errors.New("hub: subscription terminated")
)
