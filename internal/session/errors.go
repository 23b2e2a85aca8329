package session

import "errors"

var (
	// ErrUnauthorized rejects a missing, malformed, expired, or
	// revoked credential.
	ErrUnauthorized = errors.New("session: unauthorized")

	// ErrStoreUnavailable signals that the session store could not be
	// reached, so validity is unknown.
	ErrStoreUnavailable = errors.New("session: store unavailable")
)
