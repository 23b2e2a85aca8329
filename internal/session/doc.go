// Package session validates inbound credentials against the external
// session store.
//
// Every request is checked in two stages: the bearer token's signature
// and expiry are verified locally, then the session it names is looked
// up in the store so revoked sessions are rejected promptly. Validity
// is never cached across requests; the only caching is a request-scoped
// memo so a resolver tree that checks the same token several times
// costs one store roundtrip.
//
// A rejected credential and an unreachable store are distinct
// failures: callers must be able to tell "not allowed" from "could not
// check".
package session
