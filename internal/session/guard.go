package session

import (
	"context"
	"sync"
)

// Guard fronts a Validator with request-scoped memoization. A request
// whose context carries a memo (see WithMemo) pays for at most one
// store roundtrip per token; requests without a memo always hit the
// validator.
type Guard struct {
	validator Validator
}

// NewGuard wraps a validator.
func NewGuard(v Validator) *Guard {
	return &Guard{validator: v}
}

type memoCtxKey struct{}

type memo struct {
	mu      sync.Mutex
	entries map[string]memoEntry
}

type memoEntry struct {
	identity Identity
	err      error
}

// WithMemo attaches a fresh validation memo to ctx. The API layer
// calls this once per inbound request; the memo never outlives the
// request context.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoCtxKey{}, &memo{entries: make(map[string]memoEntry)})
}

// Authorize validates the token, consulting the request memo first.
// Store-unavailable results are memoized too: retrying within the
// same request would not make the store reachable.
func (g *Guard) Authorize(ctx context.Context, token string) (Identity, error) {
	m, _ := ctx.Value(memoCtxKey{}).(*memo)
	if m == nil {
		return g.validator.Validate(ctx, token)
	}

	m.mu.Lock()
	if e, ok := m.entries[token]; ok {
		m.mu.Unlock()
		return e.identity, e.err
	}
	m.mu.Unlock()

	id, err := g.validator.Validate(ctx, token)

	m.mu.Lock()
	m.entries[token] = memoEntry{identity: id, err: err}
	m.mu.Unlock()
	return id, err
}
