package session

import "context"

type identityCtxKey struct{}

// WithIdentity attaches the authenticated identity to ctx. The API
// middleware sets it once per request after the guard clears the
// token.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFrom returns the identity attached to ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
