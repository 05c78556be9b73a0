package auth

import "context"

type ctxKey int

const (
	identityKey ctxKey = iota
	tokenKey
)

// WithIdentity returns a context carrying the authenticated username and
// the session token it was resolved from.
func WithIdentity(ctx context.Context, username, token string) context.Context {
	if username == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, identityKey, username)
	return context.WithValue(ctx, tokenKey, token)
}

// IdentityFromContext returns the username bound to the request, or "" for
// anonymous requests.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	username, _ := ctx.Value(identityKey).(string)
	return username
}

// TokenFromContext returns the session token bound to the request.
func TokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
