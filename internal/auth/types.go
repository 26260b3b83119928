package auth

import (
	"context"
	"time"
)

// AuthContext contains authentication information attached to a request.
// It is set by the middleware after successful authentication.
type AuthContext struct {
	// TokenID is a short, non-reversible identifier of the presented token.
	TokenID string

	// Cached reports whether the token was accepted from the verification cache.
	Cached bool

	// AuthenticatedAt is when the request was authenticated.
	AuthenticatedAt time.Time
}

type authContextKey struct{}

// AuthContextKey is the key used to store AuthContext in request context.
var AuthContextKey = authContextKey{}

// GetAuthContext retrieves the AuthContext from a request context.
func GetAuthContext(ctx context.Context) *AuthContext {
	if authCtx, ok := ctx.Value(AuthContextKey).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// RequireAuth returns the auth context or ErrAccessDenied.
func RequireAuth(ctx context.Context) (*AuthContext, error) {
	authCtx := GetAuthContext(ctx)
	if authCtx == nil {
		return nil, ErrAccessDenied
	}
	return authCtx, nil
}
