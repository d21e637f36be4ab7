// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Principal types.
const (
	PrincipalDevice   = "device"
	PrincipalOperator = "operator"
)

// AuthContext holds the authenticated identity extracted from a request.
// It is populated by the interceptors and middleware in this package.
type AuthContext struct {
	PrincipalID   string // device id or operator name
	PrincipalType string // PrincipalDevice | PrincipalOperator
	Scheme        string // scheme that admitted the request
}

// IsDevice reports whether the principal is a device.
func (a *AuthContext) IsDevice() bool {
	return a != nil && a.PrincipalType == PrincipalDevice
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
