// Package auth holds the principals that can call the API: customers
// authenticated by identity-service tokens and back-office API keys.
package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// ScopeOrdersAdmin grants access to the admin order console.
const ScopeOrdersAdmin = "orders:admin"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the given scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	// CustomerID is set for customer tokens.
	CustomerID string
	// KeyID is set for API keys.
	KeyID  string
	Scopes []string
}

// IsAdmin reports whether the principal may use the admin console.
func (p Principal) IsAdmin() bool {
	return slices.Contains(p.Scopes, ScopeOrdersAdmin)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
