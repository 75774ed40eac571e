// Package context carries request-scoped identity values.
package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// PrincipalIDKey is the context key for the authenticated principal id
	PrincipalIDKey ContextKey = "principal_id"
	// EmailKey is the context key for the principal's email
	EmailKey ContextKey = "email"
)

// ExtractPrincipalID extracts the principal id from the request context
func ExtractPrincipalID(ctx context.Context) (string, bool) {
	principalID, ok := ctx.Value(PrincipalIDKey).(string)
	return principalID, ok
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// WithPrincipal returns a context carrying the principal id and email.
func WithPrincipal(ctx context.Context, principalID, email string) context.Context {
	ctx = context.WithValue(ctx, PrincipalIDKey, principalID)
	return context.WithValue(ctx, EmailKey, email)
}
