package http

import (
	"context"
	"errors"

	"barterpool-backend/internal/security"
)

type claimsKey struct{}

var errNoIdentity = errors.New("request carries no user identity")

func withClaims(ctx context.Context, claims *security.UserClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the token claims the auth middleware attached.
func ClaimsFromContext(ctx context.Context) (*security.UserClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*security.UserClaims)
	return claims, ok
}

// UserIDFromContext extracts the authenticated user ID.
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID == "" {
		return "", errNoIdentity
	}
	return claims.UserID, nil
}
