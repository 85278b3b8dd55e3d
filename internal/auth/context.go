package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type identityContextKey struct{}
type rolesContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated caller and its roles.
func ContextWithIdentity(ctx context.Context, addr common.Address, roles []string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, addr)
	if roles = dedupeRoles(roles); len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesContextKey{}, roles)
	}
	return ctx
}

// IdentityFromContext extracts the authenticated caller.
func IdentityFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(common.Address)
	if !ok || v == (common.Address{}) {
		return common.Address{}, false
	}
	return v, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	v, ok := ctx.Value(rolesContextKey{}).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole checks whether the context contains the specified role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range dedupeRoles([]string{role}) {
		for _, have := range RolesFromContext(ctx) {
			if have == r {
				return true
			}
		}
	}
	return false
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
