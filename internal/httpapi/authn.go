package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authn requires a valid bearer token and puts the caller identity in the
// request context.
func Authn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="postage"`)
			writeError(w, r, http.StatusUnauthorized, "Unauthenticated", err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="postage", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "Unauthenticated", "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "Internal", "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), claims.Address(), claims.Roles)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose token does not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="postage"`)
				writeError(w, r, http.StatusUnauthorized, "Unauthenticated", "authentication required")
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="postage", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "Forbidden", "missing role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// caller returns the authenticated identity. Routes behind Authn always have one.
func caller(r *http.Request) common.Address {
	addr, _ := auth.IdentityFromContext(r.Context())
	return addr
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
