// Package middleware provides net/http guards backed by an access-token
// validator. RequireAuth rejects unauthenticated requests; RequireRoles
// additionally enforces role membership.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tradegate/authcore"
)

// Validator is the subset of the engine the guards need.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authcore.AuthResult, error)
}

type contextKey uint8

const ctxKeyAuthResult contextKey = iota

// AuthResultFromContext returns the identity injected by RequireAuth.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(ctxKeyAuthResult).(*authcore.AuthResult)
	return res, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth validates the bearer token and injects the resulting identity
// into the request context. Missing, malformed, or expired tokens get 401.
func RequireAuth(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			res, err := v.Validate(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAuthResult, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles wraps RequireAuth and additionally requires the identity's
// role to be one of the allowed names. A valid identity with the wrong role
// gets 403, never 401.
func RequireRoles(v Validator, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	auth := RequireAuth(v)
	return func(next http.Handler) http.Handler {
		return auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if _, ok := allowed[res.Role]; !ok {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden"}`))
}
