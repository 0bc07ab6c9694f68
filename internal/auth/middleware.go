// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}

// ContextWithIdentity attaches an identity, mainly for tests.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// TokenFromRequest extracts the bearer token from the Authorization
// header.
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

// Middleware rejects requests without a valid session. onError writes
// the response body for the two rejection classes.
func (m *Manager) Middleware(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				onError(w, r, ErrUnauthorized)
				return
			}
			id, err := m.Validate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}
