// Package auth extracts the caller identity from incoming requests. Token
// validation happens upstream (reverse proxy or API gateway); this layer only
// trusts the forwarded username header.
package auth

import (
	"context"
	"net/http"
)

// HeaderForwardedUser carries the authenticated username set by the upstream
// proxy.
const HeaderForwardedUser = "X-Forwarded-User"

// AnonymousCaller is used when no identity header is present.
const AnonymousCaller = "anonymous"

type contextKey struct{}

// CallerFromContext returns the caller identity attached by Middleware,
// or AnonymousCaller.
func CallerFromContext(ctx context.Context) string {
	if caller, ok := ctx.Value(contextKey{}).(string); ok && caller != "" {
		return caller
	}
	return AnonymousCaller
}

// WithCaller attaches a caller identity to the context.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// Middleware resolves the caller identity for every request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(HeaderForwardedUser)
		if caller == "" {
			caller = AnonymousCaller
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
