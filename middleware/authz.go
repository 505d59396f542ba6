package middleware

import (
	"net/http"

	"github.com/MrEthical07/authkit"
)

// RequirePermission lets the request through only when the caller holds
// every one of perms. It must run after Guard.
func RequirePermission(engine *authkit.Engine, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, authkit.ErrTokenInvalid)
				return
			}
			if err := engine.RequirePermission(r.Context(), claims.UserID(), perms...); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole lets the request through when the caller holds any of roles.
// It must run after Guard.
func RequireRole(engine *authkit.Engine, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, authkit.ErrTokenInvalid)
				return
			}
			if err := engine.RequireRole(r.Context(), claims.UserID(), roles...); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
