package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-device-sessions/auth"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyPrincipal stores the authenticated auth.Principal
	ContextKeyPrincipal ContextKey = "principal"
)

// PrincipalFromContext returns the principal RequireAuth stored on the request.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(auth.Principal)
	return p, ok
}

// RequireAuth is middleware that validates a Bearer session token through the
// session service gate and stores the resulting principal on the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "unauthorized", "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeUnauthorized(w, "unauthorized", "Invalid Authorization header format")
				return
			}

			token := strings.TrimSpace(parts[1])
			if token == "" {
				writeUnauthorized(w, "unauthorized", "Empty token")
				return
			}

			principal, err := s.sessions.Authenticate(r.Context(), token)
			if err != nil {
				s.writeGateError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireAdmin rejects principals without the admin role.
// Should be chained after RequireAuth to ensure the principal is present
func (s *Server) RequireAdmin() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "unauthorized", "Authentication required")
				return
			}
			if err := principal.RequireAdmin(); err != nil {
				s.writeServiceError(w, err)
				return
			}
			next(w, r)
		}
	}
}

// RequireUpgraded rejects principals whose account is not on the upgraded tier.
// The tier is read at request time so an entitlement change applies immediately.
func (s *Server) RequireUpgraded() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "unauthorized", "Authentication required")
				return
			}

			if err := s.sessions.RequireUpgraded(r.Context(), principal); err != nil {
				s.writeGateError(w, err)
				return
			}
			next(w, r)
		}
	}
}
