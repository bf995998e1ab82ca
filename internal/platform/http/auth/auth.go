// Package auth provides the bearer token gate for the HTTP server.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// AuthGateConfig configures the auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires a bearer token.
	// The server builds it from IsAuthRequired.
	RequireAuth func(path string) bool

	// Log is the base logger for auth-related warnings and errors.
	Log *slog.Logger

	// Resolver verifies bearer tokens.
	// May be nil only if RequireAuth always returns false (tests only).
	Resolver identity.Resolver

	// Users records every authenticated caller.
	// May be nil only if RequireAuth always returns false (tests only).
	Users identity.UserRepo
}

// NewAuthGate returns a middleware that authenticates the caller.
// If RequireAuth returns false for the request path, the request passes through
// without token parsing or context enrichment.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Unauthorized")
				return
			}

			ctx := r.Context()
			p, err := cfg.Resolver.Resolve(ctx, token)
			if err != nil {
				if !errors.Is(err, apperr.ErrUnauthenticated) {
					appctx.GetLogger(ctx).Warn("token verification failed", "error", err)
				}
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Invalid token")
				return
			}

			if _, err := cfg.Users.Touch(ctx, p); err != nil {
				appctx.GetLogger(ctx).Error("failed to record user", "error", err)
				api.WriteInternalError(w, "internal error")
				return
			}

			ctx = appctx.With(identity.WithPrincipal(ctx, p), "user_id", p.UID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
