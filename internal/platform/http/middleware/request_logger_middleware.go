// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
)

// RequestLoggerMiddleware stores a logger carrying request_id, method, path
// and client_ip in the request context. Handlers read it back with
// appctx.GetLogger.
//
// Must run after chimw.RequestID.
func RequestLoggerMiddleware(base *slog.Logger, trustedProxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := appctx.WithLogger(r.Context(), baseFields(base, r, trustedProxies))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// baseFields never includes the query string: upload filenames and OAuth
// codes travel there.
func baseFields(base *slog.Logger, r *http.Request, trustedProxies *realip.TrustedProxies) *slog.Logger {
	clientIP := "unknown"
	if trustedProxies != nil {
		clientIP = trustedProxies.GetClientIPString(r)
	}
	return base.With(
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"client_ip", clientIP,
	)
}
