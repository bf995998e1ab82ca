package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
)

// AccessLogMiddleware emits one "request" record per request once the
// handler returns. Server errors log at error level, everything else at
// info. The record builds on the request-scoped logger, so user_id set by
// the auth gate is not part of it.
func AccessLogMiddleware(log *slog.Logger, trustedProxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				l, ok := appctx.Logger(r.Context())
				if !ok {
					l = baseFields(log, r, trustedProxies)
				}
				status := rw.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				l.Log(r.Context(), level, "request",
					"status", status,
					"bytes", rw.BytesWritten(),
					"duration_ms", time.Since(began).Milliseconds(),
				)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
