// Package interceptors is the registry of cross-cutting HTTP middleware that
// services attach to individual routes by profile name.
package interceptors

import (
	"log/slog"
	"net/http"

	"github.com/drivebags/drivebags-go/internal/platform/deps"
)

// Middleware is an HTTP middleware function.
type Middleware func(http.Handler) http.Handler

// NewInterceptor is the constructor function type for interceptors. conf is a
// single profile table, for example [http.interceptors.ratelimit.profiles.chat].
type NewInterceptor func(conf map[string]any, d *deps.Deps, log *slog.Logger) (Middleware, error)
