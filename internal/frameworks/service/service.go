// Package service is the registry of HTTP services mounted by the server.
package service

import (
	"log/slog"
	"net/http"

	"github.com/drivebags/drivebags-go/internal/platform/deps"
)

// Service represents an HTTP service that can be registered and mounted.
type Service interface {
	Handler() http.Handler

	// Prefix is the mount point below the external base path, without slashes.
	Prefix() string

	Close() error

	// Unprotected lists paths, relative to Prefix, that bypass the auth gate.
	Unprotected() []string
}

// NewService is the constructor function type for services. conf is the
// [http.services.<name>] table, or nil when absent.
type NewService func(conf map[string]any, d *deps.Deps, log *slog.Logger) (Service, error)
