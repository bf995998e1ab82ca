// Package deps holds the shared dependencies handed to every HTTP service
// and interceptor. main builds one Deps and passes it explicitly.
package deps

import (
	"net/http"

	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/files"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
	"github.com/drivebags/drivebags-go/internal/components/vault"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
	"github.com/drivebags/drivebags-go/internal/platform/config"
	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
)

// Deps holds shared dependencies for all services.
type Deps struct {
	Config *config.Config

	// Cache backs rate limiting counters and the JWKS cache.
	Cache cache.CacheWithCounter

	// RealIP is the single source of client identity for logging and
	// rate limiting.
	RealIP *realip.TrustedProxies

	HTTPClient *http.Client

	// Identity
	Users    identity.UserRepo
	Resolver identity.Resolver

	// Workflows
	Bags          *bags.Manager
	Invitations   *invitations.Service
	Requests      *requests.Service
	Chat          *chat.Service
	Files         *files.Service
	Vault         *vault.Vault
	Notifications *notifications.Service
}

