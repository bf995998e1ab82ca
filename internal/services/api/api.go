// Package api provides the /api/* endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/frameworks/service"
	svccfg "github.com/drivebags/drivebags-go/internal/frameworks/service/cfg"
	"github.com/drivebags/drivebags-go/internal/interceptors"
	"github.com/drivebags/drivebags-go/internal/platform/deps"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service configuration from [http.services.api].
type Config struct {
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`

	// MaxUploadMB caps the body of /upload/proxy.
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`

	// StateTTLSeconds bounds how long a Drive consent round trip may take.
	StateTTLSeconds int `mapstructure:"state_ttl_seconds"`
}

// RatelimitConfig selects a profile from [http.interceptors.ratelimit.profiles].
type RatelimitConfig struct {
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 1024
	}
	if c.StateTTLSeconds == 0 {
		c.StateTTLSeconds = 600
	}
}

// Routes that take the ratelimit profile. Each gets its own window.
var limitedRoutes = []string{"request", "chat", "upload", "exchange"}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	d      *deps.Deps
	log    *slog.Logger
}

// New creates the API service.
func New(m map[string]any, d *deps.Deps, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	if err := checkDeps(d); err != nil {
		return nil, err
	}

	limits, err := buildLimiters(c.Ratelimit.Profile, d, log)
	if err != nil {
		return nil, err
	}

	s := &Service{conf: &c, d: d, log: log}
	s.router = s.routes(limits)
	return s, nil
}

func checkDeps(d *deps.Deps) error {
	switch {
	case d == nil:
		return errors.New("api: deps are required")
	case d.Config == nil:
		return errors.New("api: config dependency is required")
	case d.Bags == nil || d.Invitations == nil || d.Requests == nil:
		return errors.New("api: bag workflows are required")
	case d.Chat == nil || d.Files == nil:
		return errors.New("api: chat and files services are required")
	case d.Vault == nil || d.Notifications == nil:
		return errors.New("api: vault and notifications are required")
	case d.Cache == nil:
		return errors.New("api: cache dependency is required")
	}
	return nil
}

// buildLimiters returns a middleware per limited route. Without a profile
// every entry is a pass-through.
func buildLimiters(profile string, d *deps.Deps, log *slog.Logger) (map[string]func(http.Handler) http.Handler, error) {
	passthrough := func(next http.Handler) http.Handler { return next }
	limits := make(map[string]func(http.Handler) http.Handler, len(limitedRoutes))
	for _, route := range limitedRoutes {
		limits[route] = passthrough
	}
	if profile == "" {
		return limits, nil
	}

	profileConfig, err := interceptors.GetProfileConfig(d.Config.HTTP.Interceptors, "ratelimit", profile)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	newInterceptor, ok := interceptors.Get("ratelimit")
	if !ok {
		return nil, errors.New("api: ratelimit interceptor not registered")
	}

	for _, route := range limitedRoutes {
		conf := maps.Clone(profileConfig)
		conf["profile"] = profile + "/" + route
		mw, err := newInterceptor(conf, d, log)
		if err != nil {
			return nil, fmt.Errorf("api: failed to create ratelimit interceptor: %w", err)
		}
		limits[route] = mw
	}
	return limits, nil
}

func (s *Service) routes(limit map[string]func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", api.HealthHandler(s.healthChecks()...))

	r.Route("/bags", func(r chi.Router) {
		r.Get("/", s.listBags)
		r.Post("/", s.createBag)
		r.Post("/create", s.createBag)

		r.Route("/{bagId}", func(r chi.Router) {
			r.Get("/", s.getBag)
			r.Put("/", s.updateBag)
			r.Delete("/", s.deleteBag)

			r.Post("/share", s.shareBag)
			r.Post("/leave", s.leaveBag)
			r.Delete("/participant", s.kickParticipant)

			r.Post("/invite", s.invite)
			r.Post("/invite/cancel", s.cancelInvite)
			r.Get("/invites", s.listBagInvites)

			r.With(limit["request"]).Post("/request", s.fileRequest)
			r.Get("/requests", s.listBagRequests)
			r.Post("/requests/decision", s.decideRequest)

			r.Get("/files", s.listFiles)

			r.Get("/chat", s.listChat)
			r.With(limit["chat"]).Post("/chat", s.postChat)
			r.Post("/chat/sync", s.syncChat)
		})
	})

	r.Post("/invitations/respond", s.respondInvite)
	r.With(limit["upload"]).Post("/upload/proxy", s.uploadProxy)

	r.Route("/user", func(r chi.Router) {
		r.Get("/invitations", s.listUserInvites)
		r.Get("/requests", s.listUserRequests)
		r.Get("/notifications", s.listNotifications)
		r.Put("/notifications", s.markNotificationsRead)
	})

	r.Route("/auth/drive", func(r chi.Router) {
		r.Get("/", s.driveConsent)
		r.Delete("/", s.driveDisconnect)
		r.Get("/callback", s.driveCallback)
		r.With(limit["exchange"]).Post("/exchange", s.driveExchange)
		r.Get("/status", s.driveStatus)
	})

	return r
}

// healthChecks probe the cache and, when wired, the user store.
func (s *Service) healthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{{
		Name: "cache",
		Probe: func(ctx context.Context) error {
			_, err := s.d.Cache.Exists(ctx, "healthz")
			return err
		},
	}}
	if s.d.Users != nil {
		checks = append(checks, api.HealthCheck{
			Name: "store",
			Probe: func(ctx context.Context) error {
				_, err := s.d.Users.Get(ctx, "healthz")
				if errors.Is(err, identity.ErrUserNotFound) {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

// Handler returns the service's HTTP handler. RawPath is cleared so chi
// routes on decoded segments.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.RawPath = ""
		s.router.ServeHTTP(w, r)
	})
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that bypass the bearer token gate.
func (s *Service) Unprotected() []string {
	return []string{"/healthz", "/auth/drive/callback"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
