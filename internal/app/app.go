// Package app assembles a running DriveBags instance from a loaded config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/files"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	"github.com/drivebags/drivebags-go/internal/components/vault"
	"github.com/drivebags/drivebags-go/internal/frameworks/service"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
	"github.com/drivebags/drivebags-go/internal/platform/config"
	"github.com/drivebags/drivebags-go/internal/platform/deps"
	httpclient "github.com/drivebags/drivebags-go/internal/platform/http/client"
	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
	"github.com/drivebags/drivebags-go/internal/platform/http/server"
	tlspkg "github.com/drivebags/drivebags-go/internal/platform/http/tls"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
	"github.com/drivebags/drivebags-go/internal/platform/store"

	// Drivers and services register themselves.
	_ "github.com/drivebags/drivebags-go/internal/components/storage/drive"
	_ "github.com/drivebags/drivebags-go/internal/components/storage/memory"
	_ "github.com/drivebags/drivebags-go/internal/platform/cache/loader"
	_ "github.com/drivebags/drivebags-go/internal/platform/store/memory"
	_ "github.com/drivebags/drivebags-go/internal/platform/store/sqlite"
	_ "github.com/drivebags/drivebags-go/internal/services/loader"
)

// CallbackPath is where the provider returns the browser after consent,
// relative to the external base path.
const CallbackPath = "/api/auth/drive/callback"

// App owns every long-lived resource of a running instance.
type App struct {
	Config *config.Config
	Deps   *deps.Deps
	Server *server.Server

	store      store.Driver
	cache      cache.CacheWithCounter
	dispatcher *notifications.Dispatcher
	log        *slog.Logger
}

type options struct {
	provider storage.Provider
	resolver identity.Resolver
}

// Option customises New.
type Option func(*options)

// WithStorageProvider replaces the configured storage driver.
func WithStorageProvider(p storage.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithResolver replaces the JWT resolver built from [identity].
func WithResolver(r identity.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// New builds the instance. On error every resource opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (a *App, err error) {
	log = logutil.NoopIfNil(log)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	rootCAs, err := tlspkg.BuildRootCAPool(cfg.OutboundHTTP.TLSRootCAFile, cfg.OutboundHTTP.TLSRootCADir)
	if err != nil {
		return nil, fmt.Errorf("root CA pool: %w", err)
	}
	httpClient := httpclient.New(&cfg.OutboundHTTP, rootCAs)

	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	if a.cache, err = cache.NewFromConfig(cacheDriver, cfg.Cache.Drivers); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	repos := a.store.Repos()

	resolver := o.resolver
	if resolver == nil {
		if resolver, err = newResolver(cfg, a.cache, httpClient, log); err != nil {
			return nil, err
		}
	}

	provider := o.provider
	if provider == nil {
		if provider, err = newProvider(cfg, httpClient, log); err != nil {
			return nil, err
		}
	}
	timeout := time.Duration(cfg.Storage.TimeoutMS) * time.Millisecond
	if timeout > 0 {
		provider = storage.Bounded(provider, timeout)
	}

	v, err := newVault(cfg, repos.Users, provider, log)
	if err != nil {
		return nil, err
	}

	a.dispatcher = notifications.NewDispatcher(repos.Notifications, notifications.DispatcherConfig{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
		MaxTries:  uint(cfg.Notifications.MaxTries),
	}, log)

	mgr := bags.NewManager(repos.Bags, v, a.dispatcher, log,
		bags.WithUsers(repos.Users),
		bags.WithCleaner("invitations", repos.Invitations),
		bags.WithCleaner("requests", repos.Requests),
		bags.WithCleaner("chat", repos.Chat),
		bags.WithMemberCleaner(repos.Invitations))

	a.Deps = &deps.Deps{
		Config:        cfg,
		Cache:         a.cache,
		RealIP:        realip.NewTrustedProxies(cfg.Server.TrustedProxies),
		HTTPClient:    httpClient,
		Users:         repos.Users,
		Resolver:      resolver,
		Bags:          mgr,
		Invitations:   invitations.NewService(repos.Invitations, mgr, repos.Users, a.dispatcher, mgr.Keyer(), log),
		Requests:      requests.NewService(repos.Requests, mgr, a.dispatcher, mgr.Keyer(), log),
		Chat:          chat.NewService(repos.Chat, mgr, log),
		Files:         files.NewService(mgr, log),
		Vault:         v,
		Notifications: notifications.NewService(repos.Notifications),
	}

	services, err := buildServices(cfg, a.Deps, log)
	if err != nil {
		return nil, err
	}

	if a.Server, err = server.New(cfg, a.Deps, log, services); err != nil {
		return nil, err
	}

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Driver, error) {
	if cfg.Store.DataDir != "" && cfg.Store.Driver != "memory" {
		if err := os.MkdirAll(cfg.Store.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("store data dir: %w", err)
		}
	}
	drv, err := store.New(&store.DriverConfig{Driver: cfg.Store.Driver, DataDir: cfg.Store.DataDir})
	if err != nil {
		return nil, err
	}
	if err := drv.Init(ctx); err != nil {
		return nil, fmt.Errorf("store %s: %w", drv.Name(), err)
	}
	return drv, nil
}

func newResolver(cfg *config.Config, c cache.Cache, client *http.Client, log *slog.Logger) (identity.Resolver, error) {
	r, err := identity.NewJWTResolver(identity.JWTConfig{
		Secret:   []byte(cfg.Identity.JWTSecret),
		JWKSURL:  cfg.Identity.JWKSURL,
		Issuer:   cfg.Identity.Issuer,
		Audience: cfg.Identity.Audience,
		Leeway:   time.Duration(cfg.Identity.LeewaySeconds) * time.Second,
	}, c, client, log)
	if err != nil {
		return nil, fmt.Errorf("[identity]: %w", err)
	}
	return r, nil
}

// newProvider builds the configured storage driver. The Drive redirect URL
// defaults to the public callback route.
func newProvider(cfg *config.Config, client *http.Client, log *slog.Logger) (storage.Provider, error) {
	conf := maps.Clone(cfg.Storage.Drive)
	if cfg.Storage.Driver == "drive" {
		if conf == nil {
			conf = make(map[string]any)
		}
		if _, set := conf["redirect_url"]; !set {
			conf["redirect_url"] = strings.TrimSuffix(cfg.PublicOrigin, "/") + cfg.ExternalBasePath + CallbackPath
		}
	}
	p, err := storage.New(cfg.Storage.Driver, conf, client, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return p, nil
}

func newVault(cfg *config.Config, users identity.UserRepo, p storage.Provider, log *slog.Logger) (*vault.Vault, error) {
	if cfg.Vault.MasterKey == "" {
		return nil, errors.New("vault.master_key is required (generate one with: drivebags vault keygen)")
	}
	key, err := vault.ParseMasterKey(cfg.Vault.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("vault.master_key: %w", err)
	}
	box, err := vault.NewBox(key)
	if err != nil {
		return nil, err
	}
	return vault.New(box, users, p, log), nil
}

// buildServices constructs the core services plus any configured under
// [http.services].
func buildServices(cfg *config.Config, d *deps.Deps, log *slog.Logger) (map[string]service.Service, error) {
	names := slices.Clone(service.CoreServices)
	for name := range cfg.HTTP.Services {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	out := make(map[string]service.Service, len(names))
	for _, name := range names {
		ctor := service.Get(name)
		if ctor == nil {
			return nil, fmt.Errorf("service %q is not registered (registered: %v)", name, service.RegisteredServices())
		}
		svc, err := ctor(cfg.BuildServiceConfig(name), d, log.With("service", name))
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		out[name] = svc
	}
	return out, nil
}

// Start serves until the server stops.
func (a *App) Start() error {
	return a.Server.Start()
}

// Shutdown stops accepting requests, closes services, drains queued
// notifications and releases the store and cache.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		errs = append(errs, a.Server.Shutdown(ctx))
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}
