// Package server wires the router, TLS mode and service lifecycle.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drivebags/drivebags-go/internal/frameworks/service"
	"github.com/drivebags/drivebags-go/internal/platform/config"
	"github.com/drivebags/drivebags-go/internal/platform/deps"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"

	tlspkg "github.com/drivebags/drivebags-go/internal/platform/http/tls"
)

var ErrMissingDeps = errors.New("server: deps are required")

// acmeRenewCheckInterval is how often the ACME certificate expiry is checked.
const acmeRenewCheckInterval = 12 * time.Hour

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	deps       *deps.Deps
	httpServer *http.Server
	router     http.Handler
	logger     *slog.Logger
	services   map[string]service.Service

	// acme state, set once Start runs in acme mode.
	mu              sync.Mutex
	challengeServer *http.Server
	stopRenewal     context.CancelFunc

	// mountedServices is in mount order; Shutdown closes them in reverse.
	mountedServices []service.Service
}

// New creates a Server. Services are keyed by registry name and mounted in
// name order; nil entries are skipped.
func New(cfg *config.Config, d *deps.Deps, logger *slog.Logger, services map[string]service.Service) (*Server, error) {
	if d == nil {
		return nil, ErrMissingDeps
	}

	s := &Server{
		cfg:      cfg,
		deps:     d,
		logger:   logutil.NoopIfNil(logger),
		services: services,
	}

	s.router = s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler { return s.router }

// serviceNames returns the mounted service names in mount order.
func (s *Server) serviceNames() []string {
	names := make([]string, 0, len(s.services))
	for name, svc := range s.services {
		if svc != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// tlsHostname derives the certificate hostname from the public origin.
func tlsHostname(publicOrigin string) (string, error) {
	u, err := url.Parse(publicOrigin)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("public_origin %q has no host", publicOrigin)
	}
	return host, nil
}

// Start serves until Shutdown and then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"public_origin", s.cfg.PublicOrigin,
		"external_base_path", s.cfg.ExternalBasePath,
		"tls_mode", s.cfg.TLS.Mode,
	)

	switch mode := s.cfg.TLS.Mode; mode {
	case "off":
		return s.httpServer.ListenAndServe()
	case "acme":
		return s.startACME()
	case "static", "selfsigned":
		hostname, err := tlsHostname(s.cfg.PublicOrigin)
		if err != nil {
			return fmt.Errorf("tls hostname: %w", err)
		}
		tc, err := tlspkg.NewTLSManager(&s.cfg.TLS, s.logger).GetTLSConfig(hostname)
		if err != nil {
			return fmt.Errorf("tls %s: %w", mode, err)
		}
		if tc == nil {
			return fmt.Errorf("tls %s: no certificate configured", mode)
		}
		s.httpServer.TLSConfig = tc
		return s.httpServer.ListenAndServeTLS("", "")
	default:
		return fmt.Errorf("%w: %s", tlspkg.ErrInvalidTLSMode, mode)
	}
}

// acmeAddrs returns the plain HTTP (challenge and redirect) and HTTPS bind
// addresses. The host comes from listen_addr; its port is ignored.
func acmeAddrs(cfg *config.Config) (plain, secure string, err error) {
	if cfg.TLS.HTTPPort == 0 {
		return "", "", errors.New("tls.http_port must be set for ACME mode")
	}
	if cfg.TLS.HTTPSPort == 0 {
		return "", "", errors.New("tls.https_port must be set for ACME mode")
	}
	if u, perr := url.Parse(cfg.PublicOrigin); perr == nil && u.Port() != "" {
		if p, _ := strconv.Atoi(u.Port()); p != cfg.TLS.HTTPSPort {
			return "", "", fmt.Errorf("public_origin port %s does not match tls.https_port %d", u.Port(), cfg.TLS.HTTPSPort)
		}
	}
	host, _, serr := net.SplitHostPort(cfg.ListenAddr)
	if serr != nil {
		host = cfg.ListenAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.TLS.HTTPPort)),
		net.JoinHostPort(host, strconv.Itoa(cfg.TLS.HTTPSPort)), nil
}

// startACME serves HTTP-01 challenges and HTTPS redirects on the plain port
// and the application on the TLS port. When either listener stops the other
// is shut down too.
func (s *Server) startACME() error {
	plainAddr, secureAddr, err := acmeAddrs(s.cfg)
	if err != nil {
		return err
	}
	mgr := tlspkg.NewACMEManager(&s.cfg.TLS.ACME, s.deps.HTTPClient, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/.well-known/acme-challenge/", mgr.ChallengeHandler())
	mux.Handle("/", newHTTPSRedirectHandler(s.cfg.TLS.HTTPSPort))
	challenge := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	plainLn, err := net.Listen("tcp", plainAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", plainAddr, err)
	}
	s.mu.Lock()
	s.challengeServer = challenge
	s.mu.Unlock()

	var (
		g        errgroup.Group
		stopOnce sync.Once
	)
	stopBoth := func() {
		stopOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = challenge.Shutdown(ctx)
			_ = s.httpServer.Shutdown(ctx)
		})
	}
	serve := func(name string, run func() error) {
		g.Go(func() error {
			err := run()
			stopBoth()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s listener: %w", name, err)
		})
	}
	fail := func(err error) error {
		stopBoth()
		_ = g.Wait()
		return err
	}

	serve("challenge", func() error { return challenge.Serve(plainLn) })

	// Init needs the challenge listener up when it has to contact the CA.
	if err := mgr.Init(context.Background()); err != nil {
		return fail(fmt.Errorf("acme init: %w", err))
	}
	secureLn, err := net.Listen("tcp", secureAddr)
	if err != nil {
		return fail(fmt.Errorf("bind %s: %w", secureAddr, err))
	}
	s.httpServer.Addr = secureAddr
	s.httpServer.TLSConfig = mgr.GetTLSConfig()

	renewCtx, stopRenewal := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopRenewal = stopRenewal
	s.mu.Unlock()
	go mgr.RenewLoop(renewCtx, acmeRenewCheckInterval)

	serve("https", func() error { return s.httpServer.ServeTLS(secureLn, "", "") })
	s.logger.Info("acme listeners up", "http_addr", plainAddr, "https_addr", secureAddr, "domain", s.cfg.TLS.ACME.Domain)

	if err := g.Wait(); err != nil {
		return err
	}
	return http.ErrServerClosed
}

// newHTTPSRedirectHandler answers every request with a 308 to the same
// URI on the HTTPS port.
func newHTTPSRedirectHandler(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.Trim(host, "[]")
		authority := net.JoinHostPort(host, strconv.Itoa(httpsPort))
		if httpsPort == 443 {
			authority = host
			if strings.Contains(host, ":") {
				authority = "[" + host + "]"
			}
		}
		http.Redirect(w, r, "https://"+authority+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// Shutdown stops the listeners, then closes services in reverse mount order.
// Service close errors are logged and do not stop the sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.mu.Lock()
	challenge, stopRenewal := s.challengeServer, s.stopRenewal
	s.mu.Unlock()
	if stopRenewal != nil {
		stopRenewal()
	}

	var errs []error
	if challenge != nil {
		errs = append(errs, challenge.Shutdown(ctx))
	}
	errs = append(errs, s.httpServer.Shutdown(ctx))

	for _, svc := range slices.Backward(s.mountedServices) {
		name := cmp.Or(svc.Prefix(), "(root)")
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close error", "service", name, "error", err)
			continue
		}
		s.logger.Debug("service closed", "service", name)
	}
	return errors.Join(errs...)
}
