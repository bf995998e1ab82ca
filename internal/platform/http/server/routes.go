package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/frameworks/service"
	"github.com/drivebags/drivebags-go/internal/platform/http/auth"
	httpmw "github.com/drivebags/drivebags-go/internal/platform/http/middleware"
)

// IsAuthRequired reports whether path needs a bearer token. Every path does
// unless a mounted service lists it, or a parent of it, in Unprotected.
func IsAuthRequired(path, basePath string, mounted []service.Service) bool {
	for _, svc := range mounted {
		if svc == nil {
			continue
		}
		root := basePath
		if p := svc.Prefix(); p != "" {
			root += "/" + p
		}
		for _, open := range svc.Unprotected() {
			if underPath(path, root+open) {
				return false
			}
		}
	}
	return true
}

// underPath reports whether path is prefix or lies below it on a segment
// boundary, so "/api/healthz" covers "/api/healthz/x" but not "/api/healthzz".
func underPath(path, prefix string) bool {
	rest, ok := strings.CutPrefix(path, prefix)
	return ok && (rest == "" || rest[0] == '/')
}

// setupRoutes builds the root router. Middleware order is fixed: request ID,
// request logger, access log, recoverer, auth gate.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		httpmw.RequestLoggerMiddleware(s.logger, s.deps.RealIP),
		httpmw.AccessLogMiddleware(s.logger, s.deps.RealIP),
		chimw.Recoverer,
		auth.NewAuthGate(auth.AuthGateConfig{
			// mountedServices is complete before the first request arrives.
			RequireAuth: func(path string) bool {
				return IsAuthRequired(path, s.cfg.ExternalBasePath, s.mountedServices)
			},
			Log:      s.logger,
			Resolver: s.deps.Resolver,
			Users:    s.deps.Users,
		}),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, http.StatusNotFound, api.ReasonNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, api.ReasonBadRequest, "Method not allowed")
	})

	mountAll := func(r chi.Router) {
		for _, name := range s.serviceNames() {
			svc := s.services[name]
			r.Mount("/"+svc.Prefix(), svc.Handler())
			s.mountedServices = append(s.mountedServices, svc)
		}
	}
	if base := s.cfg.ExternalBasePath; base != "" {
		r.Route(base, mountAll)
	} else {
		mountAll(r)
	}
	return r
}
