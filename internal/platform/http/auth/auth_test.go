package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	httpmw "github.com/drivebags/drivebags-go/internal/platform/http/middleware"
	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
)

// recordingHandler captures logger attributes for testing without JSON parsing.
type recordingHandler struct {
	attrs map[string]any
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{attrs: make(map[string]any)}
}

func (h *recordingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h *recordingHandler) WithGroup(_ string) slog.Handler             { return h }

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := newRecordingHandler()
	for k, v := range h.attrs {
		nh.attrs[k] = v
	}
	for _, a := range attrs {
		nh.attrs[a.Key] = a.Value.Any()
	}
	return nh
}

// staticResolver accepts exactly one token.
type staticResolver struct {
	token string
	p     identity.Principal
	err   error
}

func (s staticResolver) Resolve(_ context.Context, raw string) (identity.Principal, error) {
	if s.err != nil {
		return identity.Principal{}, s.err
	}
	if raw != s.token {
		return identity.Principal{}, identity.ErrInvalidCredential
	}
	return s.p, nil
}

func newRouter(t *testing.T, logger *slog.Logger, res identity.Resolver, users identity.UserRepo, h http.HandlerFunc) http.Handler {
	t.Helper()
	tp := realip.NewTrustedProxies([]string{"127.0.0.0/8"})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(logger, tp))
	r.Use(NewAuthGate(AuthGateConfig{
		RequireAuth: func(path string) bool { return path != "/api/healthz" },
		Log:         logger,
		Resolver:    res,
		Users:       users,
	}))
	r.Get("/api/healthz", h)
	r.Get("/api/bags", h)
	return r
}

func TestAuthGate_AuthenticatesAndRecordsUser(t *testing.T) {
	recorder := newRecordingHandler()
	users := identity.NewMemoryUserRepo()
	res := staticResolver{token: "good", p: identity.Principal{UID: "uid-1", Email: "alice@example.com"}}

	var gotPrincipal identity.Principal
	var gotUserID any
	h := func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal, _ = identity.PrincipalFromContext(r.Context())
		if rh, ok := appctx.GetLogger(r.Context()).Handler().(*recordingHandler); ok {
			gotUserID = rh.attrs["user_id"]
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/api/bags", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.RemoteAddr = "127.0.0.1:12345"
	rr := httptest.NewRecorder()
	newRouter(t, slog.New(recorder), res, users, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotPrincipal.UID != "uid-1" || gotPrincipal.Email != "alice@example.com" {
		t.Errorf("principal = %+v", gotPrincipal)
	}
	if gotUserID != "uid-1" {
		t.Errorf("expected user_id uid-1 in handler logger, got %v", gotUserID)
	}
	if _, err := users.Get(context.Background(), "uid-1"); err != nil {
		t.Errorf("expected user to be recorded: %v", err)
	}
}

func TestAuthGate_Rejections(t *testing.T) {
	res := staticResolver{token: "good", p: identity.Principal{UID: "uid-1", Email: "a@example.com"}}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic good"},
		{"empty token", "Bearer "},
		{"bad token", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := func(w http.ResponseWriter, r *http.Request) { called = true }

			req := httptest.NewRequest("GET", "/api/bags", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			newRouter(t, slog.New(newRecordingHandler()), res, identity.NewMemoryUserRepo(), h).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
			if called {
				t.Error("handler must not run")
			}
		})
	}
}

func TestAuthGate_SchemeIsCaseInsensitive(t *testing.T) {
	res := staticResolver{token: "good", p: identity.Principal{UID: "uid-1", Email: "a@example.com"}}
	req := httptest.NewRequest("GET", "/api/bags", nil)
	req.Header.Set("Authorization", "bearer good")
	rr := httptest.NewRecorder()
	newRouter(t, slog.New(newRecordingHandler()), res, identity.NewMemoryUserRepo(),
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
}

func TestAuthGate_ResolverFailureIs401(t *testing.T) {
	res := staticResolver{err: errors.New("jwks fetch: connection refused")}
	req := httptest.NewRequest("GET", "/api/bags", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	newRouter(t, slog.New(newRecordingHandler()), res, identity.NewMemoryUserRepo(),
		func(w http.ResponseWriter, r *http.Request) {}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthGate_PublicPathSkipsNilDeps(t *testing.T) {
	var hasUserID bool
	h := func(w http.ResponseWriter, r *http.Request) {
		if rh, ok := appctx.GetLogger(r.Context()).Handler().(*recordingHandler); ok {
			_, hasUserID = rh.attrs["user_id"]
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/api/healthz", nil)
	rr := httptest.NewRecorder()
	newRouter(t, slog.New(newRecordingHandler()), nil, nil, h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for public endpoint with nil deps, got %d", rr.Code)
	}
	if hasUserID {
		t.Error("expected no user_id in logger for public endpoint")
	}
}
