package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/drivebags/drivebags-go/internal/platform/http/realip"
)

// recorder collects records with the attributes attached through With.
type recorder struct {
	mu      *sync.Mutex
	records *[]map[string]any
	msgs    *[]string
	pre     []slog.Attr
}

func newRecorder() *recorder {
	return &recorder{mu: &sync.Mutex{}, records: &[]map[string]any{}, msgs: &[]string{}}
}

func (r *recorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *recorder) WithGroup(string) slog.Handler            { return r }

func (r *recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := append(append([]slog.Attr{}, r.pre...), attrs...)
	return &recorder{mu: r.mu, records: r.records, msgs: r.msgs, pre: pre}
}

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range r.pre {
		attrs[a.Key] = a.Value.Any()
	}
	attrs["@level"] = rec.Level
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, attrs)
	*r.msgs = append(*r.msgs, rec.Message)
	return nil
}

func (r *recorder) accessLine(t *testing.T) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range *r.msgs {
		if m == "request" {
			return (*r.records)[i]
		}
	}
	t.Fatal("expected 'request' access log entry")
	return nil
}

var requiredFields = []string{"request_id", "method", "path", "client_ip", "status", "bytes", "duration_ms"}

func serve(t *testing.T, withRequestLogger bool, method, target string, h http.HandlerFunc) (*recorder, *httptest.ResponseRecorder) {
	t.Helper()
	rec := newRecorder()
	logger := slog.New(rec)
	tp := realip.NewTrustedProxies([]string{"127.0.0.0/8"})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if withRequestLogger {
		r.Use(RequestLoggerMiddleware(logger, tp))
	}
	r.Use(AccessLogMiddleware(logger, tp))
	r.Use(chimw.Recoverer)
	r.MethodFunc(method, "/api/bags", h)

	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rec, rr
}

func TestAccessLog_RequiredFields(t *testing.T) {
	for _, withRequestLogger := range []bool{true, false} {
		rec, _ := serve(t, withRequestLogger, http.MethodGet, "/api/bags?token=secret", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hello"))
		})
		line := rec.accessLine(t)

		for _, field := range requiredFields {
			if _, ok := line[field]; !ok {
				t.Errorf("requestLogger=%v: missing access log field %q", withRequestLogger, field)
			}
		}
		if line["path"] != "/api/bags" {
			t.Errorf("path must exclude the query string, got %v", line["path"])
		}
		if status, ok := line["status"].(int64); !ok || status != 200 {
			t.Errorf("expected status 200, got %v", line["status"])
		}
		if b, ok := line["bytes"].(int64); !ok || b != 5 {
			t.Errorf("expected 5 bytes, got %v", line["bytes"])
		}
		if line["@level"] != slog.LevelInfo {
			t.Errorf("expected info level, got %v", line["@level"])
		}
	}
}

func TestAccessLog_PanicIsLoggedAs500(t *testing.T) {
	rec, rr := serve(t, true, http.MethodPost, "/api/bags", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected HTTP 500, got %d", rr.Code)
	}
	line := rec.accessLine(t)
	if status, ok := line["status"].(int64); !ok || status != 500 {
		t.Errorf("expected logged status 500, got %v", status)
	}
	if line["@level"] != slog.LevelError {
		t.Errorf("expected error level for a 500, got %v", line["@level"])
	}
}
