// Package ratelimit provides a fixed-window rate limiting interceptor on top
// of the cache subsystem.
package ratelimit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	svccfg "github.com/drivebags/drivebags-go/internal/frameworks/service/cfg"
	"github.com/drivebags/drivebags-go/internal/interceptors"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
	"github.com/drivebags/drivebags-go/internal/platform/deps"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

func init() {
	interceptors.Register("ratelimit", New)
}

// Key strategies.
const (
	KeyByUser = "user"
	KeyByIP   = "ip"
)

// Config defines rate limiting parameters decoded from a profile table.
type Config struct {
	RequestsPerWindow int64 `mapstructure:"requests_per_window"`
	WindowSeconds     int   `mapstructure:"window_seconds"`

	// KeyBy selects the counter subject. "user" keys by authenticated
	// principal and falls back to client IP for anonymous calls.
	KeyBy string `mapstructure:"key_by"`

	// Profile namespaces the counters so profiles never share a window.
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *Config) ApplyDefaults() {
	if c.RequestsPerWindow == 0 {
		c.RequestsPerWindow = 100
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 60
	}
	if c.KeyBy == "" {
		c.KeyBy = KeyByUser
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
}

// Limiter counts requests per subject in fixed windows.
type Limiter struct {
	cache   cache.Counter
	keyFunc func(*http.Request) string
	prefix  string
	limit   int64
	window  time.Duration
	log     *slog.Logger
}

// New creates a ratelimit interceptor from a profile config.
func New(conf map[string]any, d *deps.Deps, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()

	if d == nil || d.Cache == nil {
		return nil, errors.New("ratelimit: cache dependency is required")
	}
	if c.KeyBy != KeyByUser && c.KeyBy != KeyByIP {
		return nil, errors.New("ratelimit: key_by must be user or ip")
	}

	limiter := &Limiter{
		cache:   d.Cache,
		keyFunc: keyFunc(c.KeyBy, d),
		prefix:  "ratelimit:" + c.Profile + ":",
		limit:   c.RequestsPerWindow,
		window:  time.Duration(c.WindowSeconds) * time.Second,
		log:     logutil.NoopIfNil(log),
	}
	return limiter.Wrap, nil
}

func keyFunc(keyBy string, d *deps.Deps) func(*http.Request) string {
	ip := d.RealIP.GetClientIPString
	if keyBy == KeyByIP {
		return func(r *http.Request) string { return "ip:" + ip(r) }
	}
	return func(r *http.Request) string {
		if p, ok := identity.PrincipalFromContext(r.Context()); ok {
			return "user:" + p.UID
		}
		return "ip:" + ip(r)
	}
}

// Wrap is the middleware function that applies rate limiting.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, resetAt, err := l.cache.Increment(r.Context(), l.prefix+l.keyFunc(r), 1, l.window)
		if err != nil {
			// Fail open: a cache outage must not take the API down.
			l.log.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if count > l.limit {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			api.WriteTooManyRequests(w, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
