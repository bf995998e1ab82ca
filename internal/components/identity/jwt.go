package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/membership"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// JWTConfig configures bearer token verification. Exactly one of Secret
// and JWKSURL is set.
type JWTConfig struct {
	// Secret is the shared HMAC key (HS256). At least 32 bytes.
	Secret []byte

	// JWKSURL serves the identity provider's public keys (RS256, ES256).
	JWKSURL string

	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTResolver verifies bearer JWTs issued by the identity provider.
type JWTResolver struct {
	cfg    JWTConfig
	keyer  membership.Keyer
	cache  cache.Cache
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// JWTOption customises a JWTResolver.
type JWTOption func(*JWTResolver)

// WithClock overrides the verification time.
func WithClock(now func() time.Time) JWTOption {
	return func(r *JWTResolver) { r.now = now }
}

// WithKeyer replaces the email normalisation applied to the email claim.
func WithKeyer(k membership.Keyer) JWTOption {
	return func(r *JWTResolver) { r.keyer = k }
}

// NewJWTResolver validates cfg and returns a resolver. c caches the JWKS
// document; client fetches it. Both may be nil when Secret is used.
func NewJWTResolver(cfg JWTConfig, c cache.Cache, client *http.Client, log *slog.Logger, opts ...JWTOption) (*JWTResolver, error) {
	switch {
	case len(cfg.Secret) > 0 && cfg.JWKSURL != "":
		return nil, errors.New("identity: set either a JWT secret or a JWKS URL, not both")
	case len(cfg.Secret) == 0 && cfg.JWKSURL == "":
		return nil, errors.New("identity: a JWT secret or a JWKS URL is required")
	case len(cfg.Secret) > 0 && len(cfg.Secret) < 32:
		return nil, errors.New("identity: JWT secret must be at least 32 bytes")
	case cfg.JWKSURL != "" && (c == nil || client == nil):
		return nil, errors.New("identity: JWKS verification needs a cache and an HTTP client")
	}

	r := &JWTResolver{
		cfg:    cfg,
		keyer:  membership.Default,
		cache:  c,
		client: client,
		log:    logutil.NoopIfNil(log),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type emailClaim struct {
	Email string `json:"email"`
}

// Resolve implements Resolver.
func (r *JWTResolver) Resolve(ctx context.Context, raw string) (Principal, error) {
	tok, err := jwt.ParseSigned(raw, r.algorithms())
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.ErrUnauthenticated, "invalid credential", err)
	}

	key, err := r.verificationKey(ctx, tok)
	if err != nil {
		return Principal{}, err
	}

	var std jwt.Claims
	var extra emailClaim
	if err := tok.Claims(key, &std, &extra); err != nil {
		return Principal{}, apperr.Wrap(apperr.ErrUnauthenticated, "invalid credential", err)
	}

	expected := jwt.Expected{Issuer: r.cfg.Issuer, Time: r.now()}
	if r.cfg.Audience != "" {
		expected.AnyAudience = jwt.Audience{r.cfg.Audience}
	}
	if err := std.ValidateWithLeeway(expected, r.cfg.Leeway); err != nil {
		return Principal{}, apperr.Wrap(apperr.ErrUnauthenticated, "invalid credential", err)
	}

	if std.Subject == "" {
		return Principal{}, ErrInvalidCredential
	}
	email, err := r.keyer.Key(extra.Email)
	if err != nil {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{UID: std.Subject, Email: email}, nil
}

func (r *JWTResolver) algorithms() []jose.SignatureAlgorithm {
	if len(r.cfg.Secret) > 0 {
		return []jose.SignatureAlgorithm{jose.HS256}
	}
	return []jose.SignatureAlgorithm{jose.RS256, jose.ES256}
}

func (r *JWTResolver) verificationKey(ctx context.Context, tok *jwt.JSONWebToken) (any, error) {
	if len(r.cfg.Secret) > 0 {
		return r.cfg.Secret, nil
	}

	var kid string
	if len(tok.Headers) > 0 {
		kid = tok.Headers[0].KeyID
	}

	set, err := r.keySet(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := pickKey(set, kid); ok {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys since we cached them.
	set, err = r.keySet(ctx, true)
	if err != nil {
		return nil, err
	}
	if key, ok := pickKey(set, kid); ok {
		return key, nil
	}
	return nil, ErrInvalidCredential
}

func pickKey(set *jose.JSONWebKeySet, kid string) (any, bool) {
	if kid != "" {
		keys := set.Key(kid)
		if len(keys) == 0 {
			return nil, false
		}
		return keys[0].Key, true
	}
	if len(set.Keys) == 1 {
		return set.Keys[0].Key, true
	}
	return nil, false
}

func (r *JWTResolver) keySet(ctx context.Context, refresh bool) (*jose.JSONWebKeySet, error) {
	cacheKey := "jwks:" + r.cfg.JWKSURL

	if !refresh {
		if doc, err := r.cache.Get(ctx, cacheKey); err == nil {
			var set jose.JSONWebKeySet
			if err := json.Unmarshal(doc, &set); err == nil {
				return &set, nil
			}
		}
	}

	doc, err := r.fetchJWKS(ctx)
	if err != nil {
		r.log.Warn("jwks fetch failed", "url", r.cfg.JWKSURL, "error", err)
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, "identity provider keys unavailable", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(doc, &set); err != nil {
		return nil, apperr.Wrap(apperr.ErrUnauthenticated, "identity provider keys malformed", err)
	}
	if err := r.cache.Set(ctx, cacheKey, doc, cache.TTLJWKs); err != nil {
		r.log.Debug("jwks cache write failed", "error", err)
	}
	return &set, nil
}

func (r *JWTResolver) fetchJWKS(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.JWKSURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

var _ Resolver = (*JWTResolver)(nil)
