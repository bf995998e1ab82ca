// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the effective server configuration. TOML keys mirror the
// struct tags; see Load for how presets, file and flags combine.
type Config struct {
	Mode string `toml:"mode"` // strict or dev

	// PublicOrigin is scheme://host[:port] as seen by browsers, for example
	// "https://bags.example.org". It must not carry a path.
	PublicOrigin string `toml:"public_origin"`

	// ExternalBasePath prefixes every route, for example "/drivebags".
	ExternalBasePath string `toml:"external_base_path"`
	ListenAddr       string `toml:"listen_addr"`

	Server        ServerConfig        `toml:"server"`
	TLS           TLSConfig           `toml:"tls"`
	OutboundHTTP  OutboundHTTPConfig  `toml:"outbound_http"`
	Cache         CacheConfig         `toml:"cache"`
	Store         StoreConfig         `toml:"store"`
	Identity      IdentityConfig      `toml:"identity"`
	Vault         VaultConfig         `toml:"vault"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
	HTTP          HTTPConfig          `toml:"http"`
}

// HTTPConfig carries raw per-service and per-interceptor tables. Each
// constructor decodes its own table with the svccfg helpers.
//
//	[http.services.api]                       service options
//	[http.services.api.ratelimit]             profile = "<name>"
//	[http.interceptors.ratelimit.profiles.x]  profile definition
type HTTPConfig struct {
	Services     map[string]map[string]any `toml:"services"`
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `toml:"level"`

	// AllowSensitive lets tokens and full email addresses reach the log.
	AllowSensitive bool `toml:"allow_sensitive"`
}

type CacheConfig struct {
	Driver string `toml:"driver"` // memory or redis

	// Drivers holds [cache.drivers.<name>] tables.
	Drivers map[string]any `toml:"drivers"`
}

type StoreConfig struct {
	Driver  string `toml:"driver"` // memory or sqlite
	DataDir string `toml:"data_dir"`
}

// IdentityConfig configures bearer JWT verification with either a shared
// HS256 secret or a JWKS endpoint.
type IdentityConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	JWKSURL       string `toml:"jwks_url"`
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	LeewaySeconds int    `toml:"leeway_seconds"`
}

type VaultConfig struct {
	// MasterKey is 32 bytes, base64 encoded. See "drivebags vault keygen".
	MasterKey string `toml:"master_key"`
}

type StorageConfig struct {
	Driver    string `toml:"driver"` // drive, or memory for dev and tests
	TimeoutMS int    `toml:"timeout_ms"`

	// Drive is the raw [storage.drive] table, decoded strictly by the driver.
	Drive map[string]any `toml:"drive"`
}

type NotificationsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
	MaxTries  int `toml:"max_tries"`
}

type ServerConfig struct {
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `toml:"trusted_proxies"`

	// AppURL is the frontend the Drive consent callback returns to.
	// Empty means PublicOrigin plus ExternalBasePath.
	AppURL string `toml:"app_url"`
}

type TLSConfig struct {
	Mode string `toml:"mode"` // off, static, selfsigned or acme

	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort serves ACME challenges and redirects; HTTPSPort the app.
	HTTPPort  int `toml:"http_port"`
	HTTPSPort int `toml:"https_port"`

	SelfSignedDir string     `toml:"self_signed_dir"`
	ACME          ACMEConfig `toml:"acme"`
}

type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

// OutboundHTTPConfig shapes the client used for JWKS fetches, Google APIs
// and the ACME directory.
type OutboundHTTPConfig struct {
	TimeoutMS          int  `toml:"timeout_ms"`
	ConnectTimeoutMS   int  `toml:"connect_timeout_ms"`
	MaxRedirects       int  `toml:"max_redirects"`
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// Extra trust anchors, added to the system pool.
	TLSRootCAFile string `toml:"tls_root_ca_file"`
	TLSRootCADir  string `toml:"tls_root_ca_dir"`
}

// BuildServiceConfig returns a shallow copy of [http.services.<name>], or
// nil when the service has no table.
func (c *Config) BuildServiceConfig(name string) map[string]any {
	svc, ok := c.HTTP.Services[name]
	if !ok {
		return nil
	}
	return maps.Clone(svc)
}

// AppURL returns where the Drive callback redirects the browser.
func (c *Config) AppURL() string {
	if c.Server.AppURL != "" {
		return c.Server.AppURL
	}
	return strings.TrimSuffix(c.PublicOrigin, "/") + c.ExternalBasePath
}

// PublicScheme returns the scheme of PublicOrigin, defaulting to https.
func (c *Config) PublicScheme() string {
	u, err := url.Parse(c.PublicOrigin)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Redacted renders the effective configuration as TOML with secrets
// replaced, for the startup log.
func (c *Config) Redacted() string {
	cp := *c
	cp.Server.AppURL = c.AppURL()
	cp.Identity.JWTSecret = redact(c.Identity.JWTSecret)
	cp.Vault.MasterKey = redact(c.Vault.MasterKey)
	cp.Storage.Drive = redactMap(c.Storage.Drive)
	cp.Cache.Drivers = redactMap(c.Cache.Drivers)

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cp); err != nil {
		return fmt.Sprintf("# config not renderable: %v", err)
	}
	return sb.String()
}

// redactMap copies a raw driver section, hiding values whose key looks
// secret. Nested tables are walked.
func redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = redactMap(nested)
			continue
		}
		if secretKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func secretKey(k string) bool {
	k = strings.ToLower(k)
	if strings.Contains(k, "secret") || strings.Contains(k, "password") {
		return true
	}
	return strings.Contains(k, "token") && !strings.HasSuffix(k, "_url")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
