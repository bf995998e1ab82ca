package config

import (
	"cmp"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr            *string
	PublicOrigin          *string
	ExternalBasePath      *string
	TLSMode               *string
	StoreDriver           *string
	DataDir               *string
	StorageDriver         *string
	CacheDriver           *string
	LoggingLevel          *string
	LoggingAllowSensitive *string // "true", "false", or "" (unset)
}

// Load builds the effective configuration:
//  1. mode comes from --mode, else the file's mode key, else strict
//  2. the mode preset is the starting point
//  3. the TOML file is decoded over the preset, so absent keys keep it
//  4. flags are applied
//  5. the result is validated, reporting every problem at once
//
// A ConfigPath that cannot be read or parsed fails the load. Keys that do
// not map onto Config are logged and ignored.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var raw string
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigPath, err)
		}
		raw = string(data)
	}

	var head struct {
		Mode string `toml:"mode"`
	}
	if _, err := toml.Decode(raw, &head); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", opts.ConfigPath, err)
	}
	mode, err := ParseMode(cmp.Or(opts.ModeFlag, head.Mode))
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)
	md, err := toml.Decode(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", opts.ConfigPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
	}
	cfg.Mode = string(mode)

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:             string(ModeStrict),
		PublicOrigin:     "https://localhost:9300",
		ExternalBasePath: "",
		ListenAddr:       ":9300",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      9380,
			HTTPSPort:     9300,
			SelfSignedDir: ".drivebags/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".drivebags/acme",
				UseStaging: false,
			},
		},
		OutboundHTTP: OutboundHTTPConfig{
			TimeoutMS:          30000,
			ConnectTimeoutMS:   2000,
			MaxRedirects:       1,
			InsecureSkipVerify: false,
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".drivebags/data",
		},
		Identity: IdentityConfig{
			LeewaySeconds: 60,
		},
		Storage: StorageConfig{
			Driver:    "drive",
			TimeoutMS: 15000,
		},
		Notifications: NotificationsConfig{
			Workers:   2,
			QueueSize: 256,
			MaxTries:  3,
		},
		Logging: LoggingConfig{
			Level:          "info",
			AllowSensitive: false,
		},
	}
}

// DevConfig returns development mode defaults: everything in memory, no TLS.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.PublicOrigin = "http://localhost:9300"
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.OutboundHTTP.MaxRedirects = 3
	cfg.OutboundHTTP.InsecureSkipVerify = true
	cfg.Store.Driver = "memory"
	cfg.Storage.Driver = "memory"
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFlags applies the flags that were set.
func overlayFlags(cfg *Config, f FlagOverrides) {
	for _, o := range []struct {
		dst *string
		v   *string
	}{
		{&cfg.ListenAddr, f.ListenAddr},
		{&cfg.PublicOrigin, f.PublicOrigin},
		{&cfg.ExternalBasePath, f.ExternalBasePath},
		{&cfg.TLS.Mode, f.TLSMode},
		{&cfg.Store.Driver, f.StoreDriver},
		{&cfg.Store.DataDir, f.DataDir},
		{&cfg.Storage.Driver, f.StorageDriver},
		{&cfg.Cache.Driver, f.CacheDriver},
		{&cfg.Logging.Level, f.LoggingLevel},
	} {
		if o.v != nil && *o.v != "" {
			*o.dst = *o.v
		}
	}
	if v := f.LoggingAllowSensitive; v != nil && *v != "" {
		cfg.Logging.AllowSensitive = *v == "true"
	}
}

func validate(cfg *Config) error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateTLS,
		validateDrivers,
		validateLogging,
		validatePublicOrigin,
		validateSecrets,
		validateRatelimitConfig,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func oneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", field, value, strings.Join(allowed, ", "))
}

func validateTLS(cfg *Config) error {
	if err := oneOf("tls.mode", cfg.TLS.Mode, "off", "static", "selfsigned", "acme"); err != nil {
		return err
	}
	switch {
	case cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == ""):
		return errors.New("tls.mode static requires tls.cert_file and tls.key_file")
	case cfg.TLS.Mode == "acme" && cfg.TLS.ACME.Domain == "":
		return errors.New("tls.mode acme requires tls.acme.domain")
	}
	return nil
}

func validateDrivers(cfg *Config) error {
	var errs []error
	if cfg.Cache.Driver != "" {
		errs = append(errs, oneOf("cache.driver", cfg.Cache.Driver, "memory", "redis"))
	}
	errs = append(errs,
		oneOf("store.driver", cfg.Store.Driver, "memory", "sqlite"),
		oneOf("storage.driver", cfg.Storage.Driver, "drive", "memory"),
	)
	if cfg.Store.Driver == "sqlite" && strings.TrimSpace(cfg.Store.DataDir) == "" {
		errs = append(errs, errors.New("store.data_dir is required for the sqlite driver"))
	}
	if cfg.Storage.TimeoutMS < 0 {
		errs = append(errs, errors.New("storage.timeout_ms must not be negative"))
	}
	n := cfg.Notifications
	if n.Workers < 0 || n.QueueSize < 0 || n.MaxTries < 0 {
		errs = append(errs, errors.New("notifications settings must not be negative"))
	}
	return errors.Join(errs...)
}

func validateLogging(cfg *Config) error {
	return oneOf("logging.level", cfg.Logging.Level, "trace", "debug", "info", "warn", "error")
}

// validateSecrets checks the shape of configured secrets. Absent secrets are
// reported when the App is assembled, so tooling can load a partial config.
func validateSecrets(cfg *Config) error {
	if cfg.Vault.MasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.Vault.MasterKey))
		if err != nil {
			return fmt.Errorf("invalid vault.master_key: not base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("invalid vault.master_key: want 32 bytes, got %d", len(key))
		}
	}

	id := cfg.Identity
	switch {
	case id.JWTSecret != "" && id.JWKSURL != "":
		return errors.New("identity: set either jwt_secret or jwks_url, not both")
	case id.JWTSecret != "" && len(id.JWTSecret) < 32:
		return errors.New("invalid identity.jwt_secret: must be at least 32 bytes")
	case id.LeewaySeconds < 0:
		return errors.New("identity.leeway_seconds must not be negative")
	case id.JWKSURL == "":
		return nil
	}
	u, err := url.Parse(id.JWKSURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid identity.jwks_url %q", id.JWKSURL)
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && cfg.Mode == string(ModeDev)) {
		return fmt.Errorf("invalid identity.jwks_url %q: https is required outside dev mode", id.JWKSURL)
	}
	return nil
}

// validateRatelimitConfig checks that every [http.services.<svc>.ratelimit]
// profile names a table under [http.interceptors.ratelimit.profiles].
func validateRatelimitConfig(cfg *Config) error {
	defined := map[string]bool{}
	if raw, ok := cfg.HTTP.Interceptors["ratelimit"]["profiles"]; ok {
		profiles, ok := raw.(map[string]any)
		if !ok {
			return errors.New("http.interceptors.ratelimit.profiles must be a table")
		}
		for name, p := range profiles {
			if _, ok := p.(map[string]any); !ok {
				return fmt.Errorf("http.interceptors.ratelimit.profiles.%s must be a table", name)
			}
			defined[name] = true
		}
	}

	for _, svc := range sortedKeys(cfg.HTTP.Services) {
		rl, _ := cfg.HTTP.Services[svc]["ratelimit"].(map[string]any)
		if profile, ok := rl["profile"].(string); ok && !defined[profile] {
			return fmt.Errorf("http.services.%s.ratelimit references undefined profile %q", svc, profile)
		}
	}
	return nil
}

// validatePublicOrigin requires an absolute http(s) URL with a host and
// nothing after it. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	origin := cfg.PublicOrigin
	if origin == "" {
		return nil
	}
	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}
	for _, rule := range []struct {
		bad bool
		msg string
	}{
		{!u.IsAbs(), "must be an absolute URL with http or https scheme"},
		{u.IsAbs() && u.Scheme != "http" && u.Scheme != "https", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)},
		{u.Host == "", "must include a host"},
		{u.User != nil, "must not include userinfo"},
		{u.RawQuery != "", "must not include a query string"},
		{u.Fragment != "", "must not include a fragment"},
		{u.Path != "" && u.Path != "/", "must not include a path (use external_base_path for base path)"},
	} {
		if rule.bad {
			return fmt.Errorf("invalid public_origin %q: %s", origin, rule.msg)
		}
	}
	return nil
}
