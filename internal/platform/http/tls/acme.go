package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/drivebags/drivebags-go/internal/platform/config"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

const (
	letsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	letsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"

	// RenewBefore is how long before expiry a certificate is replaced.
	RenewBefore = 30 * 24 * time.Hour

	// challengeTTL bounds how long a presented token is served.
	challengeTTL = 10 * time.Minute

	challengePrefix = "/.well-known/acme-challenge/"
)

// account is the ACME registration persisted as account.json. The key is
// kept PEM encoded in the same file.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration,omitempty"`
	KeyPEM       string                 `json:"key_pem"`

	key crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

type tokenEntry struct {
	keyAuth   string
	expiresAt time.Time
}

// HTTP01Provider answers HTTP-01 challenges from memory. The server owns
// the port 80 listener; lego never binds one.
type HTTP01Provider struct {
	tokens sync.Map // token -> tokenEntry
	now    func() time.Time
}

// Present implements challenge.Provider.
func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.tokens.Store(token, tokenEntry{keyAuth: keyAuth, expiresAt: p.clock().Add(challengeTTL)})
	return nil
}

// CleanUp implements challenge.Provider.
func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.tokens.Delete(token)
	return nil
}

func (p *HTTP01Provider) lookup(token string) (string, bool) {
	v, ok := p.tokens.Load(token)
	if !ok {
		return "", false
	}
	e := v.(tokenEntry)
	if p.clock().After(e.expiresAt) {
		p.tokens.Delete(token)
		return "", false
	}
	return e.keyAuth, true
}

func (p *HTTP01Provider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// ACMEManager obtains, stores and renews one certificate for cfg.Domain.
type ACMEManager struct {
	cfg      *config.ACMEConfig
	client   *http.Client
	logger   *slog.Logger
	provider *HTTP01Provider

	mu   sync.RWMutex
	cert *cryptotls.Certificate
	leaf *x509.Certificate
	lego *lego.Client
}

// NewACMEManager creates a manager. client carries the trust anchors for the
// ACME directory; nil uses lego's default client.
func NewACMEManager(cfg *config.ACMEConfig, client *http.Client, logger *slog.Logger) *ACMEManager {
	return &ACMEManager{
		cfg:      cfg,
		client:   client,
		logger:   logutil.NoopIfNil(logger),
		provider: &HTTP01Provider{},
	}
}

func (m *ACMEManager) certPath() string { return filepath.Join(m.cfg.StorageDir, m.cfg.Domain+".crt") }
func (m *ACMEManager) keyPath() string  { return filepath.Join(m.cfg.StorageDir, m.cfg.Domain+".key") }
func (m *ACMEManager) accountPath() string {
	return filepath.Join(m.cfg.StorageDir, "account.json")
}

// Init loads a stored certificate, or obtains one when none is stored or the
// stored one is due for renewal. The challenge handler must already be
// serving when Init contacts the directory.
func (m *ACMEManager) Init(ctx context.Context) error {
	switch {
	case m.cfg.Domain == "":
		return errors.New("tls.acme.domain is required")
	case m.cfg.Email == "":
		return errors.New("tls.acme.email is required")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("acme storage dir: %w", err)
	}

	if err := m.loadStored(); err == nil && !m.NeedsRenewal(time.Now()) {
		m.logger.Info("using stored ACME certificate", "domain", m.cfg.Domain, "not_after", m.leaf.NotAfter)
		return nil
	}
	return m.obtain(ctx)
}

// NeedsRenewal reports whether there is no certificate or it expires within
// RenewBefore of now.
func (m *ACMEManager) NeedsRenewal(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaf == nil || now.Add(RenewBefore).After(m.leaf.NotAfter)
}

// RenewLoop checks the certificate every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (m *ACMEManager) RenewLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if !m.NeedsRenewal(now) {
				continue
			}
			if err := m.obtain(ctx); err != nil {
				m.logger.Error("ACME renewal failed", "domain", m.cfg.Domain, "error", err)
			}
		}
	}
}

func (m *ACMEManager) loadStored() error {
	cert, err := cryptotls.LoadX509KeyPair(m.certPath(), m.keyPath())
	if err != nil {
		return err
	}
	return m.install(&cert)
}

func (m *ACMEManager) install(cert *cryptotls.Certificate) error {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}
	cert.Leaf = leaf
	m.mu.Lock()
	m.cert, m.leaf = cert, leaf
	m.mu.Unlock()
	return nil
}

func (m *ACMEManager) obtain(ctx context.Context) error {
	client, err := m.legoClient()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.logger.Info("requesting ACME certificate", "domain", m.cfg.Domain)
	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("obtain certificate: %w", err)
	}

	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse issued certificate: %w", err)
	}
	if err := os.WriteFile(m.keyPath(), res.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	if err := os.WriteFile(m.certPath(), res.Certificate, 0o644); err != nil {
		return fmt.Errorf("store certificate: %w", err)
	}
	if err := m.install(&cert); err != nil {
		return err
	}
	m.logger.Info("ACME certificate installed", "domain", m.cfg.Domain, "not_after", m.leaf.NotAfter)
	return nil
}

// legoClient builds the client once, registering the account on first use.
func (m *ACMEManager) legoClient() (*lego.Client, error) {
	m.mu.RLock()
	c := m.lego
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	acct, err := m.loadAccount()
	if err != nil {
		return nil, err
	}

	lc := lego.NewConfig(acct)
	lc.CADirURL = m.directory()
	lc.Certificate.KeyType = certcrypto.EC256
	if m.client != nil {
		lc.HTTPClient = m.client
	}

	c, err = lego.NewClient(lc)
	if err != nil {
		return nil, fmt.Errorf("acme client: %w", err)
	}
	if err := c.Challenge.SetHTTP01Provider(m.provider); err != nil {
		return nil, fmt.Errorf("acme http-01 provider: %w", err)
	}

	if acct.Registration == nil {
		reg, err := c.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acme registration: %w", err)
		}
		acct.Registration = reg
		if err := m.saveAccount(acct); err != nil {
			m.logger.Warn("ACME account not saved", "error", err)
		}
	}

	m.mu.Lock()
	m.lego = c
	m.mu.Unlock()
	return c, nil
}

func (m *ACMEManager) directory() string {
	switch {
	case m.cfg.Directory != "":
		return m.cfg.Directory
	case m.cfg.UseStaging:
		return letsEncryptStaging
	default:
		return letsEncryptProduction
	}
}

// loadAccount reads account.json, or creates a fresh unregistered account
// with a new P-256 key when the file is missing or unreadable.
func (m *ACMEManager) loadAccount() (*account, error) {
	if data, err := os.ReadFile(m.accountPath()); err == nil {
		var a account
		if json.Unmarshal(data, &a) == nil {
			if key, err := certcrypto.ParsePEMPrivateKey([]byte(a.KeyPEM)); err == nil {
				a.key = key
				return &a, nil
			}
		}
		m.logger.Warn("ignoring unreadable ACME account", "path", m.accountPath())
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme account key: %w", err)
	}
	return &account{Email: m.cfg.Email, key: key}, nil
}

func (m *ACMEManager) saveAccount(a *account) error {
	a.KeyPEM = string(certcrypto.PEMEncode(a.key))
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.accountPath(), data, 0o600)
}

// GetCertificate serves the installed certificate.
func (m *ACMEManager) GetCertificate(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, errors.New("no ACME certificate installed")
	}
	return m.cert, nil
}

// GetTLSConfig returns a config that always serves the latest certificate.
func (m *ACMEManager) GetTLSConfig() *cryptotls.Config {
	return &cryptotls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     cryptotls.VersionTLS12,
	}
}

// ChallengeHandler serves /.well-known/acme-challenge/{token}.
func (m *ACMEManager) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.URL.Path, challengePrefix)
		if !ok || token == "" || strings.Contains(token, "/") {
			http.NotFound(w, r)
			return
		}
		keyAuth, found := m.provider.lookup(token)
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	})
}
