// Package tls provides certificates for the HTTPS listener: static files,
// a generated self-signed pair, or ACME.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/drivebags/drivebags-go/internal/platform/config"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")
)

// DefaultSelfSignedDir is used when tls.self_signed_dir is empty.
const DefaultSelfSignedDir = ".drivebags/certs"

// selfSignedValidity is the lifetime of generated certificates.
const selfSignedValidity = 365 * 24 * time.Hour

// TLSManager builds listener configs for the static and selfsigned modes.
// ACME has its own manager.
type TLSManager struct {
	cfg    *config.TLSConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewTLSManager(cfg *config.TLSConfig, logger *slog.Logger) *TLSManager {
	return &TLSManager{cfg: cfg, logger: logutil.NoopIfNil(logger), now: time.Now}
}

// GetTLSConfig returns the listener config for hostname. Mode "off" yields nil.
func (m *TLSManager) GetTLSConfig(hostname string) (*cryptotls.Config, error) {
	var (
		cert cryptotls.Certificate
		err  error
	)
	switch m.cfg.Mode {
	case "off":
		return nil, nil
	case "static":
		cert, err = m.static()
	case "selfsigned":
		cert, err = m.selfSigned(hostname)
	case "acme":
		return nil, fmt.Errorf("%w: acme certificates come from ACMEManager", ErrInvalidTLSMode)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, m.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{Certificates: []cryptotls.Certificate{cert}, MinVersion: cryptotls.VersionTLS12}, nil
}

func (m *TLSManager) static() (cryptotls.Certificate, error) {
	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return cryptotls.Certificate{}, ErrMissingCert
	}
	cert, err := cryptotls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	m.logger.Info("loaded static TLS certificate", "cert_file", m.cfg.CertFile)
	return cert, nil
}

// selfSigned reuses the stored pair while it is valid for hostname and
// regenerates it otherwise.
func (m *TLSManager) selfSigned(hostname string) (cryptotls.Certificate, error) {
	dir := m.cfg.SelfSignedDir
	if dir == "" {
		dir = DefaultSelfSignedDir
	}
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		leaf, perr := x509.ParseCertificate(cert.Certificate[0])
		if perr == nil && m.now().Before(leaf.NotAfter) && leaf.VerifyHostname(hostname) == nil {
			m.logger.Info("loaded self-signed certificate", "cert_file", certFile)
			return cert, nil
		}
		m.logger.Info("replacing stale self-signed certificate", "cert_file", certFile)
	}

	certPEM, keyPEM, err := SelfSigned([]string{hostname, "localhost", "127.0.0.1", "::1"}, m.now(), selfSignedValidity)
	if err != nil {
		return cryptotls.Certificate{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("cert dir: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write certificate: %w", err)
	}
	m.logger.Info("generated self-signed certificate", "hostname", hostname, "cert_file", certFile)
	return cryptotls.X509KeyPair(certPEM, keyPEM)
}

// SelfSigned returns a PEM certificate and EC key valid from notBefore for
// validFor. Hosts may be DNS names or IP literals; the first is the CN.
func SelfSigned(hosts []string, notBefore time.Time, validFor time.Duration) (certPEM, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		return nil, nil, errors.New("at least one host is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("serial: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"DriveBags Development"}, CommonName: hosts[0]},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), nil
}
