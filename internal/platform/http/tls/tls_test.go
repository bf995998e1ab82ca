package tls_test

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drivebags/drivebags-go/internal/platform/config"
	tlspkg "github.com/drivebags/drivebags-go/internal/platform/http/tls"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestTLSManager_Modes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TLSConfig
		wantNil bool
		wantErr error
	}{
		{"off", config.TLSConfig{Mode: "off"}, true, nil},
		{"static without files", config.TLSConfig{Mode: "static"}, true, tlspkg.ErrMissingCert},
		{"acme is separate", config.TLSConfig{Mode: "acme"}, true, tlspkg.ErrInvalidTLSMode},
		{"unknown", config.TLSConfig{Mode: "bogus"}, true, tlspkg.ErrInvalidTLSMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tlspkg.NewTLSManager(&tt.cfg, testLogger).GetTLSConfig("localhost")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if (cfg == nil) != tt.wantNil {
				t.Errorf("config nil = %v, want %v", cfg == nil, tt.wantNil)
			}
		})
	}
}

func TestTLSManager_Static(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, err := tlspkg.SelfSigned([]string{"bags.example"}, time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	certFile, keyFile := filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem")
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := tlspkg.NewTLSManager(&config.TLSConfig{Mode: "static", CertFile: certFile, KeyFile: keyFile}, testLogger).GetTLSConfig("bags.example")
	if err != nil {
		t.Fatalf("GetTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(cfg.Certificates))
	}
}

func parsePEM(t *testing.T, data []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatal("not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func leafOf(t *testing.T, dir string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "server.crt"))
	if err != nil {
		t.Fatal(err)
	}
	return parsePEM(t, data)
}

func TestTLSManager_SelfSigned(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Mode: "selfsigned", SelfSignedDir: dir}

	if _, err := tlspkg.NewTLSManager(cfg, testLogger).GetTLSConfig("bags.local"); err != nil {
		t.Fatalf("first GetTLSConfig: %v", err)
	}
	first := leafOf(t, dir)
	for _, host := range []string{"bags.local", "localhost"} {
		if err := first.VerifyHostname(host); err != nil {
			t.Errorf("VerifyHostname(%s): %v", host, err)
		}
	}

	// Same hostname reuses the stored pair.
	if _, err := tlspkg.NewTLSManager(cfg, testLogger).GetTLSConfig("bags.local"); err != nil {
		t.Fatalf("second GetTLSConfig: %v", err)
	}
	if again := leafOf(t, dir); again.SerialNumber.Cmp(first.SerialNumber) != 0 {
		t.Error("certificate regenerated for the same hostname")
	}

	// A hostname the stored pair does not cover forces a new one.
	if _, err := tlspkg.NewTLSManager(cfg, testLogger).GetTLSConfig("other.local"); err != nil {
		t.Fatalf("third GetTLSConfig: %v", err)
	}
	if leafOf(t, dir).VerifyHostname("other.local") != nil {
		t.Error("certificate not regenerated for a new hostname")
	}
}

func TestSelfSigned(t *testing.T) {
	if _, _, err := tlspkg.SelfSigned(nil, time.Now(), time.Hour); err == nil {
		t.Error("expected error without hosts")
	}

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	certPEM, _, err := tlspkg.SelfSigned([]string{"bags.example", "10.0.0.1"}, now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cert := parsePEM(t, certPEM)
	if cert.Subject.CommonName != "bags.example" {
		t.Errorf("CN = %q", cert.Subject.CommonName)
	}
	if !cert.NotAfter.Equal(now.Add(48 * time.Hour)) {
		t.Errorf("NotAfter = %v", cert.NotAfter)
	}
	if len(cert.IPAddresses) != 1 || cert.IPAddresses[0].String() != "10.0.0.1" {
		t.Errorf("IPAddresses = %v", cert.IPAddresses)
	}
}
