package tls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertificates is returned for a trust file without a PEM certificate.
var ErrNoCertificates = errors.New("no PEM certificates found")

// BuildRootCAPool returns the system roots plus the certificates in caFile
// and in every *.pem or *.crt regular file directly inside caDir. With both
// empty it returns nil so callers keep the default roots.
func BuildRootCAPool(caFile, caDir string) (*x509.CertPool, error) {
	if caFile == "" && caDir == "" {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caFile != "" {
		if err := appendPEMFile(pool, caFile); err != nil {
			return nil, fmt.Errorf("tls_root_ca_file: %w", err)
		}
	}
	if caDir == "" {
		return pool, nil
	}

	files, err := trustFiles(caDir)
	if err != nil {
		return nil, fmt.Errorf("tls_root_ca_dir: %w", err)
	}
	for _, f := range files {
		if err := appendPEMFile(pool, f); err != nil {
			return nil, fmt.Errorf("tls_root_ca_dir: %w", err)
		}
	}
	return pool, nil
}

// trustFiles lists candidate files in dir. Subdirectories and symlinks are
// skipped.
func trustFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".pem" || ext == ".crt" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func appendPEMFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%s: %w", path, ErrNoCertificates)
	}
	return nil
}
