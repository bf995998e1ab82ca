// Package client builds the outbound HTTP client shared by JWKS fetches and
// Google API calls.
package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/drivebags/drivebags-go/internal/platform/config"
)

var (
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrRedirectDowngrade = errors.New("redirect from https to http blocked")
)

// New returns an *http.Client bounded by cfg. rootCAs adds trust anchors; nil
// means system defaults. Proxy settings come from the environment.
func New(cfg *config.OutboundHTTPConfig, rootCAs *x509.CertPool) *http.Client {
	if cfg == nil {
		cfg = &config.OutboundHTTPConfig{
			TimeoutMS:        10000,
			ConnectTimeoutMS: 2000,
			MaxRedirects:     1,
		}
	}

	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			RootCAs:            rootCAs,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		TLSHandshakeTimeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects),
	}
}

// redirectPolicy caps the redirect chain and refuses scheme downgrades.
func redirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: limit %d", ErrTooManyRedirects, maxRedirects)
		}
		prev := via[len(via)-1]
		if prev.URL.Scheme == "https" && req.URL.Scheme != "https" {
			return ErrRedirectDowngrade
		}
		return nil
	}
}
