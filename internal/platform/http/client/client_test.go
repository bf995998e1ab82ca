package client_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drivebags/drivebags-go/internal/platform/config"
	httpclient "github.com/drivebags/drivebags-go/internal/platform/http/client"
)

func TestNew_Defaults(t *testing.T) {
	c := httpclient.New(nil, nil)
	if c.Timeout == 0 {
		t.Error("expected a non-zero default timeout")
	}
	if c.CheckRedirect == nil {
		t.Error("expected a redirect policy")
	}
}

func TestNew_FollowsRedirectsWithinLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, srv.URL+"/b", http.StatusFound)
		case "/b":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := httpclient.New(&config.OutboundHTTPConfig{TimeoutMS: 2000, ConnectTimeoutMS: 500, MaxRedirects: 1}, nil)
	resp, err := c.Get(srv.URL + "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNew_RedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := httpclient.New(&config.OutboundHTTPConfig{TimeoutMS: 2000, ConnectTimeoutMS: 500, MaxRedirects: 2}, nil)
	_, err := c.Get(srv.URL + "/")
	if !errors.Is(err, httpclient.ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestNew_RefusesDowngrade(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer plain.Close()

	secure := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, plain.URL, http.StatusFound)
	}))
	defer secure.Close()

	c := httpclient.New(&config.OutboundHTTPConfig{
		TimeoutMS:          2000,
		ConnectTimeoutMS:   500,
		MaxRedirects:       3,
		InsecureSkipVerify: true,
	}, nil)
	_, err := c.Get(secure.URL)
	if !errors.Is(err, httpclient.ErrRedirectDowngrade) {
		t.Fatalf("expected ErrRedirectDowngrade, got %v", err)
	}
}
