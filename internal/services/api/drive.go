package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
)

const driveStatePrefix = "drive-state:"

type consentResponse struct {
	URL string `json:"url"`
}

// driveConsent starts the consent round trip. Browsers get a redirect;
// callers asking for JSON get the URL.
func (s *Service) driveConsent(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}

	state := uuid.NewString()
	ttl := time.Duration(s.conf.StateTTLSeconds) * time.Second
	if err := s.d.Cache.Set(r.Context(), driveStatePrefix+state, []byte(p.UID), ttl); err != nil {
		s.fail(w, r, err)
		return
	}

	target := s.d.Vault.AuthURL(state)
	if r.URL.Query().Get("format") == "json" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		api.WriteJSON(w, http.StatusOK, consentResponse{URL: target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// driveCallback is where the provider sends the browser back. It carries no
// bearer token, so it only checks the state it issued and hands the code to
// the app, which exchanges it with its own token.
func (s *Service) driveCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		api.WriteBadRequest(w, api.ReasonBadRequest, e)
		return
	}
	code := q.Get("code")
	if code == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "No code provided")
		return
	}

	key := driveStatePrefix + q.Get("state")
	if _, err := s.d.Cache.Get(r.Context(), key); err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
			appctx.GetLogger(r.Context()).Warn("drive state lookup failed", "error", err)
		}
		api.WriteBadRequest(w, api.ReasonInvalidField, "Unknown or expired state")
		return
	}
	if err := s.d.Cache.Delete(r.Context(), key); err != nil {
		appctx.GetLogger(r.Context()).Warn("drive state cleanup failed", "error", err)
	}

	target := strings.TrimSuffix(s.d.Config.AppURL(), "/") + "/dashboard?google_drive_code=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusFound)
}

type exchangeRequest struct {
	Code string `json:"code"`
}

func (s *Service) driveExchange(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req exchangeRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Vault.Connect(r.Context(), p, req.Code); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

func (s *Service) driveStatus(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	st, err := s.d.Vault.Status(r.Context(), p.UID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, st)
}

func (s *Service) driveDisconnect(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	if err := s.d.Vault.Disconnect(r.Context(), p.UID); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}
