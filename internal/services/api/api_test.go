package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/drivebags/drivebags-go/internal/app"
	"github.com/drivebags/drivebags-go/internal/components/storage/memory"
	"github.com/drivebags/drivebags-go/internal/components/vault"
	"github.com/drivebags/drivebags-go/internal/platform/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

var testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	provider *memory.Provider
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	key, err := vault.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey: %v", err)
	}
	cfg := config.DevConfig()
	cfg.Identity.JWTSecret = testSecret
	cfg.Vault.MasterKey = key
	cfg.Server.AppURL = "https://app.example"
	if mutate != nil {
		mutate(cfg)
	}

	provider := memory.New()
	a, err := app.New(context.Background(), cfg, testLogger, app.WithStorageProvider(provider))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return &harness{t: t, srv: srv, provider: provider}
}

type user struct {
	uid   string
	email string
	token string
}

func (h *harness) user(uid, email string) user {
	h.t.Helper()
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(testSecret)}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		h.t.Fatalf("NewSigner: %v", err)
	}
	claims := jwt.Claims{Subject: uid, Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	raw, err := jwt.Signed(sig).Claims(claims).Claims(map[string]any{"email": email}).Serialize()
	if err != nil {
		h.t.Fatalf("Serialize: %v", err)
	}
	return user{uid: uid, email: email, token: raw}
}

// connected returns a user whose Drive is already linked.
func (h *harness) connected(uid, email string) user {
	h.t.Helper()
	u := h.user(uid, email)
	h.mustStatus(h.do(u, http.MethodPost, "/api/auth/drive/exchange", map[string]string{"code": uid}), http.StatusOK)
	return u
}

func (h *harness) do(u user, method, path string, body any) *http.Response {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	if err != nil {
		h.t.Fatalf("NewRequest: %v", err)
	}
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (h *harness) mustStatus(resp *http.Response, want int) {
	h.t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		h.t.Fatalf("%s %s: status = %d, want %d (body %s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type errorBody struct {
	Error struct {
		ReasonCode string `json:"reason_code"`
		Message    string `json:"message"`
		CanRequest *bool  `json:"can_request"`
	} `json:"error"`
}

type createResp struct {
	BagID    string `json:"bagId"`
	FolderID string `json:"folderId"`
}

func (h *harness) createBag(host user, name, policy string, invited ...string) createResp {
	h.t.Helper()
	resp := h.do(host, http.MethodPost, "/api/bags/create", map[string]any{
		"name": name, "accessType": policy, "invitedEmails": invited,
	})
	h.mustStatus(resp, http.StatusOK)
	return decode[createResp](h.t, resp)
}

func TestHealthzIsPublic(t *testing.T) {
	h := newHarness(t, nil)
	h.mustStatus(h.do(user{}, http.MethodGet, "/api/healthz", nil), http.StatusOK)
}

func TestProtectedRouteNeedsToken(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(user{}, http.MethodGet, "/api/bags", nil)
	h.mustStatus(resp, http.StatusUnauthorized)
	if got := decode[errorBody](t, resp).Error.ReasonCode; got != "unauthenticated" {
		t.Errorf("reason_code = %q", got)
	}
}

func TestCreateBagRequiresConnectedStorage(t *testing.T) {
	h := newHarness(t, nil)
	host := h.user("u-host", "host@example.com")

	resp := h.do(host, http.MethodPost, "/api/bags/create", map[string]any{"name": "Trip", "accessType": "private"})
	h.mustStatus(resp, http.StatusBadRequest)
	if got := decode[errorBody](t, resp).Error.ReasonCode; got != "storage_not_connected" {
		t.Errorf("reason_code = %q, want storage_not_connected", got)
	}
}

func TestCreateBagMakesFolder(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")

	created := h.createBag(host, "Trip", "private")
	if created.BagID == "" || !h.provider.Exists(created.FolderID) {
		t.Fatalf("created = %+v, folder exists = %v", created, h.provider.Exists(created.FolderID))
	}

	dash := decode[struct {
		Hosted []struct {
			ID string `json:"id"`
		} `json:"hosted"`
	}](t, h.do(host, http.MethodGet, "/api/bags", nil))
	if len(dash.Hosted) != 1 || dash.Hosted[0].ID != created.BagID {
		t.Errorf("hosted = %+v", dash.Hosted)
	}
}

func TestInviteAcceptFlow(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	guest := h.user("u-guest", "Guest@Example.com")
	bag := h.createBag(host, "Trip", "invite")

	h.mustStatus(h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID, nil), http.StatusForbidden)

	resp := h.do(host, http.MethodPost, "/api/bags/"+bag.BagID+"/invite", map[string]string{"email": "guest@example.com"})
	h.mustStatus(resp, http.StatusOK)
	inv := decode[struct {
		Invitation struct {
			ID string `json:"id"`
		} `json:"invitation"`
	}](t, resp)

	mine := decode[struct {
		Invites []struct {
			ID string `json:"id"`
		} `json:"invites"`
	}](t, h.do(guest, http.MethodGet, "/api/user/invitations", nil))
	if len(mine.Invites) != 1 || mine.Invites[0].ID != inv.Invitation.ID {
		t.Fatalf("user invitations = %+v", mine.Invites)
	}

	h.mustStatus(h.do(guest, http.MethodPost, "/api/invitations/respond",
		map[string]string{"inviteId": inv.Invitation.ID, "decision": "accept"}), http.StatusOK)

	h.mustStatus(h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID, nil), http.StatusOK)

	resp = h.do(guest, http.MethodPost, "/api/invitations/respond",
		map[string]string{"inviteId": inv.Invitation.ID, "decision": "accept"})
	h.mustStatus(resp, http.StatusConflict)
}

func TestRequestApproveFlow(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	guest := h.user("u-guest", "guest@example.com")
	bag := h.createBag(host, "Trip", "request")

	resp := h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID, nil)
	h.mustStatus(resp, http.StatusForbidden)
	denied := decode[errorBody](t, resp)
	if denied.Error.CanRequest == nil || !*denied.Error.CanRequest {
		t.Fatalf("can_request = %v, want true", denied.Error.CanRequest)
	}

	h.mustStatus(h.do(guest, http.MethodPost, "/api/bags/"+bag.BagID+"/request", nil), http.StatusOK)

	// Only the host sees the queue.
	h.mustStatus(h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID+"/requests", nil), http.StatusForbidden)

	pending := decode[struct {
		Requests []struct {
			UID    string `json:"uid"`
			Status string `json:"status"`
		} `json:"requests"`
	}](t, h.do(host, http.MethodGet, "/api/bags/"+bag.BagID+"/requests", nil))
	if len(pending.Requests) != 1 || pending.Requests[0].UID != guest.uid {
		t.Fatalf("requests = %+v", pending.Requests)
	}

	h.mustStatus(h.do(host, http.MethodPost, "/api/bags/"+bag.BagID+"/requests/decision",
		map[string]string{"requestId": guest.uid, "decision": "approve"}), http.StatusOK)

	h.mustStatus(h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID, nil), http.StatusOK)
}

func TestPrivateBagDeniesWithoutRequest(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	stranger := h.user("u-x", "x@example.com")
	bag := h.createBag(host, "Vault", "private")

	resp := h.do(stranger, http.MethodGet, "/api/bags/"+bag.BagID+"/files", nil)
	h.mustStatus(resp, http.StatusForbidden)
	body := decode[errorBody](t, resp)
	if body.Error.CanRequest == nil || *body.Error.CanRequest {
		t.Errorf("can_request = %v, want false", body.Error.CanRequest)
	}
}

func TestUploadAndList(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	bag := h.createBag(host, "Docs", "private")

	req, _ := http.NewRequest(http.MethodPost,
		h.srv.URL+"/api/upload/proxy?bagId="+bag.BagID+"&filename=a.txt&mimeType=text%2Fplain",
		strings.NewReader("hello"))
	req.Header.Set("Authorization", "Bearer "+host.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	h.mustStatus(resp, http.StatusOK)
	up := decode[struct {
		FileID string `json:"fileId"`
	}](t, resp)
	if got, ok := h.provider.Content(up.FileID); !ok || string(got) != "hello" {
		t.Fatalf("content = %q, %v", got, ok)
	}

	files := decode[struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}](t, h.do(host, http.MethodGet, "/api/bags/"+bag.BagID+"/files", nil))
	if len(files.Files) != 1 {
		t.Errorf("files = %+v", files.Files)
	}
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.HTTP.Services = map[string]map[string]any{"api": {"max_upload_mb": 1}}
	})
	host := h.connected("u-host", "host@example.com")
	bag := h.createBag(host, "Docs", "private")

	req, _ := http.NewRequest(http.MethodPost,
		h.srv.URL+"/api/upload/proxy?bagId="+bag.BagID+"&filename=big.bin",
		bytes.NewReader(make([]byte, 2<<20)))
	req.Header.Set("Authorization", "Bearer "+host.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	h.mustStatus(resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()
}

func TestStorageUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	bag := h.createBag(host, "Docs", "public")

	h.provider.SetUnavailable(true)
	resp := h.do(host, http.MethodGet, "/api/bags/"+bag.BagID+"/files", nil)
	h.mustStatus(resp, http.StatusServiceUnavailable)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if got := decode[errorBody](t, resp).Error.ReasonCode; got != "storage_unavailable" {
		t.Errorf("reason_code = %q", got)
	}
}

func TestHostDisconnectBlocksMembers(t *testing.T) {
	h := newHarness(t, nil)
	host := h.connected("u-host", "host@example.com")
	guest := h.user("u-guest", "guest@example.com")
	bag := h.createBag(host, "Docs", "public")

	h.mustStatus(h.do(host, http.MethodDelete, "/api/auth/drive", nil), http.StatusOK)

	resp := h.do(guest, http.MethodGet, "/api/bags/"+bag.BagID+"/files", nil)
	h.mustStatus(resp, http.StatusBadRequest)
	if got := decode[errorBody](t, resp).Error.ReasonCode; got != "host_storage_disconnected" {
		t.Errorf("reason_code = %q", got)
	}
}

func TestDriveConsentRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	u := h.user("u-1", "one@example.com")

	resp := h.do(u, http.MethodGet, "/api/auth/drive?format=json", nil)
	h.mustStatus(resp, http.StatusOK)
	consent, err := url.Parse(decode[struct {
		URL string `json:"url"`
	}](t, resp).URL)
	if err != nil {
		t.Fatal(err)
	}
	state := consent.Query().Get("state")
	if state == "" {
		t.Fatalf("consent URL has no state: %s", consent)
	}

	tests := []struct {
		name     string
		query    string
		want     int
		location string
	}{
		{"unknown state", "?code=c1&state=bogus", http.StatusBadRequest, ""},
		{"missing code", "?state=" + state, http.StatusBadRequest, ""},
		{"valid", "?code=c1&state=" + state, http.StatusFound, "https://app.example/dashboard?google_drive_code=c1"},
		{"state used once", "?code=c1&state=" + state, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(user{}, http.MethodGet, "/api/auth/drive/callback"+tt.query, nil)
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.location != "" && resp.Header.Get("Location") != tt.location {
				t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), tt.location)
			}
		})
	}

	h.mustStatus(h.do(u, http.MethodPost, "/api/auth/drive/exchange", map[string]string{"code": "c1"}), http.StatusOK)
	status := decode[struct {
		Connected bool `json:"connected"`
	}](t, h.do(u, http.MethodGet, "/api/auth/drive/status", nil))
	if !status.Connected {
		t.Error("not connected after exchange")
	}
}

func TestRequestRateLimited(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.HTTP.Interceptors = map[string]map[string]any{
			"ratelimit": {"profiles": map[string]any{
				"tight": map[string]any{"requests_per_window": 2, "window_seconds": 60},
			}},
		}
		c.HTTP.Services = map[string]map[string]any{
			"api": {"ratelimit": map[string]any{"profile": "tight"}},
		}
	})
	host := h.connected("u-host", "host@example.com")
	guest := h.user("u-guest", "guest@example.com")
	bag := h.createBag(host, "Trip", "request")

	path := "/api/bags/" + bag.BagID + "/request"
	for i := range 2 {
		resp := h.do(guest, http.MethodPost, path, nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i)
		}
		resp.Body.Close()
	}
	resp := h.do(guest, http.MethodPost, path, nil)
	h.mustStatus(resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	resp.Body.Close()

	// Chat has its own window.
	h.mustStatus(h.do(host, http.MethodPost, "/api/bags/"+bag.BagID+"/chat", map[string]string{"text": "hi"}), http.StatusOK)
}
