// Package drive implements the storage provider on Google Drive v3.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	svccfg "github.com/drivebags/drivebags-go/internal/frameworks/service/cfg"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

func init() {
	storage.RegisterDriver("drive", func(conf map[string]any, httpClient *http.Client, log *slog.Logger) (storage.Provider, error) {
		var c Config
		if err := svccfg.DecodeStrict(conf, &c); err != nil {
			return nil, fmt.Errorf("[storage.drive]: %w", err)
		}
		return New(c, httpClient, log)
	})
}

// Scopes requested at consent: files created by the app, and read-only
// metadata so listings show files users added through Drive itself.
var Scopes = []string{
	drive.DriveFileScope,
	drive.DriveMetadataReadonlyScope,
}

// Config is the [storage.drive] section.
type Config struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`

	// Overrides for tests and private deployments.
	AuthURL     string `mapstructure:"auth_url"`
	TokenURL    string `mapstructure:"token_url"`
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = google.Endpoint.AuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = google.Endpoint.TokenURL
	}
}

// Provider talks to Drive with per-user OAuth tokens.
type Provider struct {
	oauth       oauth2.Config
	httpClient  *http.Client
	apiEndpoint string
	log         *slog.Logger
}

// New builds a provider. httpClient is the outbound client used for both
// token refresh and API calls; nil selects http.DefaultClient.
func New(c Config, httpClient *http.Client, log *slog.Logger) (*Provider, error) {
	c.ApplyDefaults()
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, errors.New("drive: client_id and client_secret are required")
	}
	if c.RedirectURL == "" {
		return nil, errors.New("drive: redirect_url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Provider{
		oauth: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL},
		},
		httpClient:  httpClient,
		apiEndpoint: c.APIEndpoint,
		log:         logutil.NoopIfNil(log),
	}, nil
}

// AuthURL asks for offline access and forces the consent screen so Google
// issues a refresh token every time.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ErrNoRefreshToken is returned when consent was granted earlier and Google
// did not issue a new refresh token.
var ErrNoRefreshToken = apperr.Invalid("No refresh token returned. Revoke access and try again.")

// Exchange implements storage.Authorizer.
func (p *Provider) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return "", apperr.Wrap(apperr.ErrInvalid, "authorization code rejected", err)
		}
		return "", storage.Unavailable("exchange", err)
	}
	if tok.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	return tok.RefreshToken, nil
}

// ClientFor implements storage.Factory. The token is refreshed lazily on
// the first call.
func (p *Provider) ClientFor(ctx context.Context, refreshToken string) (storage.Client, error) {
	base := p.clientContext(context.Background())
	ts := p.oauth.TokenSource(base, &oauth2.Token{RefreshToken: refreshToken})

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, ts))}
	if p.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.apiEndpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive: new service: %w", err)
	}
	return &client{svc: svc, log: p.log}, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

type client struct {
	svc *drive.Service
	log *slog.Logger
}

func (c *client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f := &drive.File{Name: name, MimeType: storage.FolderMimeType}
	if parentID != "" {
		f.Parents = []string{parentID}
	}
	res, err := c.svc.Files.Create(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", classify("create folder", err)
	}
	return res.Id, nil
}

func (c *client) ListFolder(ctx context.Context, folderID string) ([]storage.File, error) {
	res, err := c.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", quote(folderID))).
		Fields("files(id, name, mimeType, iconLink, webViewLink, size)").
		OrderBy("folder,modifiedTime desc").
		PageSize(100).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("list folder", err)
	}

	files := make([]storage.File, len(res.Files))
	for i, f := range res.Files {
		files[i] = storage.File{
			ID:          f.Id,
			Name:        f.Name,
			MimeType:    f.MimeType,
			IconLink:    f.IconLink,
			WebViewLink: f.WebViewLink,
			Size:        f.Size,
		}
	}
	return files, nil
}

func (c *client) CreateFile(ctx context.Context, folderID, name, mimeType string, content io.Reader) (storage.File, error) {
	f := &drive.File{Name: name, MimeType: mimeType, Parents: []string{folderID}}
	res, err := c.svc.Files.Create(f).
		Media(content, googleapi.ContentType(mimeType)).
		Fields("id, name, mimeType, webViewLink, size").
		Context(ctx).
		Do()
	if err != nil {
		return storage.File{}, classify("create file", err)
	}
	return storage.File{
		ID:          res.Id,
		Name:        res.Name,
		MimeType:    res.MimeType,
		WebViewLink: res.WebViewLink,
		Size:        res.Size,
	}, nil
}

func (c *client) UpdateFile(ctx context.Context, fileID string, content io.Reader) error {
	_, err := c.svc.Files.Update(fileID, &drive.File{}).Media(content).Fields("id").Context(ctx).Do()
	return classify("update file", err)
}

func (c *client) FindFile(ctx context.Context, folderID, name string) (string, bool, error) {
	res, err := c.svc.Files.List().
		Q(fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", quote(name), quote(folderID))).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, classify("find file", err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

func (c *client) Delete(ctx context.Context, fileID string) error {
	return classify("delete", c.svc.Files.Delete(fileID).Context(ctx).Do())
}

// quote escapes a value for use inside a single-quoted Drive query string.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// classify maps Drive and token errors onto the storage error kinds.
// A rejected refresh token (invalid_grant, or 401 from the API) means the
// host revoked access.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrRevoked, err)
		}
		return storage.Unavailable(op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, storage.ErrRevoked, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, storage.ErrNotFound, err)
		}
	}
	return storage.Unavailable(op, err)
}

var _ storage.Provider = (*Provider)(nil)
