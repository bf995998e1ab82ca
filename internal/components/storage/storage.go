// Package storage defines the delegate that acts on a host's cloud storage.
//
// A Client is always bound to one user's refresh token. Bag-scoped calls
// resolve the bag host's token first (see the vault package), so members
// read and write with the host's authority.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/frameworks/registry"
)

// FolderMimeType marks folders on the provider.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is one entry of a folder listing.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	IconLink    string `json:"iconLink,omitempty"`
	WebViewLink string `json:"webViewLink,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Client performs storage operations as one user.
type Client interface {
	// CreateFolder returns the new folder id. parentID may be empty.
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	ListFolder(ctx context.Context, folderID string) ([]File, error)
	CreateFile(ctx context.Context, folderID, name, mimeType string, content io.Reader) (File, error)
	UpdateFile(ctx context.Context, fileID string, content io.Reader) error
	// FindFile looks up a non-trashed file by exact name inside folderID.
	FindFile(ctx context.Context, folderID, name string) (string, bool, error)
	Delete(ctx context.Context, fileID string) error
}

// Factory binds a Client to a refresh token.
type Factory interface {
	ClientFor(ctx context.Context, refreshToken string) (Client, error)
}

// Authorizer runs the delegated authorization flow.
type Authorizer interface {
	// AuthURL returns the consent URL. state is echoed back to the callback.
	AuthURL(state string) string
	// Exchange trades an authorization code for a refresh token.
	Exchange(ctx context.Context, code string) (string, error)
}

// Provider is a storage backend.
type Provider interface {
	Factory
	Authorizer
}

var (
	// ErrUnavailable wraps timeouts and provider failures. Retryable.
	ErrUnavailable = apperr.New(apperr.ErrStorageUnavailable, "storage provider unavailable")

	// ErrRevoked is returned when the provider rejects the refresh token.
	ErrRevoked = apperr.New(apperr.ErrHostStorageDisconnected, "storage credential rejected by provider")

	ErrNotFound = apperr.New(apperr.ErrNotFound, "storage object not found")
)

// Unavailable wraps cause as a retryable storage failure.
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, cause)
}

// DriverFactory builds a provider from its [storage.<name>] section.
// httpClient is the outbound client; nil selects http.DefaultClient.
type DriverFactory func(config map[string]any, httpClient *http.Client, log *slog.Logger) (Provider, error)

var drivers = registry.New[DriverFactory]("storage driver")

// RegisterDriver makes a storage provider available under name.
func RegisterDriver(name string, factory DriverFactory) {
	drivers.MustAdd(name, factory)
}

// New builds the named provider.
func New(name string, config map[string]any, httpClient *http.Client, log *slog.Logger) (Provider, error) {
	factory, err := drivers.Resolve(name)
	if err != nil {
		return nil, err
	}
	return factory(config, httpClient, log)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string { return drivers.Names() }

// Bounded wraps p so every client call runs under timeout and unclassified
// transport failures come back as ErrUnavailable.
func Bounded(p Provider, timeout time.Duration) Provider {
	return &boundedProvider{Provider: p, timeout: timeout}
}

type boundedProvider struct {
	Provider
	timeout time.Duration
}

func (b *boundedProvider) ClientFor(ctx context.Context, refreshToken string) (Client, error) {
	c, err := b.Provider.ClientFor(ctx, refreshToken)
	if err != nil {
		return nil, classify("connect", err)
	}
	return &boundedClient{next: c, timeout: b.timeout}, nil
}

func (b *boundedProvider) Exchange(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	tok, err := b.Provider.Exchange(ctx, code)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return "", Unavailable("exchange", err)
	}
	return tok, err
}

type boundedClient struct {
	next    Client
	timeout time.Duration
}

func (c *boundedClient) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, err := c.next.CreateFolder(ctx, name, parentID)
	return id, classify("create folder", err)
}

func (c *boundedClient) ListFolder(ctx context.Context, folderID string) ([]File, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	files, err := c.next.ListFolder(ctx, folderID)
	return files, classify("list folder", err)
}

func (c *boundedClient) CreateFile(ctx context.Context, folderID, name, mimeType string, content io.Reader) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	f, err := c.next.CreateFile(ctx, folderID, name, mimeType, content)
	return f, classify("create file", err)
}

func (c *boundedClient) UpdateFile(ctx context.Context, fileID string, content io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify("update file", c.next.UpdateFile(ctx, fileID, content))
}

func (c *boundedClient) FindFile(ctx context.Context, folderID, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, ok, err := c.next.FindFile(ctx, folderID, name)
	return id, ok, classify("find file", err)
}

func (c *boundedClient) Delete(ctx context.Context, fileID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify("delete", c.next.Delete(ctx, fileID))
}

// classify keeps already-classified errors. Timeouts, network errors and
// anything else the provider returned become ErrUnavailable.
func classify(op string, err error) error {
	if err == nil || apperr.KindOf(err) != nil {
		return err
	}
	return Unavailable(op, err)
}
