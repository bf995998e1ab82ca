// Package memory is an in-process storage provider for development mode
// and tests. Nothing it stores survives a restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drivebags/drivebags-go/internal/components/storage"
)

func init() {
	storage.RegisterDriver("memory", func(map[string]any, *http.Client, *slog.Logger) (storage.Provider, error) {
		return New(), nil
	})
}

type object struct {
	file     storage.File
	parent   string
	content  []byte
	modified time.Time
}

// Provider keeps folders and files in maps. Each refresh token issued by
// Exchange is valid until Revoke.
type Provider struct {
	mu          sync.Mutex
	objects     map[string]*object
	tokens      map[string]bool
	unavailable bool
}

func New() *Provider {
	return &Provider{
		objects: make(map[string]*object),
		tokens:  make(map[string]bool),
	}
}

// AuthURL implements storage.Authorizer.
func (p *Provider) AuthURL(state string) string {
	return "https://storage.invalid/consent?state=" + state
}

// Exchange issues a refresh token for any non-empty code.
func (p *Provider) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty authorization code")
	}
	tok := "refresh-" + code
	p.Grant(tok)
	return tok, nil
}

// Grant marks a refresh token as valid.
func (p *Provider) Grant(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = true
}

// Revoke invalidates a refresh token, as when the user removes the app's
// access at the provider.
func (p *Provider) Revoke(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
}

// SetUnavailable makes every client call fail with a transport error.
func (p *Provider) SetUnavailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = v
}

// ClientFor implements storage.Factory.
func (p *Provider) ClientFor(ctx context.Context, refreshToken string) (storage.Client, error) {
	return &client{p: p, token: refreshToken}, nil
}

// Content returns a stored file's bytes, for assertions.
func (p *Provider) Content(fileID string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.objects[fileID]
	if !ok {
		return nil, false
	}
	return bytes.Clone(o.content), true
}

// Exists reports whether an object with id exists.
func (p *Provider) Exists(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[id]
	return ok
}

type client struct {
	p     *Provider
	token string
}

var errTransport = fmt.Errorf("connection refused")

// lock checks the token the way the real provider refreshes it on each call.
func (c *client) lock() error {
	c.p.mu.Lock()
	if c.p.unavailable {
		c.p.mu.Unlock()
		return errTransport
	}
	if !c.p.tokens[c.token] {
		c.p.mu.Unlock()
		return storage.ErrRevoked
	}
	return nil
}

func (c *client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	if err := c.lock(); err != nil {
		return "", err
	}
	defer c.p.mu.Unlock()

	id := uuid.NewString()
	c.p.objects[id] = &object{
		file:     storage.File{ID: id, Name: name, MimeType: storage.FolderMimeType},
		parent:   parentID,
		modified: time.Now(),
	}
	return id, nil
}

func (c *client) ListFolder(ctx context.Context, folderID string) ([]storage.File, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.p.mu.Unlock()

	var objs []*object
	for _, o := range c.p.objects {
		if o.parent == folderID {
			objs = append(objs, o)
		}
	}
	// folders first, then newest first
	sort.Slice(objs, func(i, j int) bool {
		fi, fj := objs[i].file.MimeType == storage.FolderMimeType, objs[j].file.MimeType == storage.FolderMimeType
		if fi != fj {
			return fi
		}
		return objs[i].modified.After(objs[j].modified)
	})

	files := make([]storage.File, 0, len(objs))
	for _, o := range objs {
		files = append(files, o.file)
	}
	if len(files) > 100 {
		files = files[:100]
	}
	return files, nil
}

func (c *client) CreateFile(ctx context.Context, folderID, name, mimeType string, content io.Reader) (storage.File, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return storage.File{}, err
	}
	if err := c.lock(); err != nil {
		return storage.File{}, err
	}
	defer c.p.mu.Unlock()

	id := uuid.NewString()
	f := storage.File{
		ID:          id,
		Name:        name,
		MimeType:    mimeType,
		Size:        int64(len(data)),
		WebViewLink: "https://storage.invalid/file/" + id,
	}
	c.p.objects[id] = &object{file: f, parent: folderID, content: data, modified: time.Now()}
	return f, nil
}

func (c *client) UpdateFile(ctx context.Context, fileID string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.p.mu.Unlock()

	o, ok := c.p.objects[fileID]
	if !ok {
		return storage.ErrNotFound
	}
	o.content = data
	o.file.Size = int64(len(data))
	o.modified = time.Now()
	return nil
}

func (c *client) FindFile(ctx context.Context, folderID, name string) (string, bool, error) {
	if err := c.lock(); err != nil {
		return "", false, err
	}
	defer c.p.mu.Unlock()

	for id, o := range c.p.objects {
		if o.parent == folderID && o.file.Name == name {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (c *client) Delete(ctx context.Context, fileID string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.p.mu.Unlock()

	if _, ok := c.p.objects[fileID]; !ok {
		return storage.ErrNotFound
	}
	delete(c.p.objects, fileID)
	return nil
}

var _ storage.Provider = (*Provider)(nil)
