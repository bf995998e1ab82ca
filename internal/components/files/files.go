// Package files lists and uploads bag content through the host's storage
// credential.
package files

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// DefaultMimeType is used when an upload names none.
const DefaultMimeType = "application/octet-stream"

// Guard authorizes bag access and resolves the host's storage client.
type Guard interface {
	Authorize(ctx context.Context, bagID string, p identity.Principal) (*bags.Bag, error)
	HostClient(ctx context.Context, bag *bags.Bag) (storage.Client, error)
}

type Service struct {
	guard Guard
	log   *slog.Logger
}

func NewService(guard Guard, log *slog.Logger) *Service {
	return &Service{guard: guard, log: logutil.NoopIfNil(log)}
}

// List returns the bag folder's entries, folders first then newest.
func (s *Service) List(ctx context.Context, bagID string, p identity.Principal) ([]storage.File, error) {
	bag, client, err := s.open(ctx, bagID, p)
	if err != nil {
		return nil, err
	}
	files, err := client.ListFolder(ctx, bag.FolderRef)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []storage.File{}
	}
	return files, nil
}

// Upload streams content into the bag folder as the host.
func (s *Service) Upload(ctx context.Context, bagID string, p identity.Principal, filename, mimeType string, content io.Reader) (storage.File, error) {
	filename = strings.TrimSpace(filename)
	if bagID == "" || filename == "" {
		return storage.File{}, apperr.Invalid("Missing bagId or filename")
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	bag, client, err := s.open(ctx, bagID, p)
	if err != nil {
		return storage.File{}, err
	}
	f, err := client.CreateFile(ctx, bag.FolderRef, filename, mimeType, content)
	if err != nil {
		return storage.File{}, err
	}
	appctx.GetLogger(ctx).Info("file uploaded", "bag_id", bagID, "file_id", f.ID, "mime_type", mimeType)
	return f, nil
}

func (s *Service) open(ctx context.Context, bagID string, p identity.Principal) (*bags.Bag, storage.Client, error) {
	bag, err := s.guard.Authorize(ctx, bagID, p)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.guard.HostClient(ctx, bag)
	if err != nil {
		return nil, nil, err
	}
	return bag, client, nil
}
