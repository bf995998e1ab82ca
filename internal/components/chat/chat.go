// Package chat stores per-bag messages and exports the transcript into the
// bag folder on demand.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

const (
	// HistoryLimit is the number of messages returned by List.
	HistoryLimit = 50

	// TranscriptName is the file Sync writes into the bag folder.
	TranscriptName = "_chat_history.json"
)

// Message is one chat line.
type Message struct {
	ID        string    `json:"id"`
	BagID     string    `json:"-"`
	Text      string    `json:"text"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repo persists messages. Lists are in ascending createdAt order.
type Repo interface {
	Append(ctx context.Context, m *Message) error
	// ListRecent returns the newest limit messages, oldest first.
	ListRecent(ctx context.Context, bagID string, limit int) ([]*Message, error)
	ListAll(ctx context.Context, bagID string) ([]*Message, error)
	DeleteForBag(ctx context.Context, bagID string) error
}

// Guard authorizes bag access and resolves the host's storage client.
type Guard interface {
	Authorize(ctx context.Context, bagID string, p identity.Principal) (*bags.Bag, error)
	HostClient(ctx context.Context, bag *bags.Bag) (storage.Client, error)
}

type Service struct {
	repo  Repo
	guard Guard
	log   *slog.Logger
}

func NewService(repo Repo, guard Guard, log *slog.Logger) *Service {
	return &Service{repo: repo, guard: guard, log: logutil.NoopIfNil(log)}
}

// Post appends a message from p.
func (s *Service) Post(ctx context.Context, bagID string, p identity.Principal, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Invalid("Message empty")
	}
	if _, err := s.guard.Authorize(ctx, bagID, p); err != nil {
		return nil, err
	}
	m := &Message{BagID: bagID, Text: text, UID: p.UID, Email: p.Email}
	if err := s.repo.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// List returns the latest messages in ascending order.
func (s *Service) List(ctx context.Context, bagID string, p identity.Principal) ([]*Message, error) {
	if _, err := s.guard.Authorize(ctx, bagID, p); err != nil {
		return nil, err
	}
	return s.repo.ListRecent(ctx, bagID, HistoryLimit)
}

// Sync writes the whole transcript to TranscriptName in the bag folder,
// replacing an earlier export. It returns the number of messages written.
func (s *Service) Sync(ctx context.Context, bagID string, p identity.Principal) (int, error) {
	bag, err := s.guard.Authorize(ctx, bagID, p)
	if err != nil {
		return 0, err
	}
	msgs, err := s.repo.ListAll(ctx, bagID)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	client, err := s.guard.HostClient(ctx, bag)
	if err != nil {
		return 0, err
	}

	body, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return 0, err
	}

	fileID, found, err := client.FindFile(ctx, bag.FolderRef, TranscriptName)
	if err != nil {
		return 0, err
	}
	if found {
		err = client.UpdateFile(ctx, fileID, bytes.NewReader(body))
	} else {
		_, err = client.CreateFile(ctx, bag.FolderRef, TranscriptName, "application/json", bytes.NewReader(body))
	}
	if err != nil {
		return 0, err
	}

	appctx.GetLogger(ctx).Info("chat transcript exported", "bag_id", bagID, "count", len(msgs))
	return len(msgs), nil
}
