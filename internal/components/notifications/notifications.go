// Package notifications is the best-effort event log shown on a user's
// dashboard. Delivery failures never reach the workflow that raised them.
package notifications

import (
	"context"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// Type classifies a notification.
type Type string

const (
	InviteReceived  Type = "invite_received"
	InviteAccepted  Type = "invite_accepted"
	RequestReceived Type = "request_received"
	RequestApproved Type = "request_approved"
	Kicked          Type = "kicked"
)

// ListLimit is the number of notifications returned to the dashboard.
const ListLimit = 20

// Notification is one entry of a user's log.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      Type              `json:"type"`
	Message   string            `json:"message"`
	Read      bool              `json:"read"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Repo persists notifications.
type Repo interface {
	Create(ctx context.Context, n *Notification) error
	// ListForUser returns the newest first, at most limit entries.
	ListForUser(ctx context.Context, uid string, limit int) ([]*Notification, error)
	// MarkRead flags ids as read. Ids that belong to another user are
	// ignored. Returns how many were updated.
	MarkRead(ctx context.Context, uid string, ids []string) (int, error)
}

// Sink accepts notifications. It never fails the caller.
type Sink interface {
	Notify(ctx context.Context, recipientUID string, typ Type, message string, metadata map[string]string)
}

// Service is the read side used by the dashboard.
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// List returns the caller's latest notifications.
func (s *Service) List(ctx context.Context, uid string) ([]*Notification, error) {
	return s.repo.ListForUser(ctx, uid, ListLimit)
}

// MarkRead marks the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, uid string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Invalid("ids is required")
	}
	return s.repo.MarkRead(ctx, uid, ids)
}
