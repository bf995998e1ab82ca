package requests

import (
	"context"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// Status is an access request's state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// AccessRequest is a user's ask to join a bag. There is at most one per
// (bag, user); filing again resets it to pending.
type AccessRequest struct {
	BagID     string    `json:"bagId"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrRequestNotFound = apperr.New(apperr.ErrNotFound, "Request not found")

// Repo persists access requests keyed by (bagID, uid).
type Repo interface {
	// Upsert creates or replaces the request for (r.BagID, r.UID).
	Upsert(ctx context.Context, r *AccessRequest) error

	// Get returns ErrRequestNotFound if there is no request.
	Get(ctx context.Context, bagID, uid string) (*AccessRequest, error)

	ListPendingForBag(ctx context.Context, bagID string) ([]*AccessRequest, error)
	ListPendingForUser(ctx context.Context, uid string) ([]*AccessRequest, error)

	SetStatus(ctx context.Context, bagID, uid string, status Status) error
	DeleteForBag(ctx context.Context, bagID string) error
}
