package invitations

import (
	"context"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// Status is an invitation's state. Only pending invitations can change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Invitation is a host's offer of membership addressed to an email.
type Invitation struct {
	ID        string    `json:"id"`
	BagID     string    `json:"bagId"`
	BagName   string    `json:"bagName"`
	HostUID   string    `json:"hostUid"`
	ToEmail   string    `json:"toEmail"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	ErrInvitationNotFound = apperr.New(apperr.ErrNotFound, "Invitation not found")
	ErrAlreadyProcessed   = apperr.New(apperr.ErrAlreadyProcessed, "Invitation already processed")
	ErrAlreadyMember      = apperr.New(apperr.ErrAlreadyMember, "User is already a member")
	ErrNotInvitee         = apperr.New(apperr.ErrForbidden, "This invitation is not for you")
	ErrBagMismatch        = apperr.New(apperr.ErrMismatch, "Invitation does not belong to this bag")
)

// Repo persists invitations.
type Repo interface {
	Create(ctx context.Context, inv *Invitation) error

	// Get returns ErrInvitationNotFound if id is unknown.
	Get(ctx context.Context, id string) (*Invitation, error)

	ListPendingForBag(ctx context.Context, bagID string) ([]*Invitation, error)
	ListPendingForEmail(ctx context.Context, email string) ([]*Invitation, error)

	// FindPending returns the pending invitation for bag and email, if any.
	FindPending(ctx context.Context, bagID, email string) (*Invitation, bool, error)

	// SetStatusIfPending moves a pending invitation to status in one
	// compare-and-set. It returns ErrAlreadyProcessed when the invitation
	// is no longer pending.
	SetStatusIfPending(ctx context.Context, id string, status Status) error

	Delete(ctx context.Context, id string) error
	DeleteForBag(ctx context.Context, bagID string) error
	DeleteForBagAndEmail(ctx context.Context, bagID, email string) error
}
