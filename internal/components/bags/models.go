package bags

import (
	"context"
	"fmt"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// Bag is an access-controlled handle over one storage folder.
type Bag struct {
	ID         string        `json:"id"`
	HostUID    string        `json:"hostUid"`
	Name       string        `json:"name"`
	AccessType access.Policy `json:"accessType"`

	// InvitedEmails is the allow-list, keyed by membership.Keyer.
	InvitedEmails []string `json:"invitedEmails"`

	FolderRef string    `json:"folderRef"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subject returns the inputs of the access decision.
func (b *Bag) Subject() access.Subject {
	return access.Subject{HostUID: b.HostUID, Policy: b.AccessType, Members: b.InvitedEmails}
}

// IsHost reports whether uid hosts the bag.
func (b *Bag) IsHost(uid string) bool {
	return uid != "" && b.HostUID == uid
}

// HasMember reports whether key is on the allow-list.
func (b *Bag) HasMember(key string) bool {
	for _, m := range b.InvitedEmails {
		if m == key {
			return true
		}
	}
	return false
}

var (
	ErrBagNotFound = apperr.New(apperr.ErrNotFound, "Bag not found")
	ErrNotHost     = apperr.New(apperr.ErrForbidden, "Only the host can do this")
)

// AccessDeniedError is returned when a caller may not act on a bag.
// CanRequest tells the client whether the request workflow is open.
type AccessDeniedError struct {
	BagID      string
	CanRequest bool
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access to bag %s denied", e.BagID)
}

func (e *AccessDeniedError) Unwrap() error { return apperr.ErrForbidden }

// RequestAllowed reports whether the caller may file an access request.
func (e *AccessDeniedError) RequestAllowed() bool { return e.CanRequest }

// Update describes a metadata change. Nil fields are left untouched.
type Update struct {
	Name       *string
	AccessType *access.Policy

	// ClearMembers empties the allow-list in the same write.
	ClearMembers bool
}

// Repo persists bags. The member operations are atomic set primitives:
// implementations must never read the list, modify it and write it back.
type Repo interface {
	Create(ctx context.Context, bag *Bag) error

	// Get returns ErrBagNotFound if id is unknown.
	Get(ctx context.Context, id string) (*Bag, error)

	ListByHost(ctx context.Context, hostUID string) ([]*Bag, error)
	ListByMember(ctx context.Context, key string) ([]*Bag, error)

	// Update applies u in one atomic write and returns the result.
	Update(ctx context.Context, id string, u Update) (*Bag, error)

	Delete(ctx context.Context, id string) error

	// AddMember is a set union: adding a present key is a no-op.
	AddMember(ctx context.Context, id, key string) error
	// RemoveMember is a set removal: removing an absent key is a no-op.
	RemoveMember(ctx context.Context, id, key string) error
}
