// Package identity holds the authenticated caller and the user records
// created on first sight of a caller.
package identity

import (
	"context"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

var (
	ErrUserNotFound      = apperr.New(apperr.ErrNotFound, "user not found")
	ErrInvalidCredential = apperr.New(apperr.ErrUnauthenticated, "invalid credential")
)

// Principal is the authenticated caller of a request.
// Email is already normalised by the resolver.
type Principal struct {
	UID   string
	Email string
}

// User is the persisted record for a principal.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`

	// EncryptedDriveCredential is the vault ciphertext of the Drive refresh
	// token. Empty when storage is not connected.
	EncryptedDriveCredential string     `json:"-"`
	DriveConnectedAt         *time.Time `json:"driveConnectedAt,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
}

// DriveConnected reports whether the user has a stored Drive credential.
func (u *User) DriveConnected() bool {
	return u.EncryptedDriveCredential != ""
}

// UserRepo provides user storage operations.
type UserRepo interface {
	// Touch creates the user on first sight and refreshes the email when it
	// changed at the identity provider. The stored credential is never
	// touched.
	Touch(ctx context.Context, p Principal) (*User, error)

	// Get returns ErrUserNotFound if uid is unknown.
	Get(ctx context.Context, uid string) (*User, error)

	// GetByEmail looks up by normalised email. Returns ErrUserNotFound
	// if no user has that email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	SetDriveCredential(ctx context.Context, uid, ciphertext string, at time.Time) error
	ClearDriveCredential(ctx context.Context, uid string) error
}

// Resolver verifies a bearer credential and returns the caller.
// Any verification failure is reported as ErrInvalidCredential.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal stores the authenticated caller in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by the auth gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UID != ""
}
