// Package vault keeps each user's delegated storage credential encrypted
// at rest and hands out storage clients bound to it.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/storage"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

var (
	ErrStorageNotConnected     = apperr.New(apperr.ErrStorageNotConnected, "Google Drive is not connected. Connect it and try again.")
	ErrHostStorageDisconnected = apperr.New(apperr.ErrHostStorageDisconnected, "The bag host's Google Drive is disconnected. Ask the host to reconnect.")
)

// Status is the caller's connection state.
type Status struct {
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// Vault couples the credential box, the user records and the storage
// provider.
type Vault struct {
	box      *Box
	users    identity.UserRepo
	provider storage.Provider
	log      *slog.Logger
	now      func() time.Time
}

func New(box *Box, users identity.UserRepo, provider storage.Provider, log *slog.Logger) *Vault {
	return &Vault{
		box:      box,
		users:    users,
		provider: provider,
		log:      logutil.NoopIfNil(log),
		now:      time.Now,
	}
}

// AuthURL returns the provider consent URL.
func (v *Vault) AuthURL(state string) string {
	return v.provider.AuthURL(state)
}

// Connect exchanges code for a refresh token and stores it sealed.
func (v *Vault) Connect(ctx context.Context, p identity.Principal, code string) error {
	if code == "" {
		return apperr.Invalid("code is required")
	}
	refresh, err := v.provider.Exchange(ctx, code)
	if err != nil {
		return err
	}

	sealed, err := v.box.Encrypt([]byte(refresh))
	if err != nil {
		return err
	}
	if _, err := v.users.Touch(ctx, p); err != nil {
		return err
	}
	if err := v.users.SetDriveCredential(ctx, p.UID, sealed, v.now()); err != nil {
		return err
	}
	v.log.Info("storage connected", "user_id", p.UID)
	return nil
}

// Disconnect drops the stored credential. Bags hosted by the user become
// unusable for everyone until they connect again.
func (v *Vault) Disconnect(ctx context.Context, uid string) error {
	if err := v.users.ClearDriveCredential(ctx, uid); err != nil {
		return err
	}
	v.log.Info("storage disconnected", "user_id", uid)
	return nil
}

// Status reports whether uid has a stored credential.
func (v *Vault) Status(ctx context.Context, uid string) (Status, error) {
	u, err := v.users.Get(ctx, uid)
	if errors.Is(err, identity.ErrUserNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Connected: u.DriveConnected(), ConnectedAt: u.DriveConnectedAt}, nil
}

// ClientForUser returns a client acting as uid itself. Used when the
// caller is about to become a host.
func (v *Vault) ClientForUser(ctx context.Context, uid string) (storage.Client, error) {
	return v.clientFor(ctx, uid, ErrStorageNotConnected)
}

// ClientForHost returns a client acting as the bag host. Every bag-scoped
// storage call goes through here, whoever the caller is.
func (v *Vault) ClientForHost(ctx context.Context, hostUID string) (storage.Client, error) {
	return v.clientFor(ctx, hostUID, ErrHostStorageDisconnected)
}

func (v *Vault) clientFor(ctx context.Context, uid string, missing error) (storage.Client, error) {
	u, err := v.users.Get(ctx, uid)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	if !u.DriveConnected() {
		return nil, missing
	}

	refresh, err := v.box.Decrypt(u.EncryptedDriveCredential)
	if err != nil {
		v.log.Error("stored storage credential cannot be decrypted", "user_id", uid, "error", err)
		return nil, err
	}

	return v.provider.ClientFor(ctx, string(refresh))
}
