package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/drivebags/drivebags-go/internal/components/identity"
)

type userRepo struct {
	db *gorm.DB
}

func (r *userRepo) Touch(ctx context.Context, p identity.Principal) (*identity.User, error) {
	var row userRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&row, "uid = ?", p.UID).Error
		switch {
		case notFound(err):
			row = userRow{UID: p.UID, Email: p.Email, CreatedAt: time.Now()}
			return tx.Create(&row).Error
		case err != nil:
			return err
		case row.Email != p.Email:
			row.Email = p.Email
			return tx.Model(&userRow{}).Where("uid = ?", p.UID).Update("email", p.Email).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toUser(&row), nil
}

func (r *userRepo) Get(ctx context.Context, uid string) (*identity.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, "uid = ?", uid).Error; err != nil {
		if notFound(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return toUser(&row), nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Order("created_at").First(&row, "email = ?", email).Error; err != nil {
		if notFound(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return toUser(&row), nil
}

func (r *userRepo) SetDriveCredential(ctx context.Context, uid, ciphertext string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&userRow{}).Where("uid = ?", uid).Updates(map[string]any{
		"encrypted_drive_credential": ciphertext,
		"drive_connected_at":         at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) ClearDriveCredential(ctx context.Context, uid string) error {
	res := r.db.WithContext(ctx).Model(&userRow{}).Where("uid = ?", uid).Updates(map[string]any{
		"encrypted_drive_credential": "",
		"drive_connected_at":         nil,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func toUser(row *userRow) *identity.User {
	return &identity.User{
		UID:                      row.UID,
		Email:                    row.Email,
		EncryptedDriveCredential: row.EncryptedDriveCredential,
		DriveConnectedAt:         row.DriveConnectedAt,
		CreatedAt:                row.CreatedAt,
	}
}

var _ identity.UserRepo = (*userRepo)(nil)
