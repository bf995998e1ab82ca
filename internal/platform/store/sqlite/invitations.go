package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebags/drivebags-go/internal/components/invitations"
)

type invitationRepo struct {
	db *gorm.DB
}

func (r *invitationRepo) Create(ctx context.Context, inv *invitations.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	row := invitationRow{
		ID:        inv.ID,
		BagID:     inv.BagID,
		BagName:   inv.BagName,
		HostUID:   inv.HostUID,
		ToEmail:   inv.ToEmail,
		Status:    string(inv.Status),
		CreatedAt: inv.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *invitationRepo) Get(ctx context.Context, id string) (*invitations.Invitation, error) {
	var row invitationRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, invitations.ErrInvitationNotFound
		}
		return nil, err
	}
	return toInvitation(&row), nil
}

func (r *invitationRepo) listPending(ctx context.Context, query string, args ...any) ([]*invitations.Invitation, error) {
	var rows []invitationRow
	err := r.db.WithContext(ctx).
		Where("status = ?", string(invitations.StatusPending)).
		Where(query, args...).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*invitations.Invitation, len(rows))
	for i := range rows {
		out[i] = toInvitation(&rows[i])
	}
	return out, nil
}

func (r *invitationRepo) ListPendingForBag(ctx context.Context, bagID string) ([]*invitations.Invitation, error) {
	return r.listPending(ctx, "bag_id = ?", bagID)
}

func (r *invitationRepo) ListPendingForEmail(ctx context.Context, email string) ([]*invitations.Invitation, error) {
	return r.listPending(ctx, "to_email = ?", email)
}

func (r *invitationRepo) FindPending(ctx context.Context, bagID, email string) (*invitations.Invitation, bool, error) {
	found, err := r.listPending(ctx, "bag_id = ? AND to_email = ?", bagID, email)
	if err != nil || len(found) == 0 {
		return nil, false, err
	}
	return found[0], true, nil
}

// SetStatusIfPending is a single conditional UPDATE; of two racing
// callers only one sees a row affected.
func (r *invitationRepo) SetStatusIfPending(ctx context.Context, id string, status invitations.Status) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&invitationRow{}).
		Where("id = ? AND status = ?", id, string(invitations.StatusPending)).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var n int64
	if err := db.Model(&invitationRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return invitations.ErrInvitationNotFound
	}
	return invitations.ErrAlreadyProcessed
}

func (r *invitationRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&invitationRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invitations.ErrInvitationNotFound
	}
	return nil
}

func (r *invitationRepo) DeleteForBag(ctx context.Context, bagID string) error {
	return r.db.WithContext(ctx).Where("bag_id = ?", bagID).Delete(&invitationRow{}).Error
}

func (r *invitationRepo) DeleteForBagAndEmail(ctx context.Context, bagID, email string) error {
	return r.db.WithContext(ctx).Where("bag_id = ? AND to_email = ?", bagID, email).Delete(&invitationRow{}).Error
}

func toInvitation(row *invitationRow) *invitations.Invitation {
	return &invitations.Invitation{
		ID:        row.ID,
		BagID:     row.BagID,
		BagName:   row.BagName,
		HostUID:   row.HostUID,
		ToEmail:   row.ToEmail,
		Status:    invitations.Status(row.Status),
		CreatedAt: row.CreatedAt,
	}
}

var _ invitations.Repo = (*invitationRepo)(nil)
