package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebags/drivebags-go/internal/components/notifications"
)

type notificationRepo struct {
	db *gorm.DB
}

func (r *notificationRepo) Create(ctx context.Context, n *notifications.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	row := notificationRow{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Message:   n.Message,
		Read:      n.Read,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *notificationRepo) ListForUser(ctx context.Context, uid string, limit int) ([]*notifications.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", uid).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []notificationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*notifications.Notification, len(rows))
	for i, row := range rows {
		out[i] = &notifications.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Type:      notifications.Type(row.Type),
			Message:   row.Message,
			Read:      row.Read,
			Metadata:  row.Metadata,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

// MarkRead only touches the caller's own notifications.
func (r *notificationRepo) MarkRead(ctx context.Context, uid string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND id IN ? AND is_read = ?", uid, ids, false).
		Update("is_read", true)
	return int(res.RowsAffected), res.Error
}

var _ notifications.Repo = (*notificationRepo)(nil)
