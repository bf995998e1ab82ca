package sqlite

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/drivebags/drivebags-go/internal/components/chat"
)

type chatRepo struct {
	db *gorm.DB
}

func (r *chatRepo) Append(ctx context.Context, m *chat.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	row := messageRow{
		ID:        m.ID,
		BagID:     m.BagID,
		Text:      m.Text,
		UID:       m.UID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// ListRecent reads the newest rows and returns them oldest first.
func (r *chatRepo) ListRecent(ctx context.Context, bagID string, limit int) ([]*chat.Message, error) {
	var rows []messageRow
	q := r.db.WithContext(ctx).Where("bag_id = ?", bagID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return toMessages(rows), nil
}

func (r *chatRepo) ListAll(ctx context.Context, bagID string) ([]*chat.Message, error) {
	var rows []messageRow
	if err := r.db.WithContext(ctx).Where("bag_id = ?", bagID).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

func (r *chatRepo) DeleteForBag(ctx context.Context, bagID string) error {
	return r.db.WithContext(ctx).Where("bag_id = ?", bagID).Delete(&messageRow{}).Error
}

func toMessages(rows []messageRow) []*chat.Message {
	out := make([]*chat.Message, len(rows))
	for i, row := range rows {
		out[i] = &chat.Message{
			ID:        row.ID,
			BagID:     row.BagID,
			Text:      row.Text,
			UID:       row.UID,
			Email:     row.Email,
			CreatedAt: row.CreatedAt,
		}
	}
	return out
}

var _ chat.Repo = (*chatRepo)(nil)
