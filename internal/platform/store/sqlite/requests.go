package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drivebags/drivebags-go/internal/components/requests"
)

type requestRepo struct {
	db *gorm.DB
}

func (r *requestRepo) Upsert(ctx context.Context, req *requests.AccessRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	row := requestRow{
		BagID:     req.BagID,
		UID:       req.UID,
		Email:     req.Email,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bag_id"}, {Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "status", "created_at"}),
	}).Create(&row).Error
}

func (r *requestRepo) Get(ctx context.Context, bagID, uid string) (*requests.AccessRequest, error) {
	var row requestRow
	if err := r.db.WithContext(ctx).First(&row, "bag_id = ? AND uid = ?", bagID, uid).Error; err != nil {
		if notFound(err) {
			return nil, requests.ErrRequestNotFound
		}
		return nil, err
	}
	return toRequest(&row), nil
}

func (r *requestRepo) listPending(ctx context.Context, query string, arg string) ([]*requests.AccessRequest, error) {
	var rows []requestRow
	err := r.db.WithContext(ctx).
		Where("status = ?", string(requests.StatusPending)).
		Where(query, arg).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*requests.AccessRequest, len(rows))
	for i := range rows {
		out[i] = toRequest(&rows[i])
	}
	return out, nil
}

func (r *requestRepo) ListPendingForBag(ctx context.Context, bagID string) ([]*requests.AccessRequest, error) {
	return r.listPending(ctx, "bag_id = ?", bagID)
}

func (r *requestRepo) ListPendingForUser(ctx context.Context, uid string) ([]*requests.AccessRequest, error) {
	return r.listPending(ctx, "uid = ?", uid)
}

func (r *requestRepo) SetStatus(ctx context.Context, bagID, uid string, status requests.Status) error {
	res := r.db.WithContext(ctx).Model(&requestRow{}).
		Where("bag_id = ? AND uid = ?", bagID, uid).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return requests.ErrRequestNotFound
	}
	return nil
}

func (r *requestRepo) DeleteForBag(ctx context.Context, bagID string) error {
	return r.db.WithContext(ctx).Where("bag_id = ?", bagID).Delete(&requestRow{}).Error
}

func toRequest(row *requestRow) *requests.AccessRequest {
	return &requests.AccessRequest{
		BagID:     row.BagID,
		UID:       row.UID,
		Email:     row.Email,
		Status:    requests.Status(row.Status),
		CreatedAt: row.CreatedAt,
	}
}

var _ requests.Repo = (*requestRepo)(nil)
