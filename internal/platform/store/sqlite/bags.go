package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/bags"
)

type bagRepo struct {
	db *gorm.DB
}

func (r *bagRepo) Create(ctx context.Context, b *bags.Bag) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	row := bagRow{
		ID:         b.ID,
		HostUID:    b.HostUID,
		Name:       b.Name,
		AccessType: string(b.AccessType),
		FolderRef:  b.FolderRef,
		CreatedAt:  b.CreatedAt,
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for i, email := range b.InvitedEmails {
			m := bagMemberRow{BagID: b.ID, Email: email, AddedAt: b.CreatedAt.Add(time.Duration(i))}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *bagRepo) Get(ctx context.Context, id string) (*bags.Bag, error) {
	return getBag(r.db.WithContext(ctx), id)
}

func getBag(db *gorm.DB, id string) (*bags.Bag, error) {
	var row bagRow
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, bags.ErrBagNotFound
		}
		return nil, err
	}
	out, err := withMembers(db, []bagRow{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// withMembers loads the allow-lists of rows in one query.
func withMembers(db *gorm.DB, rows []bagRow) ([]*bags.Bag, error) {
	out := make([]*bags.Bag, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]string, len(rows))
	byID := make(map[string]*bags.Bag, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		out[i] = &bags.Bag{
			ID:            row.ID,
			HostUID:       row.HostUID,
			Name:          row.Name,
			AccessType:    access.Policy(row.AccessType),
			InvitedEmails: []string{},
			FolderRef:     row.FolderRef,
			CreatedAt:     row.CreatedAt,
		}
		byID[row.ID] = out[i]
	}

	var members []bagMemberRow
	if err := db.Where("bag_id IN ?", ids).Order("added_at").Find(&members).Error; err != nil {
		return nil, err
	}
	for _, m := range members {
		if b := byID[m.BagID]; b != nil {
			b.InvitedEmails = append(b.InvitedEmails, m.Email)
		}
	}
	return out, nil
}

func (r *bagRepo) ListByHost(ctx context.Context, hostUID string) ([]*bags.Bag, error) {
	db := r.db.WithContext(ctx)
	var rows []bagRow
	if err := db.Where("host_uid = ?", hostUID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return withMembers(db, rows)
}

func (r *bagRepo) ListByMember(ctx context.Context, key string) ([]*bags.Bag, error) {
	db := r.db.WithContext(ctx)
	var rows []bagRow
	sub := db.Model(&bagMemberRow{}).Select("bag_id").Where("email = ?", key)
	if err := db.Where("id IN (?)", sub).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return withMembers(db, rows)
}

// Update writes the metadata change and, when asked, empties the
// allow-list in the same transaction.
func (r *bagRepo) Update(ctx context.Context, id string, u bags.Update) (*bags.Bag, error) {
	var out *bags.Bag
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]any{}
		if u.Name != nil {
			fields["name"] = *u.Name
		}
		if u.AccessType != nil {
			fields["access_type"] = string(*u.AccessType)
		}
		if len(fields) > 0 {
			res := tx.Model(&bagRow{}).Where("id = ?", id).Updates(fields)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return bags.ErrBagNotFound
			}
		}
		if u.ClearMembers {
			if err := tx.Where("bag_id = ?", id).Delete(&bagMemberRow{}).Error; err != nil {
				return err
			}
		}

		var err error
		out, err = getBag(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *bagRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&bagRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return bags.ErrBagNotFound
		}
		return tx.Where("bag_id = ?", id).Delete(&bagMemberRow{}).Error
	})
}

func (r *bagRepo) AddMember(ctx context.Context, id, key string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bagExists(tx, id); err != nil {
			return err
		}
		m := bagMemberRow{BagID: id, Email: key, AddedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	})
}

func (r *bagRepo) RemoveMember(ctx context.Context, id, key string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bagExists(tx, id); err != nil {
			return err
		}
		return tx.Where("bag_id = ? AND email = ?", id, key).Delete(&bagMemberRow{}).Error
	})
}

func bagExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&bagRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return bags.ErrBagNotFound
	}
	return nil
}

var _ bags.Repo = (*bagRepo)(nil)
