// Package sqlite implements the store driver on SQLite via GORM.
//
// Allow-list membership lives in its own table keyed by (bag_id, email), so
// adding and removing members are single INSERT ... ON CONFLICT DO NOTHING
// and DELETE statements rather than rewrites of a list column.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/drivebags/drivebags-go/internal/platform/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// DBFile is the database file name inside the data dir.
const DBFile = "drivebags.db"

// Driver implements store.Driver using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	return &Driver{dataDir: cfg.DataDir}, nil
}

func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dsn := "file:" + filepath.Join(d.dataDir, DBFile) + "?_busy_timeout=5000&_journal_mode=WAL"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions
	// from tripping over each other's locks.
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(
		&userRow{},
		&bagRow{},
		&bagMemberRow{},
		&invitationRow{},
		&requestRow{},
		&notificationRow{},
		&messageRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	d.db = db
	return nil
}

// Repos implements store.Driver.
func (d *Driver) Repos() store.Repos {
	return store.Repos{
		Users:         &userRepo{db: d.db},
		Bags:          &bagRepo{db: d.db},
		Invitations:   &invitationRepo{db: d.db},
		Requests:      &requestRepo{db: d.db},
		Notifications: &notificationRepo{db: d.db},
		Chat:          &chatRepo{db: d.db},
	}
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

var _ store.Driver = (*Driver)(nil)
