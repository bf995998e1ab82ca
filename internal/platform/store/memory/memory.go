// Package memory is the in-process store driver used in dev mode and tests.
package memory

import (
	"context"

	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
	"github.com/drivebags/drivebags-go/internal/platform/store"
)

func init() {
	store.Register("memory", NewDriver)
}

type Driver struct {
	repos store.Repos
}

func NewDriver(*store.DriverConfig) (store.Driver, error) {
	return &Driver{}, nil
}

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Init(ctx context.Context) error {
	d.repos = store.Repos{
		Users:         identity.NewMemoryUserRepo(),
		Bags:          bags.NewMemoryRepo(),
		Invitations:   invitations.NewMemoryRepo(),
		Requests:      requests.NewMemoryRepo(),
		Notifications: notifications.NewMemoryRepo(),
		Chat:          chat.NewMemoryRepo(),
	}
	return nil
}

func (d *Driver) Repos() store.Repos { return d.repos }

func (d *Driver) Close() error { return nil }

var _ store.Driver = (*Driver)(nil)
