// Package store selects the persistence backend and hands out the
// repositories the workflows run on.
package store

import (
	"context"

	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
	"github.com/drivebags/drivebags-go/internal/frameworks/registry"
)

// Repos is the set of repositories a driver provides.
type Repos struct {
	Users         identity.UserRepo
	Bags          bags.Repo
	Invitations   invitations.Repo
	Requests      requests.Repo
	Notifications notifications.Repo
	Chat          chat.Repo
}

// Driver is a persistence backend. Implementations must be safe for
// concurrent use.
type Driver interface {
	// Init opens the backend and prepares its schema.
	Init(ctx context.Context) error

	// Repos returns the repositories. Valid after Init.
	Repos() Repos

	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string
}

// DriverConfig selects and configures a driver.
type DriverConfig struct {
	Driver string

	// DataDir holds the database file for file-backed drivers.
	DataDir string
}

// DriverFactory creates a driver.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

var drivers = registry.New[DriverFactory]("store driver")

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	drivers.MustAdd(name, factory)
}

// New creates the driver named by cfg.Driver.
func New(cfg *DriverConfig) (Driver, error) {
	factory, err := drivers.Resolve(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string { return drivers.Names() }
