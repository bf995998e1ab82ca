package service

import "github.com/drivebags/drivebags-go/internal/frameworks/registry"

// CoreServices are constructed on every start, with or without an
// [http.services.<name>] table.
var CoreServices = []string{"api"}

var services = registry.New[NewService]("service")

// Register adds a service constructor. A name can be registered once.
func Register(name string, newFunc NewService) error {
	return services.Add(name, newFunc)
}

// MustRegister is Register for init functions.
func MustRegister(name string, newFunc NewService) {
	services.MustAdd(name, newFunc)
}

// Get returns the constructor registered under name, or nil.
func Get(name string) NewService {
	fn, _ := services.Lookup(name)
	return fn
}

// RegisteredServices returns the registered names, sorted.
func RegisteredServices() []string { return services.Names() }

// resetRegistry is used by tests.
func resetRegistry() { services = registry.New[NewService]("service") }
