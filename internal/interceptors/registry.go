package interceptors

import "github.com/drivebags/drivebags-go/internal/frameworks/registry"

var constructors = registry.New[NewInterceptor]("interceptor")

// Register makes an interceptor available to services by name. Called from
// init(); registering a name twice panics.
func Register(name string, fn NewInterceptor) {
	constructors.MustAdd(name, fn)
}

// Get returns the constructor registered under name.
func Get(name string) (NewInterceptor, bool) {
	return constructors.Lookup(name)
}

// Names returns the registered interceptor names, sorted.
func Names() []string { return constructors.Names() }
