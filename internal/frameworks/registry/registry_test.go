package registry_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/drivebags/drivebags-go/internal/frameworks/registry"
)

func TestAddLookup(t *testing.T) {
	r := registry.New[int]("widget")
	if err := r.Add("b", 2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	r.MustAdd("a", 1)

	if v, ok := r.Lookup("a"); !ok || v != 1 {
		t.Errorf("Lookup(a) = %d, %v", v, ok)
	}
	if _, ok := r.Lookup("c"); ok {
		t.Error("Lookup(c) found an unregistered name")
	}
	if got := r.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestAdd_Duplicate(t *testing.T) {
	r := registry.New[string]("service")
	r.MustAdd("api", "first")

	err := r.Add("api", "second")
	if err == nil || !strings.Contains(err.Error(), `service "api" already registered`) {
		t.Fatalf("Add duplicate = %v", err)
	}
	if v, _ := r.Lookup("api"); v != "first" {
		t.Errorf("duplicate replaced the original: %q", v)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustAdd did not panic on duplicate")
		}
	}()
	r.MustAdd("api", "third")
}

func TestResolve(t *testing.T) {
	r := registry.New[int]("cache driver")
	r.MustAdd("memory", 1)
	r.MustAdd("redis", 2)

	if v, err := r.Resolve("redis"); err != nil || v != 2 {
		t.Errorf("Resolve(redis) = %d, %v", v, err)
	}
	_, err := r.Resolve("memcached")
	if err == nil {
		t.Fatal("expected error for unknown name")
	}
	want := `unknown cache driver "memcached" (registered: [memory redis])`
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}
