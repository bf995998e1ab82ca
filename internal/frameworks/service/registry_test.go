package service

import (
	"log/slog"
	"net/http"
	"slices"
	"testing"

	"github.com/drivebags/drivebags-go/internal/platform/deps"
)

type stubService struct{ prefix string }

func (s *stubService) Handler() http.Handler { return http.NotFoundHandler() }
func (s *stubService) Prefix() string        { return s.prefix }
func (s *stubService) Close() error          { return nil }
func (s *stubService) Unprotected() []string { return nil }

func newStub(conf map[string]any, d *deps.Deps, log *slog.Logger) (Service, error) {
	prefix, _ := conf["prefix"].(string)
	return &stubService{prefix: prefix}, nil
}

func TestRegisterAndGet(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	if err := Register("bags", newStub); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctor := Get("bags")
	if ctor == nil {
		t.Fatal("Get returned nil for a registered service")
	}
	svc, err := ctor(map[string]any{"prefix": "api"}, &deps.Deps{}, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if svc.Prefix() != "api" {
		t.Errorf("expected prefix api, got %q", svc.Prefix())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	if err := Register("dup", newStub); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := Register("dup", newStub); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestMustRegister_Panics(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	MustRegister("once", newStub)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate MustRegister")
		}
	}()
	MustRegister("once", newStub)
}

func TestGet_NotRegistered(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	if Get("missing") != nil {
		t.Fatal("expected nil for an unregistered service")
	}
}

func TestRegisteredServices_Sorted(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	for _, name := range []string{"svc-c", "svc-a", "svc-b"} {
		MustRegister(name, newStub)
	}

	got := RegisteredServices()
	want := []string{"svc-a", "svc-b", "svc-c"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCoreServices(t *testing.T) {
	if !slices.Contains(CoreServices, "api") {
		t.Errorf("expected api in CoreServices, got %v", CoreServices)
	}
}
