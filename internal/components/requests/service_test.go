package requests_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

var (
	host = identity.Principal{UID: "uid-host", Email: "host@example.com"}
	bob  = identity.Principal{UID: "uid-bob", Email: "Bob@Example.com"}
)

type fixture struct {
	svc    *requests.Service
	mgr    *bags.Manager
	repo   *requests.MemoryRepo
	bags   *bags.MemoryRepo
	notifs *notifications.MemoryRepo
	bag    *bags.Bag
}

func newFixture(t *testing.T, policy access.Policy) *fixture {
	t.Helper()
	notifs := notifications.NewMemoryRepo()
	sink := notifications.Direct{Repo: notifs, Log: testLogger}
	reqRepo := requests.NewMemoryRepo()
	bagRepo := bags.NewMemoryRepo()
	mgr := bags.NewManager(bagRepo, nil, sink, testLogger, bags.WithCleaner("requests", reqRepo))

	bag := &bags.Bag{HostUID: host.UID, Name: "Trip", AccessType: policy, FolderRef: "folder-1"}
	if err := bagRepo.Create(context.Background(), bag); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		svc:    requests.NewService(reqRepo, mgr, sink, nil, testLogger),
		mgr:    mgr,
		repo:   reqRepo,
		bags:   bagRepo,
		notifs: notifs,
		bag:    bag,
	}
}

func (f *fixture) inbox(t *testing.T, uid string) []*notifications.Notification {
	t.Helper()
	n, _ := f.notifs.ListForUser(context.Background(), uid, 0)
	return n
}

// A stranger is denied with can_request, files a request, the host approves.
func TestRequestApproveFlow(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()

	_, err := f.mgr.Authorize(ctx, f.bag.ID, bob)
	var denied *bags.AccessDeniedError
	if !errors.As(err, &denied) || !denied.CanRequest {
		t.Fatalf("expected denial with CanRequest, got %v", err)
	}

	req, err := f.svc.Request(ctx, f.bag.ID, bob)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Email != "bob@example.com" || req.Status != requests.StatusPending {
		t.Errorf("unexpected request %+v", req)
	}
	if in := f.inbox(t, host.UID); len(in) != 1 || in[0].Type != notifications.RequestReceived {
		t.Errorf("host inbox = %+v", in)
	}

	pending, err := f.svc.ListForBag(ctx, f.bag.ID, host)
	if err != nil || len(pending) != 1 || pending[0].UID != bob.UID {
		t.Fatalf("ListForBag = %+v, %v", pending, err)
	}

	if err := f.svc.Decide(ctx, f.bag.ID, host, bob.UID, requests.Approve); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := f.mgr.Authorize(ctx, f.bag.ID, bob); err != nil {
		t.Errorf("bob not authorized after approval: %v", err)
	}
	if in := f.inbox(t, bob.UID); len(in) != 1 || in[0].Type != notifications.RequestApproved {
		t.Errorf("requester inbox = %+v", in)
	}
	if pending, _ := f.svc.ListForBag(ctx, f.bag.ID, host); len(pending) != 0 {
		t.Errorf("approved request still pending: %+v", pending)
	}
}

func TestRequest_RefilingResetsToPending(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()

	_, _ = f.svc.Request(ctx, f.bag.ID, bob)
	_ = f.svc.Decide(ctx, f.bag.ID, host, bob.UID, requests.Deny)
	if _, err := f.svc.Request(ctx, f.bag.ID, bob); err != nil {
		t.Fatal(err)
	}
	got, _ := f.repo.Get(ctx, f.bag.ID, bob.UID)
	if got.Status != requests.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestRequest_PermissiveOnAnyPolicy(t *testing.T) {
	f := newFixture(t, access.Private)
	if _, err := f.svc.Request(context.Background(), f.bag.ID, bob); err != nil {
		t.Errorf("request on private bag: %v", err)
	}
	if _, err := f.svc.Request(context.Background(), "missing", bob); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing bag: got %v", err)
	}
}

func TestDecide_Errors(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()
	_, _ = f.svc.Request(ctx, f.bag.ID, bob)

	tests := []struct {
		name     string
		actor    identity.Principal
		uid      string
		decision requests.Decision
		kind     error
	}{
		{"missing requester", host, "", requests.Approve, apperr.ErrInvalid},
		{"bad decision", host, bob.UID, "maybe", apperr.ErrInvalid},
		{"not host", bob, bob.UID, requests.Approve, apperr.ErrForbidden},
		{"no such request", host, "uid-nobody", requests.Approve, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.Decide(ctx, f.bag.ID, tt.actor, tt.uid, tt.decision); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestDecide_Deny(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()
	_, _ = f.svc.Request(ctx, f.bag.ID, bob)

	if err := f.svc.Decide(ctx, f.bag.ID, host, bob.UID, requests.Deny); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Authorize(ctx, f.bag.ID, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("denied requester authorized: %v", err)
	}
	if in := f.inbox(t, bob.UID); len(in) != 0 {
		t.Errorf("deny must not notify: %+v", in)
	}
}

func TestListForUser_SkipsDeletedBags(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()

	gone := &bags.Bag{HostUID: host.UID, Name: "Gone", AccessType: access.Request}
	_ = f.bags.Create(ctx, gone)

	_, _ = f.svc.Request(ctx, f.bag.ID, bob)
	_, _ = f.svc.Request(ctx, gone.ID, bob)
	// bypass the cascade to leave an orphaned request behind
	_ = f.bags.Delete(ctx, gone.ID)

	mine, err := f.svc.ListForUser(ctx, bob.UID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].BagID != f.bag.ID || mine[0].BagName != "Trip" {
		t.Errorf("ListForUser = %+v", mine)
	}
}

func TestDeleteBagPurgesRequests(t *testing.T) {
	f := newFixture(t, access.Request)
	ctx := context.Background()
	_, _ = f.svc.Request(ctx, f.bag.ID, bob)

	if err := f.mgr.Delete(ctx, f.bag.ID, host.UID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.Get(ctx, f.bag.ID, bob.UID); !errors.Is(err, requests.ErrRequestNotFound) {
		t.Errorf("request survived bag deletion: %v", err)
	}
}
