// Package storetest is a conformance suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/requests"
	"github.com/drivebags/drivebags-go/internal/platform/store"
)

// Open creates and initialises the driver described by cfg, closing it
// when the test ends.
func Open(t *testing.T, cfg *store.DriverConfig) store.Driver {
	t.Helper()
	d, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", cfg.Driver, err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("failed to init %s driver: %v", cfg.Driver, err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// Run runs the suite. newRepos must return a fresh, empty set each call.
func Run(t *testing.T, newRepos func(t *testing.T) store.Repos) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepos(t).Users) })
	t.Run("BagsCRUD", func(t *testing.T) { testBagsCRUD(t, newRepos(t).Bags) })
	t.Run("BagMembers", func(t *testing.T) { testBagMembers(t, newRepos(t).Bags) })
	t.Run("BagMembersConcurrent", func(t *testing.T) { testBagMembersConcurrent(t, newRepos(t).Bags) })
	t.Run("BagUpdateClears", func(t *testing.T) { testBagUpdateClears(t, newRepos(t).Bags) })
	t.Run("Invitations", func(t *testing.T) { testInvitations(t, newRepos(t).Invitations) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, newRepos(t).Requests) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newRepos(t).Notifications) })
	t.Run("Chat", func(t *testing.T) { testChat(t, newRepos(t).Chat) })
}

func testUsers(t *testing.T, r identity.UserRepo) {
	ctx := context.Background()

	if _, err := r.Get(ctx, "u1"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("Get unknown: %v", err)
	}
	first, err := r.Touch(ctx, identity.Principal{UID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := r.SetDriveCredential(ctx, "u1", "sealed", time.Now()); err != nil {
		t.Fatalf("SetDriveCredential: %v", err)
	}

	again, err := r.Touch(ctx, identity.Principal{UID: "u1", Email: "b@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.CreatedAt.Equal(first.CreatedAt) || again.Email != "b@example.com" || !again.DriveConnected() {
		t.Errorf("Touch clobbered the record: %+v", again)
	}
	if u, err := r.GetByEmail(ctx, "b@example.com"); err != nil || u.UID != "u1" {
		t.Errorf("GetByEmail = %+v, %v", u, err)
	}

	if err := r.ClearDriveCredential(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	u, _ := r.Get(ctx, "u1")
	if u.DriveConnected() || u.DriveConnectedAt != nil {
		t.Errorf("credential not cleared: %+v", u)
	}
	if err := r.SetDriveCredential(ctx, "ghost", "x", time.Now()); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("unknown user credential: %v", err)
	}
}

func newBag(t *testing.T, r bags.Repo, host string, policy access.Policy, members ...string) *bags.Bag {
	t.Helper()
	b := &bags.Bag{HostUID: host, Name: "bag-" + host, AccessType: policy, InvitedEmails: members, FolderRef: "folder"}
	if err := r.Create(context.Background(), b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return b
}

func testBagsCRUD(t *testing.T, r bags.Repo) {
	ctx := context.Background()

	b := newBag(t, r, "h1", access.Invite, "a@example.com", "b@example.com")
	if b.ID == "" || b.CreatedAt.IsZero() {
		t.Fatalf("Create did not assign id/time: %+v", b)
	}

	got, err := r.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != b.Name || got.AccessType != access.Invite || len(got.InvitedEmails) != 2 || got.FolderRef != "folder" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	time.Sleep(2 * time.Millisecond)
	newer := newBag(t, r, "h1", access.Public)
	hosted, _ := r.ListByHost(ctx, "h1")
	if len(hosted) != 2 || hosted[0].ID != newer.ID {
		t.Errorf("ListByHost not newest first: %+v", hosted)
	}

	shared, _ := r.ListByMember(ctx, "b@example.com")
	if len(shared) != 1 || shared[0].ID != b.ID {
		t.Errorf("ListByMember = %+v", shared)
	}

	if err := r.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, b.ID); !errors.Is(err, bags.ErrBagNotFound) {
		t.Errorf("deleted bag: %v", err)
	}
	if err := r.Delete(ctx, b.ID); !errors.Is(err, bags.ErrBagNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if shared, _ := r.ListByMember(ctx, "b@example.com"); len(shared) != 0 {
		t.Errorf("members of deleted bag still listed: %+v", shared)
	}
}

func testBagMembers(t *testing.T, r bags.Repo) {
	ctx := context.Background()
	b := newBag(t, r, "h1", access.Invite)

	for i := 0; i < 2; i++ {
		if err := r.AddMember(ctx, b.ID, "a@example.com"); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}
	got, _ := r.Get(ctx, b.ID)
	if len(got.InvitedEmails) != 1 {
		t.Errorf("AddMember is not a set union: %v", got.InvitedEmails)
	}

	for i := 0; i < 2; i++ {
		if err := r.RemoveMember(ctx, b.ID, "a@example.com"); err != nil {
			t.Fatalf("RemoveMember: %v", err)
		}
	}
	got, _ = r.Get(ctx, b.ID)
	if len(got.InvitedEmails) != 0 {
		t.Errorf("RemoveMember left %v", got.InvitedEmails)
	}

	if err := r.AddMember(ctx, "missing", "a@example.com"); !errors.Is(err, bags.ErrBagNotFound) {
		t.Errorf("AddMember on missing bag: %v", err)
	}
}

// Concurrent additions of distinct members must all survive.
func testBagMembersConcurrent(t *testing.T, r bags.Repo) {
	ctx := context.Background()
	b := newBag(t, r, "h1", access.Invite)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.AddMember(ctx, b.ID, fmt.Sprintf("user%d@example.com", i))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	got, _ := r.Get(ctx, b.ID)
	if len(got.InvitedEmails) != n {
		t.Errorf("lost updates: %d members, want %d", len(got.InvitedEmails), n)
	}
}

func testBagUpdateClears(t *testing.T, r bags.Repo) {
	ctx := context.Background()
	b := newBag(t, r, "h1", access.Public, "x@y.com")

	name := "renamed"
	got, err := r.Update(ctx, b.ID, bags.Update{Name: &name})
	if err != nil || got.Name != name || len(got.InvitedEmails) != 1 {
		t.Fatalf("rename = %+v, %v", got, err)
	}

	priv := access.Private
	got, err = r.Update(ctx, b.ID, bags.Update{AccessType: &priv, ClearMembers: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessType != access.Private || len(got.InvitedEmails) != 0 {
		t.Errorf("after restrict: %+v", got)
	}

	if _, err := r.Update(ctx, "missing", bags.Update{Name: &name}); !errors.Is(err, bags.ErrBagNotFound) {
		t.Errorf("update missing: %v", err)
	}
}

func testInvitations(t *testing.T, r invitations.Repo) {
	ctx := context.Background()
	inv := &invitations.Invitation{BagID: "b1", BagName: "Trip", HostUID: "h1", ToEmail: "a@example.com", Status: invitations.StatusPending}
	if err := r.Create(ctx, inv); err != nil {
		t.Fatal(err)
	}
	other := &invitations.Invitation{BagID: "b2", ToEmail: "a@example.com", Status: invitations.StatusPending}
	_ = r.Create(ctx, other)

	if got, ok, err := r.FindPending(ctx, "b1", "a@example.com"); err != nil || !ok || got.ID != inv.ID {
		t.Errorf("FindPending = %+v, %v, %v", got, ok, err)
	}
	if list, _ := r.ListPendingForEmail(ctx, "a@example.com"); len(list) != 2 {
		t.Errorf("ListPendingForEmail = %d", len(list))
	}

	if err := r.SetStatusIfPending(ctx, inv.ID, invitations.StatusAccepted); err != nil {
		t.Fatal(err)
	}
	if err := r.SetStatusIfPending(ctx, inv.ID, invitations.StatusRejected); !errors.Is(err, invitations.ErrAlreadyProcessed) {
		t.Errorf("second transition: %v", err)
	}
	if err := r.SetStatusIfPending(ctx, "missing", invitations.StatusAccepted); !errors.Is(err, invitations.ErrInvitationNotFound) {
		t.Errorf("missing: %v", err)
	}
	if list, _ := r.ListPendingForBag(ctx, "b1"); len(list) != 0 {
		t.Errorf("accepted invitation still pending: %+v", list)
	}

	_ = r.DeleteForBagAndEmail(ctx, "b2", "a@example.com")
	if _, err := r.Get(ctx, other.ID); !errors.Is(err, invitations.ErrInvitationNotFound) {
		t.Errorf("DeleteForBagAndEmail: %v", err)
	}
	_ = r.DeleteForBag(ctx, "b1")
	if err := r.Delete(ctx, inv.ID); !errors.Is(err, invitations.ErrInvitationNotFound) {
		t.Errorf("DeleteForBag left %s: %v", inv.ID, err)
	}
}

func testRequests(t *testing.T, r requests.Repo) {
	ctx := context.Background()
	req := &requests.AccessRequest{BagID: "b1", UID: "u1", Email: "a@example.com", Status: requests.StatusPending}
	if err := r.Upsert(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := r.SetStatus(ctx, "b1", "u1", requests.StatusDenied); err != nil {
		t.Fatal(err)
	}
	if list, _ := r.ListPendingForBag(ctx, "b1"); len(list) != 0 {
		t.Errorf("denied request listed as pending")
	}

	again := &requests.AccessRequest{BagID: "b1", UID: "u1", Email: "a@example.com", Status: requests.StatusPending}
	if err := r.Upsert(ctx, again); err != nil {
		t.Fatal(err)
	}
	if list, _ := r.ListPendingForUser(ctx, "u1"); len(list) != 1 {
		t.Errorf("upsert did not reset to pending: %+v", list)
	}

	if err := r.SetStatus(ctx, "b1", "nobody", requests.StatusApproved); !errors.Is(err, requests.ErrRequestNotFound) {
		t.Errorf("missing: %v", err)
	}
	_ = r.DeleteForBag(ctx, "b1")
	if _, err := r.Get(ctx, "b1", "u1"); !errors.Is(err, requests.ErrRequestNotFound) {
		t.Errorf("DeleteForBag: %v", err)
	}
}

func testNotifications(t *testing.T, r notifications.Repo) {
	ctx := context.Background()
	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		n := &notifications.Notification{
			UserID:    "u1",
			Type:      notifications.Kicked,
			Message:   fmt.Sprintf("n%d", i),
			Metadata:  map[string]string{"bagId": "b1"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := r.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	_ = r.Create(ctx, &notifications.Notification{UserID: "u2", Type: notifications.Kicked})

	list, err := r.ListForUser(ctx, "u1", 2)
	if err != nil || len(list) != 2 || list[0].Message != "n2" || list[0].Metadata["bagId"] != "b1" {
		t.Fatalf("ListForUser = %+v, %v", list, err)
	}

	n, err := r.MarkRead(ctx, "u2", ids)
	if err != nil || n != 0 {
		t.Errorf("marked someone else's notifications: %d, %v", n, err)
	}
	n, _ = r.MarkRead(ctx, "u1", ids[:2])
	if n != 2 {
		t.Errorf("MarkRead = %d, want 2", n)
	}
	n, _ = r.MarkRead(ctx, "u1", ids[:2])
	if n != 0 {
		t.Errorf("MarkRead twice = %d, want 0", n)
	}
}

func testChat(t *testing.T, r chat.Repo) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := r.Append(ctx, &chat.Message{BagID: "b1", Text: fmt.Sprintf("m%d", i), UID: "u1"}); err != nil {
			t.Fatal(err)
		}
	}
	_ = r.Append(ctx, &chat.Message{BagID: "b2", Text: "elsewhere"})

	recent, err := r.ListRecent(ctx, "b1", 3)
	if err != nil || len(recent) != 3 || recent[0].Text != "m2" || recent[2].Text != "m4" {
		t.Fatalf("ListRecent = %+v, %v", recent, err)
	}
	all, _ := r.ListAll(ctx, "b1")
	if len(all) != 5 || all[0].Text != "m0" {
		t.Errorf("ListAll = %+v", all)
	}

	_ = r.DeleteForBag(ctx, "b1")
	if all, _ := r.ListAll(ctx, "b1"); len(all) != 0 {
		t.Errorf("DeleteForBag left %d messages", len(all))
	}
	if all, _ := r.ListAll(ctx, "b2"); len(all) != 1 {
		t.Errorf("other bag affected")
	}
}
