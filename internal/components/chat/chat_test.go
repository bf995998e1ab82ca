package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
	"github.com/drivebags/drivebags-go/internal/components/storage/memory"
	"github.com/drivebags/drivebags-go/internal/components/vault"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

var (
	host     = identity.Principal{UID: "uid-host", Email: "host@example.com"}
	member   = identity.Principal{UID: "uid-bob", Email: "bob@example.com"}
	stranger = identity.Principal{UID: "uid-eve", Email: "eve@example.com"}
)

func setup(t *testing.T) (*chat.Service, *memory.Provider, *bags.Bag) {
	t.Helper()
	ctx := context.Background()

	box, err := vault.NewBox(make([]byte, vault.MasterKeySize))
	if err != nil {
		t.Fatal(err)
	}
	users := identity.NewMemoryUserRepo()
	mem := memory.New()
	v := vault.New(box, users, mem, testLogger)
	if err := v.Connect(ctx, host, "host-code"); err != nil {
		t.Fatal(err)
	}

	sink := notifications.Direct{Repo: notifications.NewMemoryRepo()}
	mgr := bags.NewManager(bags.NewMemoryRepo(), v, sink, testLogger)
	bag, err := mgr.Create(ctx, host, bags.CreateInput{Name: "Trip", AccessType: "invite", InvitedEmails: []string{member.Email}})
	if err != nil {
		t.Fatal(err)
	}
	return chat.NewService(chat.NewMemoryRepo(), mgr, testLogger), mem, bag
}

func TestPostAndList(t *testing.T) {
	svc, _, bag := setup(t)
	ctx := context.Background()

	for i := 0; i < chat.HistoryLimit+5; i++ {
		if _, err := svc.Post(ctx, bag.ID, member, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	msgs, err := svc.List(ctx, bag.ID, host)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != chat.HistoryLimit {
		t.Fatalf("got %d messages, want %d", len(msgs), chat.HistoryLimit)
	}
	if msgs[0].Text != "msg 5" || msgs[len(msgs)-1].Text != fmt.Sprintf("msg %d", chat.HistoryLimit+4) {
		t.Errorf("window = %q .. %q", msgs[0].Text, msgs[len(msgs)-1].Text)
	}
	if msgs[0].UID != member.UID || msgs[0].Email != member.Email {
		t.Errorf("author not recorded: %+v", msgs[0])
	}
}

func TestPost_Rejections(t *testing.T) {
	svc, _, bag := setup(t)
	ctx := context.Background()

	if _, err := svc.Post(ctx, bag.ID, member, "  \n"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("blank text: got %v", err)
	}
	if _, err := svc.Post(ctx, bag.ID, stranger, "hi"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("stranger post: got %v", err)
	}
	if _, err := svc.List(ctx, bag.ID, stranger); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("stranger read: got %v", err)
	}
}

func TestSync_CreatesThenUpdates(t *testing.T) {
	svc, mem, bag := setup(t)
	ctx := context.Background()

	n, err := svc.Sync(ctx, bag.ID, member)
	if err != nil || n != 0 {
		t.Fatalf("empty sync = %d, %v", n, err)
	}

	_, _ = svc.Post(ctx, bag.ID, member, "one")
	if n, err := svc.Sync(ctx, bag.ID, member); err != nil || n != 1 {
		t.Fatalf("first sync = %d, %v", n, err)
	}
	_, _ = svc.Post(ctx, bag.ID, host, "two")
	if n, err := svc.Sync(ctx, bag.ID, host); err != nil || n != 2 {
		t.Fatalf("second sync = %d, %v", n, err)
	}

	c, _ := mem.ClientFor(ctx, "refresh-host-code")
	list, _ := c.ListFolder(ctx, bag.FolderRef)
	if len(list) != 1 || list[0].Name != chat.TranscriptName {
		t.Fatalf("folder = %+v", list)
	}

	raw, _ := mem.Content(list[0].ID)
	var got []map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("transcript is not JSON: %v", err)
	}
	if len(got) != 2 || got[1]["text"] != "two" {
		t.Errorf("transcript = %v", got)
	}
}

func TestSync_StrangerDenied(t *testing.T) {
	svc, _, bag := setup(t)
	if _, err := svc.Sync(context.Background(), bag.ID, stranger); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("got %v", err)
	}
}
