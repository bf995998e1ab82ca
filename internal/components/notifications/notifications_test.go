package notifications_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// flakyRepo fails the first failures Create calls.
type flakyRepo struct {
	*notifications.MemoryRepo
	failures atomic.Int32
	calls    atomic.Int32
}

func (r *flakyRepo) Create(ctx context.Context, n *notifications.Notification) error {
	r.calls.Add(1)
	if r.failures.Add(-1) >= 0 {
		return errors.New("store unavailable")
	}
	return r.MemoryRepo.Create(ctx, n)
}

func TestDispatcher_RetriesThenStores(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: notifications.NewMemoryRepo()}
	repo.failures.Store(2)

	d := notifications.NewDispatcher(repo, notifications.DispatcherConfig{
		Workers: 1, MaxTries: 5, InitialInterval: time.Millisecond,
	}, testLogger)

	d.Notify(context.Background(), "uid-host", notifications.InviteAccepted, "guest@example.com joined Trip", map[string]string{"bagId": "b1"})
	_ = d.Close()

	list, _ := repo.ListForUser(context.Background(), "uid-host", 10)
	if len(list) != 1 || list[0].Message != "guest@example.com joined Trip" {
		t.Fatalf("unexpected notifications %+v", list)
	}
	if repo.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", repo.calls.Load())
	}
}

func TestDispatcher_GivesUpSilently(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: notifications.NewMemoryRepo()}
	repo.failures.Store(100)

	d := notifications.NewDispatcher(repo, notifications.DispatcherConfig{
		Workers: 1, MaxTries: 2, InitialInterval: time.Millisecond,
	}, testLogger)
	d.Notify(context.Background(), "uid-host", notifications.Kicked, "You have been removed from Trip", nil)
	_ = d.Close()

	if repo.calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", repo.calls.Load())
	}
}

func TestDispatcher_SurvivesCancelledRequestContext(t *testing.T) {
	repo := notifications.NewMemoryRepo()
	d := notifications.NewDispatcher(repo, notifications.DispatcherConfig{Workers: 1}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, "uid-1", notifications.RequestReceived, "someone wants in", nil)
	cancel()
	_ = d.Close()

	if list, _ := repo.ListForUser(context.Background(), "uid-1", 10); len(list) != 1 {
		t.Errorf("expected delivery after request ended, got %d", len(list))
	}
}

func TestDispatcher_NotifyAfterCloseIsDropped(t *testing.T) {
	repo := notifications.NewMemoryRepo()
	d := notifications.NewDispatcher(repo, notifications.DispatcherConfig{}, testLogger)
	_ = d.Close()
	_ = d.Close()

	d.Notify(context.Background(), "uid-1", notifications.Kicked, "x", nil)
	if list, _ := repo.ListForUser(context.Background(), "uid-1", 10); len(list) != 0 {
		t.Error("notification stored after close")
	}
}

func TestDispatcher_ConcurrentNotify(t *testing.T) {
	repo := notifications.NewMemoryRepo()
	d := notifications.NewDispatcher(repo, notifications.DispatcherConfig{Workers: 4, QueueSize: 100}, testLogger)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Notify(context.Background(), "uid-host", notifications.RequestReceived, "r", nil)
		}()
	}
	wg.Wait()
	_ = d.Close()

	if list, _ := repo.ListForUser(context.Background(), "uid-host", 0); len(list) != 50 {
		t.Errorf("expected 50, got %d", len(list))
	}
}

func TestService_ListNewestFirstLimited(t *testing.T) {
	repo := notifications.NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		_ = repo.Create(ctx, &notifications.Notification{
			UserID: "u1", Type: notifications.RequestReceived, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	_ = repo.Create(ctx, &notifications.Notification{UserID: "u2", Type: notifications.Kicked})

	list, err := notifications.NewService(repo).List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != notifications.ListLimit {
		t.Fatalf("expected %d, got %d", notifications.ListLimit, len(list))
	}
	if !list[0].CreatedAt.Equal(base.Add(24 * time.Minute)) {
		t.Errorf("newest first violated: %v", list[0].CreatedAt)
	}
}

func TestService_MarkReadOnlyOwn(t *testing.T) {
	repo := notifications.NewMemoryRepo()
	ctx := context.Background()
	mine := &notifications.Notification{UserID: "u1", Type: notifications.Kicked}
	theirs := &notifications.Notification{UserID: "u2", Type: notifications.Kicked}
	_ = repo.Create(ctx, mine)
	_ = repo.Create(ctx, theirs)

	svc := notifications.NewService(repo)
	n, err := svc.MarkRead(ctx, "u1", []string{mine.ID, theirs.ID})
	if err != nil || n != 1 {
		t.Fatalf("MarkRead = %d, %v", n, err)
	}
	other, _ := repo.ListForUser(ctx, "u2", 0)
	if other[0].Read {
		t.Error("another user's notification was marked read")
	}

	if _, err := svc.MarkRead(ctx, "u1", nil); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty ids: got %v", err)
	}
}

func TestDirect_SwallowsErrors(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: notifications.NewMemoryRepo()}
	repo.failures.Store(1)
	notifications.Direct{Repo: repo, Log: testLogger}.Notify(context.Background(), "u1", notifications.Kicked, "x", nil)
}
