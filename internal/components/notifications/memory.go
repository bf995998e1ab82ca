package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps notifications in memory, indexed by recipient.
type MemoryRepo struct {
	mu     sync.RWMutex
	byUser map[string][]*Notification
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byUser: make(map[string][]*Notification)}
}

func (r *MemoryRepo) Create(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	c := *n
	r.byUser[n.UserID] = append(r.byUser[n.UserID], &c)
	return nil
}

func (r *MemoryRepo) ListForUser(ctx context.Context, uid string, limit int) ([]*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.byUser[uid]
	out := make([]*Notification, len(all))
	for i, n := range all {
		c := *n
		out[i] = &c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkRead(ctx context.Context, uid string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for _, notif := range r.byUser[uid] {
		if want[notif.ID] && !notif.Read {
			notif.Read = true
			n++
		}
	}
	return n, nil
}

var _ Repo = (*MemoryRepo)(nil)
