package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps messages per bag in append order.
type MemoryRepo struct {
	mu    sync.RWMutex
	byBag map[string][]Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byBag: make(map[string][]Message)}
}

func (r *MemoryRepo) Append(ctx context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r.byBag[m.BagID] = append(r.byBag[m.BagID], *m)
	return nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, bagID string, limit int) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.byBag[bagID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return copyMessages(all), nil
}

func (r *MemoryRepo) ListAll(ctx context.Context, bagID string) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMessages(r.byBag[bagID]), nil
}

func (r *MemoryRepo) DeleteForBag(ctx context.Context, bagID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byBag, bagID)
	return nil
}

func copyMessages(in []Message) []*Message {
	out := make([]*Message, len(in))
	for i := range in {
		m := in[i]
		out[i] = &m
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
