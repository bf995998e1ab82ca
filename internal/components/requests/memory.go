package requests

import (
	"context"
	"sort"
	"sync"
	"time"
)

type key struct{ bagID, uid string }

// MemoryRepo keeps requests in a map keyed by (bag, user).
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[key]*AccessRequest
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[key]*AccessRequest)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, req *AccessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	c := *req
	r.items[key{req.BagID, req.UID}] = &c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, bagID, uid string) (*AccessRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.items[key{bagID, uid}]
	if !ok {
		return nil, ErrRequestNotFound
	}
	c := *req
	return &c, nil
}

func (r *MemoryRepo) pending(match func(*AccessRequest) bool) []*AccessRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*AccessRequest{}
	for _, req := range r.items {
		if req.Status == StatusPending && match(req) {
			c := *req
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) ListPendingForBag(ctx context.Context, bagID string) ([]*AccessRequest, error) {
	return r.pending(func(req *AccessRequest) bool { return req.BagID == bagID }), nil
}

func (r *MemoryRepo) ListPendingForUser(ctx context.Context, uid string) ([]*AccessRequest, error) {
	return r.pending(func(req *AccessRequest) bool { return req.UID == uid }), nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, bagID, uid string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[key{bagID, uid}]
	if !ok {
		return ErrRequestNotFound
	}
	req.Status = status
	return nil
}

func (r *MemoryRepo) DeleteForBag(ctx context.Context, bagID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.items {
		if k.bagID == bagID {
			delete(r.items, k)
		}
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
