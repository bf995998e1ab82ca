package invitations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps invitations in a map.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]*Invitation
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]*Invitation)}
}

func (r *MemoryRepo) Create(ctx context.Context, inv *Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	c := *inv
	r.byID[inv.ID] = &c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.byID[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	c := *inv
	return &c, nil
}

func (r *MemoryRepo) pending(match func(*Invitation) bool) []*Invitation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*Invitation{}
	for _, inv := range r.byID {
		if inv.Status == StatusPending && match(inv) {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) ListPendingForBag(ctx context.Context, bagID string) ([]*Invitation, error) {
	return r.pending(func(inv *Invitation) bool { return inv.BagID == bagID }), nil
}

func (r *MemoryRepo) ListPendingForEmail(ctx context.Context, email string) ([]*Invitation, error) {
	return r.pending(func(inv *Invitation) bool { return inv.ToEmail == email }), nil
}

func (r *MemoryRepo) FindPending(ctx context.Context, bagID, email string) (*Invitation, bool, error) {
	found := r.pending(func(inv *Invitation) bool { return inv.BagID == bagID && inv.ToEmail == email })
	if len(found) == 0 {
		return nil, false, nil
	}
	return found[0], true, nil
}

func (r *MemoryRepo) SetStatusIfPending(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.byID[id]
	if !ok {
		return ErrInvitationNotFound
	}
	if inv.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	inv.Status = status
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrInvitationNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepo) deleteWhere(match func(*Invitation) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, inv := range r.byID {
		if match(inv) {
			delete(r.byID, id)
		}
	}
}

func (r *MemoryRepo) DeleteForBag(ctx context.Context, bagID string) error {
	r.deleteWhere(func(inv *Invitation) bool { return inv.BagID == bagID })
	return nil
}

func (r *MemoryRepo) DeleteForBagAndEmail(ctx context.Context, bagID, email string) error {
	r.deleteWhere(func(inv *Invitation) bool { return inv.BagID == bagID && inv.ToEmail == email })
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
