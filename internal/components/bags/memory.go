package bags

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores bags in memory. Each method holds the lock for the
// whole mutation, which gives the same atomicity as the SQL primitives.
type MemoryRepo struct {
	mu   sync.RWMutex
	bags map[string]*Bag
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{bags: make(map[string]*Bag)}
}

func clone(b *Bag) *Bag {
	c := *b
	c.InvitedEmails = slices.Clone(b.InvitedEmails)
	if c.InvitedEmails == nil {
		c.InvitedEmails = []string{}
	}
	return &c
}

func (r *MemoryRepo) Create(ctx context.Context, bag *Bag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bag.ID == "" {
		bag.ID = uuid.New().String()
	}
	if bag.CreatedAt.IsZero() {
		bag.CreatedAt = time.Now()
	}
	r.bags[bag.ID] = clone(bag)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Bag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bags[id]
	if !ok {
		return nil, ErrBagNotFound
	}
	return clone(b), nil
}

func (r *MemoryRepo) list(match func(*Bag) bool) []*Bag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Bag
	for _, b := range r.bags {
		if match(b) {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) ListByHost(ctx context.Context, hostUID string) ([]*Bag, error) {
	return r.list(func(b *Bag) bool { return b.HostUID == hostUID }), nil
}

func (r *MemoryRepo) ListByMember(ctx context.Context, key string) ([]*Bag, error) {
	return r.list(func(b *Bag) bool { return b.HasMember(key) }), nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, u Update) (*Bag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bags[id]
	if !ok {
		return nil, ErrBagNotFound
	}
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.AccessType != nil {
		b.AccessType = *u.AccessType
	}
	if u.ClearMembers {
		b.InvitedEmails = []string{}
	}
	return clone(b), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bags[id]; !ok {
		return ErrBagNotFound
	}
	delete(r.bags, id)
	return nil
}

func (r *MemoryRepo) AddMember(ctx context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bags[id]
	if !ok {
		return ErrBagNotFound
	}
	if !b.HasMember(key) {
		b.InvitedEmails = append(b.InvitedEmails, key)
	}
	return nil
}

func (r *MemoryRepo) RemoveMember(ctx context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bags[id]
	if !ok {
		return ErrBagNotFound
	}
	b.InvitedEmails = slices.DeleteFunc(b.InvitedEmails, func(m string) bool { return m == key })
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
