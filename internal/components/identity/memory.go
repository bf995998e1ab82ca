package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryUserRepo stores users in memory with an email index.
type MemoryUserRepo struct {
	mu      sync.RWMutex
	users   map[string]*User  // by uid
	byEmail map[string]string // email -> uid
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepo) Touch(ctx context.Context, p Principal) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[p.UID]
	if !ok {
		u = &User{UID: p.UID, Email: p.Email, CreatedAt: time.Now()}
		r.users[p.UID] = u
		r.byEmail[p.Email] = p.UID
	} else if u.Email != p.Email {
		delete(r.byEmail, u.Email)
		u.Email = p.Email
		r.byEmail[p.Email] = p.UID
	}

	c := *u
	return &c, nil
}

func (r *MemoryUserRepo) Get(ctx context.Context, uid string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[uid]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uid, ok := r.byEmail[email]
	if !ok || email == "" {
		return nil, ErrUserNotFound
	}
	c := *r.users[uid]
	return &c, nil
}

func (r *MemoryUserRepo) SetDriveCredential(ctx context.Context, uid, ciphertext string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	u.EncryptedDriveCredential = ciphertext
	u.DriveConnectedAt = &at
	return nil
}

func (r *MemoryUserRepo) ClearDriveCredential(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	u.EncryptedDriveCredential = ""
	u.DriveConnectedAt = nil
	return nil
}

var _ UserRepo = (*MemoryUserRepo)(nil)
