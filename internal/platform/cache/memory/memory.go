// Package memory provides the in-process cache driver. It backs consent
// state, JWKS documents and rate-limit windows on single-node deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	svccfg "github.com/drivebags/drivebags-go/internal/frameworks/service/cfg"
	"github.com/drivebags/drivebags-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("memory", func(config map[string]any) (cache.CacheWithCounter, error) {
		var c Config
		if err := svccfg.Decode(config, &c); err != nil {
			return nil, fmt.Errorf("memory cache config: %w", err)
		}
		return New(time.Duration(c.DefaultTTLSeconds)*time.Second, time.Duration(c.CleanupIntervalSeconds)*time.Second), nil
	})
}

// Config is the [cache.drivers.memory] section.
type Config struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DefaultTTLSeconds <= 0 {
		c.DefaultTTLSeconds = 900
	}
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
}

type entry[T any] struct {
	val      T
	deadline time.Time
}

func (e entry[T]) live(now time.Time) bool { return now.Before(e.deadline) }

// table is a TTL map guarded by the owning Cache's lock.
type table[T any] map[string]entry[T]

func (t table[T]) sweep(now time.Time) int {
	n := 0
	for k, e := range t {
		if !e.live(now) {
			delete(t, k)
			n++
		}
	}
	return n
}

// Cache keeps documents and counters in separate tables so that a counter
// key never shadows a stored document of the same name.
type Cache struct {
	mu       sync.RWMutex
	docs     table[[]byte]
	counters table[int64]
	ttl      time.Duration
	now      func() time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a cache whose zero-TTL writes use defaultTTL. A positive
// sweepEvery starts a janitor goroutine that Close stops.
func New(defaultTTL, sweepEvery time.Duration) *Cache {
	c := &Cache{
		docs:     table[[]byte]{},
		counters: table[int64]{},
		ttl:      defaultTTL,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.janitor(sweepEvery)
	}
	return c
}

func (c *Cache) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.mu.Lock()
			now := c.now()
			c.docs.sweep(now)
			c.counters.sweep(now)
			c.mu.Unlock()
		}
	}
}

func (c *Cache) deadline(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.now().Add(ttl)
}

// Get returns a copy of the stored document. Documents past their deadline
// but not yet swept report cache.ErrExpired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.docs[key]
	c.mu.RUnlock()
	switch {
	case !ok:
		return nil, cache.ErrNotFound
	case !e.live(c.now()):
		return nil, cache.ErrExpired
	}
	return slices.Clone(e.val), nil
}

// Set stores a copy of value.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry[[]byte]{val: slices.Clone(value), deadline: c.deadline(ttl)}
	c.mu.Lock()
	c.docs[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.docs, key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	e, ok := c.docs[key]
	c.mu.RUnlock()
	return ok && e.live(c.now()), nil
}

// Increment implements a fixed window: the first hit after expiry opens a
// new window of length ttl, later hits only add to it.
func (c *Cache) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.counters[key]
	if !ok || !e.live(c.now()) {
		e = entry[int64]{deadline: c.deadline(ttl)}
	}
	e.val += delta
	c.counters[key] = e
	return e.val, e.deadline, nil
}

func (c *Cache) GetCount(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	e, ok := c.counters[key]
	c.mu.RUnlock()
	if !ok || !e.live(c.now()) {
		return 0, nil
	}
	return e.val, nil
}

func (c *Cache) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.counters, key)
	c.mu.Unlock()
	return nil
}

// Close stops the janitor. It is idempotent.
func (c *Cache) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
