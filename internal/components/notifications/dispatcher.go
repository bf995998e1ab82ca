package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/drivebags/drivebags-go/internal/platform/appctx"
	"github.com/drivebags/drivebags-go/internal/platform/logutil"
)

// DispatcherConfig is the [notifications] section.
type DispatcherConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"-"`
}

// ApplyDefaults implements cfg.Setter.
func (c *DispatcherConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
}

type job struct {
	ctx context.Context
	n   *Notification
}

// Dispatcher writes notifications on background workers, retrying store
// failures with exponential backoff. Notify never blocks: when the queue is
// full the notification is dropped and logged.
type Dispatcher struct {
	repo  Repo
	cfg   DispatcherConfig
	log   *slog.Logger
	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts cfg.Workers workers.
func NewDispatcher(repo Repo, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	cfg.ApplyDefaults()
	d := &Dispatcher{
		repo:  repo,
		cfg:   cfg,
		log:   logutil.NoopIfNil(log),
		queue: make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify implements Sink.
func (d *Dispatcher) Notify(ctx context.Context, recipientUID string, typ Type, message string, metadata map[string]string) {
	if recipientUID == "" {
		return
	}
	n := &Notification{
		UserID:    recipientUID,
		Type:      typ,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped after shutdown", "type", typ, "recipient", recipientUID)
		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
	default:
		appctx.GetLogger(ctx).Warn("notification queue full, dropping", "type", typ, "recipient", recipientUID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval

	_, err := backoff.Retry(j.ctx, func() (struct{}, error) {
		return struct{}{}, d.repo.Create(j.ctx, j.n)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.cfg.MaxTries))
	if err != nil {
		d.log.Warn("notification not stored", "type", j.n.Type, "recipient", j.n.UserID, "error", err)
	}
}

// Close stops accepting notifications and waits for queued ones.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// Direct is the synchronous sink: it stores each notification before
// Notify returns and logs failures. Tests and single-step tools use it in
// place of a Dispatcher.
type Direct struct {
	Repo Repo
	Log  *slog.Logger
}

// Notify implements Sink.
func (s Direct) Notify(ctx context.Context, recipientUID string, typ Type, message string, metadata map[string]string) {
	if recipientUID == "" {
		return
	}
	err := s.Repo.Create(ctx, &Notification{UserID: recipientUID, Type: typ, Message: message, Metadata: metadata})
	if err != nil {
		logutil.NoopIfNil(s.Log).Warn("notification not stored", "type", typ, "recipient", recipientUID, "error", err)
	}
}

var (
	_ Sink = (*Dispatcher)(nil)
	_ Sink = Direct{}
)
