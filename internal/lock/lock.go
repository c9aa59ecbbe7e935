// Package lock provides the cycle lease that keeps several cmmsd processes
// sharing one database from running a maintenance cycle at the same time.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Release gives a lease back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker hands out exclusive, expiring leases by key.
type Locker interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

// Config selects the lock backend.
type Config struct {
	Driver    string // "local" (default) or "redis"
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// New builds the configured Locker.
func New(cfg Config) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "local", "none":
		return NewLocal(), nil
	case "redis":
		return NewRedis(cfg)
	default:
		return nil, errors.New("unknown lock driver: " + cfg.Driver)
	}
}

// Local is an in-process Locker. Leases expire after ttl even if never
// released.
type Local struct {
	mu   sync.Mutex
	held map[string]localLease
	seq  uint64
}

type localLease struct {
	id    uint64
	until time.Time
}

func NewLocal() *Local { return &Local{held: map[string]localLease{}} }

func (l *Local) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && now.Before(cur.until) {
		return nil, false, nil
	}
	l.seq++
	id := l.seq
	until := now.Add(ttl)
	if ttl <= 0 {
		until = now.Add(100 * 365 * 24 * time.Hour)
	}
	l.held[key] = localLease{id: id, until: until}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			if cur, ok := l.held[key]; ok && cur.id == id {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}
