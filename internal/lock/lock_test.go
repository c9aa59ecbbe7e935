package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocal()

	rel, ok, err := l.TryLock(ctx, "cycle", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "cycle", time.Minute); ok {
		t.Fatal("second TryLock succeeded while held")
	}
	if _, ok, _ := l.TryLock(ctx, "other", time.Minute); !ok {
		t.Fatal("different key should not conflict")
	}
	_ = rel(ctx)
	_ = rel(ctx)
	if _, ok, _ := l.TryLock(ctx, "cycle", time.Minute); !ok {
		t.Fatal("TryLock after release failed")
	}
}

func TestLocalExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocal()
	stale, ok, _ := l.TryLock(ctx, "cycle", 10*time.Millisecond)
	if !ok {
		t.Fatal("TryLock failed")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := l.TryLock(ctx, "cycle", time.Minute); !ok {
		t.Fatal("expired lease still blocks")
	}
	// Releasing the stale lease must not drop the new holder.
	_ = stale(ctx)
	if _, ok, _ := l.TryLock(ctx, "cycle", time.Minute); ok {
		t.Fatal("stale release freed the current lease")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisClient(rdb, "test:")
}

func TestRedisLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, l := newTestRedis(t)

	rel, ok, err := l.TryLock(ctx, "cycle", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	if !mr.Exists("test:cycle") {
		t.Fatal("lease key not written")
	}
	if ttl := mr.TTL("test:cycle"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	if _, ok, err := l.TryLock(ctx, "cycle", time.Minute); ok || err != nil {
		t.Fatalf("contended TryLock = %v, %v", ok, err)
	}
	if err := rel(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:cycle") {
		t.Fatal("lease key not deleted")
	}
}

func TestRedisReleaseKeepsForeignLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, l := newTestRedis(t)

	rel, ok, _ := l.TryLock(ctx, "cycle", time.Second)
	if !ok {
		t.Fatal("TryLock failed")
	}
	// Lease expired and another process took it.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("test:cycle", "someone-else"); err != nil {
		t.Fatal(err)
	}
	if err := rel(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, _ := mr.Get("test:cycle"); v != "someone-else" {
		t.Fatalf("foreign lease removed, value=%q", v)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Driver: "zookeeper"}); err == nil {
		t.Fatal("expected error")
	}
	if l, err := New(Config{}); err != nil || l == nil {
		t.Fatalf("New(default) = %v, %v", l, err)
	}
}
