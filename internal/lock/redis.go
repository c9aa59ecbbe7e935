package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that was taken over by another process is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end`)

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	owner  bool
}

// NewRedis dials a client from cfg. Close releases it.
func NewRedis(cfg Config) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis lock: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	r := NewRedisClient(rdb, cfg.KeyPrefix)
	r.owner = true
	return r, nil
}

// NewRedisClient wraps an existing client. The caller keeps ownership.
func NewRedisClient(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "cmmsd:lock:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	full := r.prefix + key
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			rerr = releaseScript.Run(ctx, r.rdb, []string{full}, token).Err()
		})
		return rerr
	}, true, nil
}

func (r *Redis) Close() error {
	if r == nil || !r.owner {
		return nil
	}
	return r.rdb.Close()
}
