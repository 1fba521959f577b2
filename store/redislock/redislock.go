/*
Package redislock provides a Redis-backed payroll.Mutex.

PURPOSE:
  Serialises lock/unlock of one period across server instances. The store's
  version guard already makes concurrent transitions safe; the mutex turns a
  lost race into an immediate ErrLockBusy instead of a rolled-back
  transaction.

PROTOCOL:
  Acquire: SET key token NX PX ttl
  Release: compare-and-delete through a Lua script, so a holder whose lease
           expired never deletes the key of the next holder.
*/
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder can block a period.
const DefaultTTL = 30 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect creates a Redis client and verifies it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redislock: ping: %w", err)
	}

	return client, nil
}

type Mutex struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

var _ payroll.Mutex = (*Mutex)(nil)

// New returns a mutex using client. A non-positive ttl selects DefaultTTL.
func New(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Mutex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutex{client: client, ttl: ttl, logger: logger}
}

// Acquire takes the key or fails with payroll.ErrLockBusy.
func (m *Mutex) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, payroll.ErrLockBusy)
	}

	release := func() {
		// The caller's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
			m.logger.Warn("redislock: release failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}
