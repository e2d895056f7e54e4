package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker implements SlotLocker on a shared Redis instance for
// deployments where the engine runs on more than one node. SET NX PX is the
// acquire; release deletes the key only if this holder still owns it.
type RedisLocker struct {
	rdb *redis.Client
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (func(), error) {
	owner := uuid.NewString()
	redisKey := "slotlock:" + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, owner, hold).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.rdb, []string{redisKey}, owner).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		if err := sleepRetry(ctx); err != nil {
			return nil, err
		}
	}
}
