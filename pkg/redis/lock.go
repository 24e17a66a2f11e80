package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"feepay/pkg/logger"
)

// ErrLockNotAcquired 锁已被占用
var ErrLockNotAcquired = errors.New("redis: lock not acquired")

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock SETNX 加锁，成功时返回释放函数；锁到期自动释放
func (rds *RedisClient) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := rds.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := unlockScript.Run(ctx, rds.Client, []string{key}, token).Err(); err != nil {
			logger.WarnString("Redis", "Unlock", err.Error())
		}
	}, nil
}
