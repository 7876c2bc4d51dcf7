package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "login:attempts:"
	lockKeyPrefix    = "login:lock:"
)

// RedisThrottle はログイン試行回数の制限をRedisに記録します。
// プロセス内のメモリではなくRedisに置くことで、複数インスタンスで
// 動かしても制限が共有されます。
type RedisThrottle struct {
	rdb         *redis.Client
	window      time.Duration // 試行回数をカウントする時間幅
	lockFor     time.Duration // ロック時間
	maxAttempts int
}

// NewRedisThrottle は RedisThrottle を作成します。
func NewRedisThrottle(rdb *redis.Client, window, lockFor time.Duration, maxAttempts int) *RedisThrottle {
	return &RedisThrottle{
		rdb:         rdb,
		window:      window,
		lockFor:     lockFor,
		maxAttempts: maxAttempts,
	}
}

// RetryAfter はロック中であれば解除までの時間を返します。ロックされて
// いなければ 0 を返します。
func (t *RedisThrottle) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.rdb.TTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		// キーが無い、または有効期限なし扱いのときはロックなしとみなす
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗を1回分カウントし、残り試行回数を返します。
// 上限に達した場合はロックキーを設定します。
func (t *RedisThrottle) RecordFailure(ctx context.Context, key string) (int, error) {
	attemptKey := attemptKeyPrefix + key

	count, err := t.rdb.Incr(ctx, attemptKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// 最初の失敗からwindow分だけカウントを保持する
		if err := t.rdb.Expire(ctx, attemptKey, t.window).Err(); err != nil {
			return 0, err
		}
	}

	if count >= int64(t.maxAttempts) {
		if err := t.rdb.Set(ctx, lockKeyPrefix+key, 1, t.lockFor).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	remaining := t.maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset は成功時に試行記録を消します。
func (t *RedisThrottle) Reset(ctx context.Context, key string) error {
	return t.rdb.Del(ctx, attemptKeyPrefix+key, lockKeyPrefix+key).Err()
}
