package redislimiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a Redis-backed sliding window limiter using one ZSET per (bucket, caller),
// so every process behind the same Redis shares the budget.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	limits map[string]Limit
	now    func() time.Time
}

// New constructs a limiter. A "default" entry applies to buckets without their own limit.
func New(rdb *redis.Client, prefix string, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	if prefix == "" {
		prefix = "tokengate:rl:"
	}
	return &Limiter{rdb: rdb, prefix: prefix, limits: limits, now: time.Now}
}

func (l *Limiter) limit(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// Allow records one attempt for key in bucket and reports whether it is within the limit.
// Denied attempts are removed again so they do not extend the window.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("bucket and key required")
	}
	lim := l.limit(bucket)
	now := l.now().UnixMilli()
	start := now - lim.Window.Milliseconds()
	limitKey := l.prefix + bucket + ":" + key
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, limitKey, "-inf", strconv.FormatInt(start, 10))
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.PExpire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if countCmd.Val() > int64(lim.Limit) {
		if err := l.rdb.ZRem(ctx, limitKey, member).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
