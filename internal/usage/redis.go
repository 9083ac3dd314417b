package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// DefaultKeyPrefix namespaces the usage keys in Redis.
const DefaultKeyPrefix = "tryon:usage"

const (
	dayKeyTTL   = 48 * time.Hour
	monthKeyTTL = 32 * 24 * time.Hour
)

// RedisCounter shares counters between processes. Daily and monthly
// counts live under date-stamped keys, so rollover needs no reset and each
// increment is a single atomic INCR.
type RedisCounter struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisCounter creates a counter over rdb. An empty prefix selects
// DefaultKeyPrefix.
func NewRedisCounter(rdb redis.Cmdable, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCounter{rdb: rdb, prefix: prefix}
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", addr, err)
	}
	return rdb, nil
}

// counterKeys are the Redis keys touched for a moment in time.
type counterKeys struct {
	total, errors, last, day, month string
}

func (c *RedisCounter) keys(at time.Time) counterKeys {
	at = at.UTC()
	return counterKeys{
		total:  c.prefix + ":total",
		errors: c.prefix + ":errors",
		last:   c.prefix + ":last",
		day:    c.prefix + ":day:" + at.Format("2006-01-02"),
		month:  c.prefix + ":month:" + at.Format("2006-01"),
	}
}

// Record implements Counter.
func (c *RedisCounter) Record(ctx context.Context, at time.Time, failed bool) error {
	k := c.keys(at)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k.total)
		pipe.Incr(ctx, k.day)
		pipe.Expire(ctx, k.day, dayKeyTTL)
		pipe.Incr(ctx, k.month)
		pipe.Expire(ctx, k.month, monthKeyTTL)
		if failed {
			pipe.Incr(ctx, k.errors)
		}
		pipe.Set(ctx, k.last, at.UnixMilli(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record usage in redis: %w", err)
	}
	return nil
}

// Stats implements Counter.
func (c *RedisCounter) Stats(ctx context.Context, now time.Time) (model.UsageStats, error) {
	k := c.keys(now)
	vals, err := c.rdb.MGet(ctx, k.day, k.month, k.total, k.errors, k.last).Result()
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("failed to read usage from redis: %w", err)
	}
	return statsFromValues(vals)
}

// statsFromValues decodes an MGET reply ordered day, month, total, errors, last.
func statsFromValues(vals []any) (model.UsageStats, error) {
	if len(vals) != 5 {
		return model.UsageStats{}, fmt.Errorf("unexpected MGET reply length %d", len(vals))
	}
	n := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return model.UsageStats{}, fmt.Errorf("unexpected redis value type %T", v)
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.UsageStats{}, fmt.Errorf("invalid counter value %q: %w", s, err)
		}
		n[i] = parsed
	}

	stats := model.UsageStats{
		RequestsToday:     n[0],
		RequestsThisMonth: n[1],
		TotalRequests:     n[2],
		ErrorCount:        n[3],
	}
	if n[4] > 0 {
		stats.LastRequestAt = time.UnixMilli(n[4]).UTC()
	}
	return stats, nil
}
