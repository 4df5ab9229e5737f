package usage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisConfig locates the Redis instance holding the counters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBackend keeps the counters in Redis so every process shares one
// budget.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and pings it.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, eris.New("usage: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "usage: ping redis %s", addr)
	}
	return &RedisBackend{client: client}, nil
}

// Get reads both counters; missing keys count as zero.
func (b *RedisBackend) Get(ctx context.Context, callsKey, costKey string) (Snapshot, error) {
	vals, err := b.client.MGet(ctx, callsKey, costKey).Result()
	if err != nil {
		return Snapshot{}, err
	}

	var s Snapshot
	if v, ok := vals[0].(string); ok {
		if s.Calls, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Snapshot{}, eris.Wrapf(err, "usage: parse %s", callsKey)
		}
	}
	if v, ok := vals[1].(string); ok {
		if s.Cost, err = strconv.ParseFloat(v, 64); err != nil {
			return Snapshot{}, eris.Wrapf(err, "usage: parse %s", costKey)
		}
	}
	return s, nil
}

// Add increments both counters and refreshes their expiry in one
// MULTI/EXEC.
func (b *RedisBackend) Add(ctx context.Context, callsKey, costKey string, calls int64, cost float64, ttl time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, callsKey, calls)
		pipe.Expire(ctx, callsKey, ttl)
		pipe.IncrByFloat(ctx, costKey, cost)
		pipe.Expire(ctx, costKey, ttl)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Close closes the Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
