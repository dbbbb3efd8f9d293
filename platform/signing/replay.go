package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers signatures for the length of the acceptance window.
type ReplayGuard interface {
	// FirstSeen returns true the first time key is recorded within ttl.
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard stores seen signatures with SETNX so every API replica shares them.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayGuard creates a guard storing keys under prefix.
func NewRedisReplayGuard(client *redis.Client, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "sigreplay:"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

func (g *RedisReplayGuard) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	sum := sha256.Sum256([]byte(key))
	return g.client.SetNX(ctx, g.prefix+hex.EncodeToString(sum[:]), 1, ttl).Result()
}
