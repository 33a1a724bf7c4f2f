package bans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one key per banned address. The key expires together
// with the ban, so Redis itself discards finished bans.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store whose keys start with prefix.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, "chatrelay:bans:")
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Save records addr with the ban's remaining time as the key TTL.
func (r *RedisStore) Save(ctx context.Context, addr string, ttl time.Duration) error {
	until := time.Now().Add(ttl).Unix()
	if err := r.client.Set(ctx, r.prefix+addr, until, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save ban: %w", err)
	}
	return nil
}

// Delete removes addr.
func (r *RedisStore) Delete(ctx context.Context, addr string) error {
	if err := r.client.Del(ctx, r.prefix+addr).Err(); err != nil {
		return fmt.Errorf("failed to delete ban: %w", err)
	}
	return nil
}

// Load scans the prefix and returns each address with its remaining TTL.
// Keys without a TTL or already expired are skipped.
func (r *RedisStore) Load(ctx context.Context) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, r.prefix) {
			continue
		}

		ttl, err := r.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read ban ttl: %w", err)
		}
		if ttl <= 0 {
			continue
		}

		out[strings.TrimPrefix(key, r.prefix)] = ttl
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan bans: %w", err)
	}

	return out, nil
}
