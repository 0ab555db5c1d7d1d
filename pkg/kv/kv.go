// Package kv wraps the short-lived key-value store. Every key written here
// carries a TTL; nothing in this package is durable state.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/questbridge/bot/pkg/config"
)

var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes a lock key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// KV provides lock, rate-limit and session operations.
type KV struct {
	client *redis.Client
}

// New connects to the key-value store and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig) (*KV, error) {
	opts, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid redis uri: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &KV{client: client}, nil
}

// Close releases the client's connections.
func (k *KV) Close() error {
	return k.client.Close()
}

// LockKey is the cross-instance serialization key for one (connection, user).
func LockKey(connectionID, chatUserID string) string {
	return fmt.Sprintf("lock:%s:%s", connectionID, chatUserID)
}

// RateKey buckets attempts per kind and subject.
func RateKey(kind, subject string) string {
	return fmt.Sprintf("rl:%s:%s", kind, subject)
}

// SessionKey namespaces short-lived interaction session state.
func SessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// AcquireLock takes a TTL-bounded lock. Returns the owner token when the
// lock was taken, or ok=false when another holder exists.
func (k *KV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := k.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock if the token still owns it. A lock that
// expired and was re-acquired elsewhere returns ErrNotHeld.
func (k *KV) ReleaseLock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, k.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// BucketCount reads the current counter for a rate-limit bucket without
// touching it. Missing buckets count as zero.
func (k *KV) BucketCount(ctx context.Context, key string) (int64, error) {
	n, err := k.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket: %w", err)
	}
	return n, nil
}

// BucketIncr increments a rate-limit bucket, starting the window on first
// use. The window TTL is set only when the bucket is created so the window
// edge stays fixed.
func (k *KV) BucketIncr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := k.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment bucket: %w", err)
	}
	return incr.Val(), nil
}

// PutSession stores a JSON-encoded session value with a TTL.
func (k *KV) PutSession(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := k.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession loads a session value into out. Returns redis.Nil-mapped
// ErrNotFound semantics via found=false.
func (k *KV) GetSession(ctx context.Context, key string, out any) (bool, error) {
	raw, err := k.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode session: %w", err)
	}
	return true, nil
}
