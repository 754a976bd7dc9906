package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

// DefaultKeyPrefix is the storage key snapshots are written under.
const DefaultKeyPrefix = "pageStates"

// Redis stores each session snapshot as one string key with a TTL that is
// refreshed on every save.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis constructs the Redis medium. A zero ttl keeps keys forever.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Factory returns the per-session medium.
func (r *Redis) Factory() pagestate.MediumFactory {
	return func(sessionID string) pagestate.Medium {
		return redisSlot{store: r, key: r.Key(sessionID)}
	}
}

// Key builds the Redis key of a session snapshot.
func (r *Redis) Key(sessionID string) string {
	return r.prefix + ":" + sessionID
}

// Delete removes a session snapshot.
func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.Key(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("storage/redis: delete: %w", err)
	}
	return nil
}

type redisSlot struct {
	store *Redis
	key   string
}

func (s redisSlot) Load(ctx context.Context) (string, bool, error) {
	raw, err := s.store.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage/redis: get: %w", err)
	}
	return raw, true, nil
}

func (s redisSlot) Save(ctx context.Context, raw string) error {
	if err := s.store.client.Set(ctx, s.key, raw, s.store.ttl).Err(); err != nil {
		return fmt.Errorf("storage/redis: set: %w", err)
	}
	return nil
}
