// Package redis provides the production refresh-token store on top of a
// Redis instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daylog-io/authd/cache"
)

// replaceScript performs the compare-and-swap for rotation: the stored value
// is replaced only when it still equals the value the caller read. Running
// as a script makes the read-compare-write a single atomic step, so two
// rotations racing on the same slot cannot both succeed.
var replaceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// RefreshStore implements cache.RefreshTokenStore using Redis.
type RefreshStore struct {
	client *redis.Client
	prefix string // optional key namespace
}

// NewRefreshStore creates a new [RefreshStore] instance.
func NewRefreshStore(client *redis.Client, prefix string) *RefreshStore {
	return &RefreshStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RefreshStore) redisKey(provider, subjectID string) string {
	key := cache.Key(provider, subjectID)
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Get implements cache.RefreshTokenStore.Get.
func (r *RefreshStore) Get(ctx context.Context, provider, subjectID string) (string, error) {
	val, err := r.client.Get(ctx, r.redisKey(provider, subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read refresh token from Redis: %w", err)
	}
	return val, nil
}

// Set implements cache.RefreshTokenStore.Set.
func (r *RefreshStore) Set(ctx context.Context, provider, subjectID, tokenValue string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.redisKey(provider, subjectID), tokenValue, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token in Redis: %w", err)
	}
	return nil
}

// Replace implements cache.RefreshTokenStore.Replace.
func (r *RefreshStore) Replace(ctx context.Context, provider, subjectID, prev, next string, ttl time.Duration) (bool, error) {
	res, err := replaceScript.Run(ctx, r.client,
		[]string{r.redisKey(provider, subjectID)},
		prev, next, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to swap refresh token in Redis: %w", err)
	}
	return res == 1, nil
}

// Delete implements cache.RefreshTokenStore.Delete.
func (r *RefreshStore) Delete(ctx context.Context, provider, subjectID string) error {
	if err := r.client.Del(ctx, r.redisKey(provider, subjectID)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token from Redis: %w", err)
	}
	return nil
}

var _ cache.RefreshTokenStore = (*RefreshStore)(nil)
