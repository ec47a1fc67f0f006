package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"story-workers/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL outlives a reconcile bounded by the query timeout.
	DefaultLockTTL   = 2 * time.Minute
	lockPollInterval = 50 * time.Millisecond
)

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache keeps each user's local stories in a Redis list, newest at the
// head.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "localStories"
	}
	return &RedisCache{client: client, prefix: prefix, lockTTL: DefaultLockTTL}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}

func (c *RedisCache) lockKey(userID string) string {
	return c.prefix + "-lock:" + userID
}

// Write prepends the batch so that stories[0] becomes the head of the list.
func (c *RedisCache) Write(ctx context.Context, userID string, stories []models.Story) ([]models.Story, error) {
	if len(stories) == 0 {
		return stories, nil
	}

	values := make([]interface{}, 0, len(stories))
	for i := len(stories) - 1; i >= 0; i-- {
		data, err := json.Marshal(stories[i])
		if err != nil {
			return nil, fmt.Errorf("%w: encode story: %v", ErrLocalCache, err)
		}
		values = append(values, data)
	}

	if err := c.client.LPush(ctx, c.key(userID), values...).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return stories, nil
}

func (c *RedisCache) List(ctx context.Context, userID string) ([]models.Story, error) {
	raw, err := c.client.LRange(ctx, c.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return decodeStories(raw)
}

// Discard removes one list element per snapshot entry, searching from the
// tail where the older copies sit.
func (c *RedisCache) Discard(ctx context.Context, userID string, snapshot []models.Story) error {
	if len(snapshot) == 0 {
		return nil
	}
	key := c.key(userID)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range snapshot {
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			pipe.LRem(ctx, key, -1, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return nil
}

// Lock takes the user's reconcile lock with SET NX, polling until it is
// free. The lock expires after lockTTL if its holder dies.
func (c *RedisCache) Lock(ctx context.Context, userID string) (func(), error) {
	key := c.lockKey(userID)
	token := uuid.New().String()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := c.client.SetNX(ctx, key, token, c.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock: %v", ErrLocalCache, err)
		}
		if ok {
			return func() {
				_ = releaseLock.Run(context.WithoutCancel(ctx), c.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for lock: %v", ErrLocalCache, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Rename retitles the first entry matching match. The list is watched so a
// concurrent write aborts the rename instead of landing on the wrong index.
func (c *RedisCache) Rename(ctx context.Context, userID string, match models.LocalMatch, title string) error {
	key := c.key(userID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		stories, err := decodeStories(raw)
		if err != nil {
			return err
		}

		for i, s := range stories {
			if !match.Matches(s) {
				continue
			}
			s.Title = title
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, key, int64(i), data)
				return nil
			})
			return err
		}
		return ErrStoryNotFound
	}, key)

	if errors.Is(err, ErrStoryNotFound) {
		return fmt.Errorf("%w: local story %q", ErrStoryNotFound, match.Title)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return nil
}

func decodeStories(raw []string) ([]models.Story, error) {
	stories := make([]models.Story, 0, len(raw))
	for _, item := range raw {
		var s models.Story
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("%w: decode story: %v", ErrLocalCache, err)
		}
		stories = append(stories, s)
	}
	return stories, nil
}
