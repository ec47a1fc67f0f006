package persistence

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"story-workers/internal/models"

	bolt "go.etcd.io/bbolt"
)

// BoltCache keeps local stories in a single-file bbolt database: one nested
// bucket per user, keyed by an increasing sequence so the newest story has
// the largest key.
type BoltCache struct {
	db   *bolt.DB
	root []byte
}

func OpenBoltCache(path, bucket string) (*BoltCache, error) {
	if bucket == "" {
		bucket = "localStories"
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local cache %s: %w", path, err)
	}
	return &BoltCache{db: db, root: []byte(bucket)}, nil
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

func (c *BoltCache) Write(ctx context.Context, userID string, stories []models.Story) ([]models.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := c.userBucket(tx, userID)
		if err != nil {
			return err
		}
		// Oldest of the batch first so stories[0] gets the largest key.
		for i := len(stories) - 1; i >= 0; i-- {
			data, err := json.Marshal(stories[i])
			if err != nil {
				return err
			}
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return stories, nil
}

func (c *BoltCache) List(ctx context.Context, userID string) ([]models.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}

	stories := []models.Story{}
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := c.existingBucket(tx, userID)
		if bucket == nil {
			return nil
		}
		cur := bucket.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			var s models.Story
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			stories = append(stories, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return stories, nil
}

// Discard deletes one stored entry per snapshot entry, oldest first, inside
// a single transaction.
func (c *BoltCache) Discard(ctx context.Context, userID string, snapshot []models.Story) error {
	if len(snapshot) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}

	pending := make(map[string]int, len(snapshot))
	for _, s := range snapshot {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("%w: encode story: %v", ErrLocalCache, err)
		}
		pending[string(data)]++
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := c.existingBucket(tx, userID)
		if bucket == nil {
			return nil
		}
		var keys [][]byte
		cur := bucket.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if pending[string(v)] > 0 {
				pending[string(v)]--
				keys = append(keys, append([]byte(nil), k...))
			}
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	return nil
}

// Rename retitles the newest entry matching match.
func (c *BoltCache) Rename(ctx context.Context, userID string, match models.LocalMatch, title string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}

	found := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := c.existingBucket(tx, userID)
		if bucket == nil {
			return nil
		}
		cur := bucket.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			var s models.Story
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if !match.Matches(s) {
				continue
			}
			s.Title = title
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			found = true
			return bucket.Put(append([]byte(nil), k...), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalCache, err)
	}
	if !found {
		return fmt.Errorf("%w: local story %q", ErrStoryNotFound, match.Title)
	}
	return nil
}

func (c *BoltCache) userBucket(tx *bolt.Tx, userID string) (*bolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists(c.root)
	if err != nil {
		return nil, err
	}
	return root.CreateBucketIfNotExists([]byte(userID))
}

func (c *BoltCache) existingBucket(tx *bolt.Tx, userID string) *bolt.Bucket {
	root := tx.Bucket(c.root)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(userID))
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
