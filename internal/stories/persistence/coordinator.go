package persistence

import (
	"context"
	"fmt"
	"time"

	"story-workers/internal/common/logger"
	"story-workers/internal/common/metrics"
	"story-workers/internal/models"
)

// SearchIndex mirrors public stories for the community search.
type SearchIndex interface {
	Upsert(ctx context.Context, story models.Story) error
	Remove(ctx context.Context, id string) error
}

// Coordinator owns the dual write: every finished batch goes to the remote
// store and a stamped copy goes to the local cache. The two are only brought
// together again by Reconcile.
type Coordinator struct {
	remote RemoteStore
	local  LocalCache
	index  SearchIndex
	locks  *userLocks
	logger logger.Logger
	now    func() time.Time
}

func NewCoordinator(remote RemoteStore, local LocalCache, index SearchIndex, log logger.Logger) *Coordinator {
	return &Coordinator{
		remote: remote,
		local:  local,
		index:  index,
		locks:  newUserLocks(),
		logger: log.WithFields(map[string]interface{}{"component": "persistence"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Persist writes the batch to the remote store. A failed write is logged and
// the original, unidentified stories are returned so the caller still has
// them.
func (c *Coordinator) Persist(ctx context.Context, userID string, stories []models.Story) []models.Story {
	if len(stories) == 0 {
		return stories
	}

	start := time.Now()
	written, err := c.remote.Write(ctx, userID, stories)
	metrics.StoryStageDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("remote write failed, keeping stories local only", map[string]interface{}{
			"userId": userID,
			"count":  len(stories),
			"error":  err,
		})
		return stories
	}
	return written
}

// CacheLocally prepends stamped copies of stories to the user's local cache.
func (c *Coordinator) CacheLocally(ctx context.Context, userID string, stories []models.Story) error {
	if len(stories) == 0 {
		return nil
	}

	savedAt := c.now()
	stamped := make([]models.Story, len(stories))
	for i, s := range stories {
		s.SavedAt = &savedAt
		s.Local = true
		stamped[i] = s
	}

	if _, err := c.local.Write(ctx, userID, stamped); err != nil {
		c.logger.Error("local cache write failed", map[string]interface{}{
			"userId": userID,
			"count":  len(stories),
			"error":  err,
		})
		return err
	}
	return nil
}

// Reconcile promotes every locally cached story without a remote identity in
// one remote transaction, then clears the snapshot it promoted. On failure
// the local cache is left untouched. Runs for the same user are serialised,
// across processes too when the cache implements Locker.
func (c *Coordinator) Reconcile(ctx context.Context, userID string) (int, error) {
	unlock, err := c.lock(ctx, userID)
	if err != nil {
		metrics.StoryReconciliations.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("%w: %v", ErrReconcileFailed, err)
	}
	defer unlock()

	snapshot, err := c.local.List(ctx, userID)
	if err != nil {
		metrics.StoryReconciliations.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("%w: %v", ErrReconcileFailed, err)
	}
	if len(snapshot) == 0 {
		metrics.StoryReconciliations.WithLabelValues("empty").Inc()
		return 0, nil
	}

	pending := make([]models.Story, 0, len(snapshot))
	for _, s := range snapshot {
		if s.Persisted() {
			continue
		}
		s.Local = false
		s.SavedAt = nil
		pending = append(pending, s)
	}

	if len(pending) > 0 {
		if _, err := c.remote.Write(ctx, userID, pending); err != nil {
			metrics.StoryReconciliations.WithLabelValues("failed").Inc()
			c.logger.Error("reconcile failed, local cache kept", map[string]interface{}{
				"userId":  userID,
				"pending": len(pending),
				"error":   err,
			})
			return 0, fmt.Errorf("%w: %v", ErrReconcileFailed, err)
		}
	}

	if err := c.local.Discard(ctx, userID, snapshot); err != nil {
		metrics.StoryReconciliations.WithLabelValues("failed").Inc()
		c.logger.Error("reconciled stories could not be cleared locally", map[string]interface{}{
			"userId":   userID,
			"promoted": len(pending),
			"error":    err,
		})
		return len(pending), fmt.Errorf("%w: clear local cache: %v", ErrReconcileFailed, err)
	}

	metrics.StoryReconciliations.WithLabelValues("succeeded").Inc()
	c.logger.Info("local stories reconciled", map[string]interface{}{
		"userId":   userID,
		"promoted": len(pending),
		"cleared":  len(snapshot),
	})
	return len(pending), nil
}

func (c *Coordinator) lock(ctx context.Context, userID string) (func(), error) {
	release, err := c.locks.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	locker, ok := c.local.(Locker)
	if !ok {
		return release, nil
	}
	unlock, err := locker.Lock(ctx, userID)
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		unlock()
		release()
	}, nil
}

// ListCombined returns local stories first, then remote stories newest first.
// An unavailable local cache degrades to the remote view.
func (c *Coordinator) ListCombined(ctx context.Context, userID string) ([]models.Story, error) {
	combined := []models.Story{}

	local, err := c.local.List(ctx, userID)
	if err != nil {
		c.logger.Warn("local cache unavailable", map[string]interface{}{"userId": userID, "error": err})
	}
	for _, s := range local {
		s.Local = true
		combined = append(combined, s)
	}

	remote, err := c.remote.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(combined, remote...), nil
}

func (c *Coordinator) Get(ctx context.Context, userID, id string) (*models.Story, error) {
	return c.remote.Get(ctx, userID, id)
}

func (c *Coordinator) ListPublic(ctx context.Context, limit int) ([]models.Story, error) {
	return c.remote.ListPublic(ctx, limit)
}

func (c *Coordinator) Update(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error) {
	story, err := c.remote.Update(ctx, userID, id, update)
	if err != nil {
		return nil, err
	}
	c.mirror(ctx, story)
	return story, nil
}

func (c *Coordinator) ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error) {
	story, err := c.remote.ToggleVisibility(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	c.mirror(ctx, story)
	return story, nil
}

func (c *Coordinator) RenameLocal(ctx context.Context, userID string, match models.LocalMatch, title string) error {
	return c.local.Rename(ctx, userID, match, title)
}

// mirror keeps the search index in line with a story's visibility. Index
// failures are logged only.
func (c *Coordinator) mirror(ctx context.Context, story *models.Story) {
	if c.index == nil || story == nil {
		return
	}

	var err error
	if story.IsPublic != nil && *story.IsPublic {
		err = c.index.Upsert(ctx, *story)
	} else {
		err = c.index.Remove(ctx, story.ID)
	}
	if err != nil {
		c.logger.Warn("search index update failed", map[string]interface{}{
			"storyId": story.ID,
			"error":   err,
		})
	}
}
