// Package persistence writes finished stories to the remote store and to a
// local cache, and promotes cached stories to the remote store on demand.
package persistence

import (
	"context"
	"errors"

	"story-workers/internal/models"
)

var (
	ErrPersistenceWrite = errors.New("PERSISTENCE_WRITE_FAILED")
	ErrReconcileFailed  = errors.New("RECONCILE_FAILED")
	ErrStoryNotFound    = errors.New("STORY_NOT_FOUND")
	ErrLocalCache       = errors.New("LOCAL_CACHE_FAILED")
)

// RecordSink accepts a batch of stories for one user and returns them as
// stored.
type RecordSink interface {
	Write(ctx context.Context, userID string, stories []models.Story) ([]models.Story, error)
}

// LocalCache is an unbounded per-user list of stamped stories, newest first.
type LocalCache interface {
	RecordSink
	List(ctx context.Context, userID string) ([]models.Story, error)
	// Discard removes the given entries, as returned by List, matching them
	// by content. Entries cached since that List are kept.
	Discard(ctx context.Context, userID string, snapshot []models.Story) error
	Rename(ctx context.Context, userID string, match models.LocalMatch, title string) error
}

// Locker is implemented by local caches shared between processes. Lock
// blocks until the caller holds the user's reconcile lock or ctx is done.
type Locker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// RemoteStore is the durable per-user story collection.
type RemoteStore interface {
	RecordSink
	List(ctx context.Context, userID string) ([]models.Story, error)
	ListPublic(ctx context.Context, limit int) ([]models.Story, error)
	Get(ctx context.Context, userID, id string) (*models.Story, error)
	Update(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error)
	ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error)
}
