package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"story-workers/internal/common/logger"
	"story-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIndex struct {
	upserted []string
	removed  []string
	err      error
}

func (r *recordingIndex) Upsert(_ context.Context, s models.Story) error {
	r.upserted = append(r.upserted, s.ID)
	return r.err
}

func (r *recordingIndex) Remove(_ context.Context, id string) error {
	r.removed = append(r.removed, id)
	return r.err
}

// gatedRemote holds every Write until release is closed.
type gatedRemote struct {
	RemoteStore
	mu      sync.Mutex
	writes  []string
	entered chan struct{}
	release chan struct{}
}

func newGatedRemote() *gatedRemote {
	return &gatedRemote{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedRemote) Write(_ context.Context, _ string, stories []models.Story) ([]models.Story, error) {
	g.entered <- struct{}{}
	<-g.release

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range stories {
		g.writes = append(g.writes, s.Title)
	}
	return stories, nil
}

// reconcileTwice runs two overlapping reconciles and caches NEW1 and NEW2
// while the first remote write is held.
func reconcileTwice(t *testing.T, first, second, cacher *Coordinator, remote *gatedRemote) int {
	ctx := context.Background()
	require.NoError(t, cacher.CacheLocally(ctx, "user-1",
		[]models.Story{remoteStory("A", nil), remoteStory("B", nil)}))

	var wg sync.WaitGroup
	promoted := make([]int, 2)
	errs := make([]error, 2)
	for i, c := range []*Coordinator{first, second} {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			promoted[i], errs[i] = c.Reconcile(ctx, "user-1")
		}(i, c)
	}

	<-remote.entered
	require.NoError(t, cacher.CacheLocally(ctx, "user-1",
		[]models.Story{remoteStory("NEW1", nil), remoteStory("NEW2", nil)}))
	close(remote.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	return promoted[0] + promoted[1]
}

func newTestCoordinator(t *testing.T, remote RemoteStore, local LocalCache, index SearchIndex) *Coordinator {
	c := NewCoordinator(remote, local, index, logger.NewTestLogger(t))
	c.now = func() time.Time { return savedAt }
	return c
}

func expectInserts(mock sqlmock.Sqlmock, ids ...string) {
	for _, id := range ids {
		mock.ExpectQuery(`INSERT INTO stories`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now()))
	}
}

func TestCoordinator_PersistFailureReturnsOriginals(t *testing.T) {
	db, mock := setupMockDB(t)
	c := newTestCoordinator(t, NewPostgresStore(db), setupBolt(t), nil)

	mock.ExpectBegin().WillReturnError(errors.New("database is down"))

	originals := []models.Story{remoteStory("A", nil), remoteStory("B", nil)}
	got := c.Persist(context.Background(), "user-1", originals)

	assert.Equal(t, originals, got)
	assert.False(t, got[0].Persisted())
}

func TestCoordinator_CacheLocallyStamps(t *testing.T) {
	local := setupBolt(t)
	c := newTestCoordinator(t, nil, local, nil)

	require.NoError(t, c.CacheLocally(context.Background(), "user-1", []models.Story{remoteStory("A", nil)}))

	stories, err := local.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.True(t, stories[0].Local)
	require.NotNil(t, stories[0].SavedAt)
	assert.True(t, savedAt.Equal(*stories[0].SavedAt))
	assert.Equal(t, "Nature", stories[0].Topic)
	assert.Equal(t, 10, stories[0].LengthMin)
}

func TestCoordinator_ReconcileIsAllOrNothing(t *testing.T) {
	db, mock := setupMockDB(t)
	local := NewRedisCache(setupRedis(t), "localStories")
	c := newTestCoordinator(t, NewPostgresStore(db), local, nil)
	ctx := context.Background()

	_, err := local.Write(ctx, "user-1", []models.Story{localStory("A"), localStory("B"), localStory("C")})
	require.NoError(t, err)

	mock.ExpectBegin()
	expectInserts(mock, storyID1)
	mock.ExpectQuery(`INSERT INTO stories`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	promoted, err := c.Reconcile(ctx, "user-1")
	assert.ErrorIs(t, err, ErrReconcileFailed)
	assert.Zero(t, promoted)

	stories, err := local.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(stories))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_ReconcileSkipsPersistedCopies(t *testing.T) {
	db, mock := setupMockDB(t)
	local := setupBolt(t)
	c := newTestCoordinator(t, NewPostgresStore(db), local, nil)
	ctx := context.Background()

	persisted := localStory("already remote")
	persisted.ID = storyID2
	_, err := local.Write(ctx, "user-1", []models.Story{localStory("A"), persisted})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO stories`).
		WithArgs("user-1", "user-1", "A", "A summary", nil, "Nature", 10, "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(storyID1, time.Now()))
	mock.ExpectCommit()

	promoted, err := c.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stories, err := local.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_RoundTripAppearsOncePerStore(t *testing.T) {
	db, mock := setupMockDB(t)
	local := NewRedisCache(setupRedis(t), "localStories")
	c := newTestCoordinator(t, NewPostgresStore(db), local, nil)
	ctx := context.Background()

	mock.ExpectBegin()
	expectInserts(mock, storyID1)
	mock.ExpectCommit()

	written := c.Persist(ctx, "user-1", []models.Story{remoteStory("Forest Whispers", nil)})
	require.True(t, written[0].Persisted())
	require.NoError(t, c.CacheLocally(ctx, "user-1", written))

	remoteRows := func() *sqlmock.Rows {
		return sqlmock.NewRows(storyRowColumns).
			AddRow(storyID1, "user-1", "Forest Whispers", "Forest Whispers summary", nil, "Nature", 10, "female", "", "", false, time.Now())
	}

	mock.ExpectQuery(`SELECT .* FROM stories WHERE user_id = \$1`).WillReturnRows(remoteRows())
	before, err := c.ListCombined(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.True(t, before[0].Local)
	assert.False(t, before[1].Local)

	promoted, err := c.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, promoted)

	mock.ExpectQuery(`SELECT .* FROM stories WHERE user_id = \$1`).WillReturnRows(remoteRows())
	after, err := c.ListCombined(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, storyID1, after[0].ID)
	assert.False(t, after[0].Local)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinator_VisibilityIsMirrored(t *testing.T) {
	db, mock := setupMockDB(t)
	index := &recordingIndex{err: errors.New("index unavailable")}
	c := newTestCoordinator(t, NewPostgresStore(db), setupBolt(t), index)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE stories SET is_public = NOT is_public`).
		WillReturnRows(sqlmock.NewRows(storyRowColumns).
			AddRow(storyID1, "sam", "A", "a", nil, "Nature", 10, "", "", "", true, time.Now()))
	mock.ExpectQuery(`UPDATE stories SET is_public = NOT is_public`).
		WillReturnRows(sqlmock.NewRows(storyRowColumns).
			AddRow(storyID1, "sam", "A", "a", nil, "Nature", 10, "", "", "", false, time.Now()))

	story, err := c.ToggleVisibility(ctx, "user-1", storyID1)
	require.NoError(t, err)
	assert.True(t, *story.IsPublic)

	story, err = c.ToggleVisibility(ctx, "user-1", storyID1)
	require.NoError(t, err)
	assert.False(t, *story.IsPublic)

	assert.Equal(t, []string{storyID1}, index.upserted)
	assert.Equal(t, []string{storyID1}, index.removed)
}

func TestCoordinator_ConcurrentReconcilePromotesOnce(t *testing.T) {
	for name, local := range localCaches(t) {
		t.Run(name, func(t *testing.T) {
			remote := newGatedRemote()
			c := newTestCoordinator(t, remote, local, nil)

			promoted := reconcileTwice(t, c, c, c, remote)

			assert.Equal(t, 4, promoted)
			assert.Equal(t, []string{"A", "B", "NEW1", "NEW2"}, remote.writes)
			left, err := local.List(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestCoordinator_ReconcileIsExclusiveAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	newLocal := func() *RedisCache {
		return NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "localStories")
	}
	remote := newGatedRemote()
	first := newTestCoordinator(t, remote, newLocal(), nil)
	second := newTestCoordinator(t, remote, newLocal(), nil)

	promoted := reconcileTwice(t, first, second, first, remote)

	assert.Equal(t, 4, promoted)
	assert.Equal(t, []string{"A", "B", "NEW1", "NEW2"}, remote.writes)
	left, err := newLocal().List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, left)
}
