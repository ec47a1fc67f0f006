package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"story-workers/internal/common/database"
	"story-workers/internal/models"

	"github.com/google/uuid"
)

const storyColumns = `id, author, title, summary, audio_url, topic, length_min, voice,
	background_music, custom_prompt, is_public, created_at`

// PostgresStore keeps remote stories in the stories table, one row per story
// owned by user_id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Write inserts the batch in a single transaction. Either every story gets an
// identity or none is stored.
func (p *PostgresStore) Write(ctx context.Context, userID string, stories []models.Story) ([]models.Story, error) {
	out := make([]models.Story, 0, len(stories))

	err := database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		for i, s := range stories {
			author := s.Author
			if author == "" {
				author = userID
			}

			var (
				id        string
				createdAt sql.NullTime
			)
			err := tx.QueryRowContext(ctx, `
				INSERT INTO stories (user_id, author, title, summary, audio_url, topic, length_min,
					voice, background_music, custom_prompt, is_public)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)
				RETURNING id, created_at`,
				userID, author, s.Title, s.Summary, nullableString(s.AudioURL), s.Topic, s.LengthMin,
				s.Voice, s.BackgroundMusic, s.CustomPrompt,
			).Scan(&id, &createdAt)
			if err != nil {
				return fmt.Errorf("insert story %d: %w", i, err)
			}

			s.ID = id
			s.UserID = userID
			s.Author = author
			s.IsPublic = models.BoolPtr(false)
			s.CreatedAt = &createdAt.Time
			s.SavedAt = nil
			s.Local = false
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return out, nil
}

func (p *PostgresStore) List(ctx context.Context, userID string) ([]models.Story, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()
	return scanStories(rows, userID)
}

// ListPublic returns the community feed across all users, newest first.
func (p *PostgresStore) ListPublic(ctx context.Context, limit int) ([]models.Story, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE is_public ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list public stories: %w", err)
	}
	defer rows.Close()
	return scanStories(rows, "")
}

func (p *PostgresStore) Get(ctx context.Context, userID, id string) (*models.Story, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	row := p.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE user_id = $1 AND id = $2`, userID, id)
	return scanOne(row, userID, id)
}

// Update applies the non-nil fields of update to one of the user's stories.
func (p *PostgresStore) Update(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE stories
		SET title = COALESCE($3, title), is_public = COALESCE($4, is_public), updated_at = NOW()
		WHERE user_id = $1 AND id = $2
		RETURNING `+storyColumns,
		userID, id, nullableString(update.Title), nullableBool(update.IsPublic))
	return scanOne(row, userID, id)
}

func (p *PostgresStore) ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE stories SET is_public = NOT is_public, updated_at = NOW()
		WHERE user_id = $1 AND id = $2
		RETURNING `+storyColumns,
		userID, id)
	return scanOne(row, userID, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStory(row rowScanner) (models.Story, error) {
	var (
		s         models.Story
		audioURL  sql.NullString
		isPublic  bool
		createdAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Author, &s.Title, &s.Summary, &audioURL, &s.Topic, &s.LengthMin,
		&s.Voice, &s.BackgroundMusic, &s.CustomPrompt, &isPublic, &createdAt)
	if err != nil {
		return models.Story{}, err
	}
	if audioURL.Valid {
		s.AudioURL = models.StringPtr(audioURL.String)
	}
	s.IsPublic = models.BoolPtr(isPublic)
	if createdAt.Valid {
		t := createdAt.Time
		s.CreatedAt = &t
	}
	return s, nil
}

func scanOne(row *sql.Row, userID, id string) (*models.Story, error) {
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read story %s: %w", id, err)
	}
	s.UserID = userID
	return &s, nil
}

func scanStories(rows *sql.Rows, userID string) ([]models.Story, error) {
	stories := []models.Story{}
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		s.UserID = userID
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}
