package generation

import (
	"context"
	"errors"
	"strings"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/models"
	"story-workers/internal/stories/ledger"
	"story-workers/internal/stories/persistence"
	"story-workers/internal/stories/search"
)

const communityLimit = 50

// Stories returns the user's combined view, local copies first.
func (s *Service) Stories(ctx context.Context, userID string) ([]models.Story, error) {
	stories, err := s.store.ListCombined(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return stories, nil
}

// Reconcile promotes the user's locally cached stories to the remote store.
func (s *Service) Reconcile(ctx context.Context, userID string) (int, error) {
	n, err := s.store.Reconcile(ctx, userID)
	if err != nil {
		return n, mapStoreError(err)
	}
	return n, nil
}

func (s *Service) Story(ctx context.Context, userID, id string) (*models.Story, error) {
	story, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return story, nil
}

// UpdateStory renames a remote story and/or sets its visibility.
func (s *Service) UpdateStory(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error) {
	if update.Title == nil && update.IsPublic == nil {
		return nil, apperrors.NewValidationError("Nothing to update")
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("Title cannot be empty")
		}
		update.Title = &title
	}

	story, err := s.store.Update(ctx, userID, id, update)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return story, nil
}

// ToggleVisibility shares a private story or unshares a public one.
func (s *Service) ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error) {
	story, err := s.store.ToggleVisibility(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return story, nil
}

func (s *Service) RenameLocal(ctx context.Context, userID string, match models.LocalMatch, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.NewValidationError("Title cannot be empty")
	}
	if err := s.store.RenameLocal(ctx, userID, match, title); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// Community lists public stories. A query goes to the search index when one
// is enabled; otherwise the newest public stories are returned.
func (s *Service) Community(ctx context.Context, query string) ([]models.Story, error) {
	query = strings.TrimSpace(query)
	if query != "" && s.search != nil && s.search.Enabled() {
		stories, err := s.search.Search(ctx, query, communityLimit)
		if err != nil {
			return nil, mapStoreError(err)
		}
		return stories, nil
	}

	stories, err := s.store.ListPublic(ctx, communityLimit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return stories, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (*models.CreditAccount, error) {
	account, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return account, nil
}

func mapStoreError(err error) *apperrors.StandardError {
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		return stdErr
	}
	switch {
	case errors.Is(err, persistence.ErrStoryNotFound):
		return apperrors.NewStoryNotFoundError(err.Error())
	case errors.Is(err, persistence.ErrReconcileFailed):
		return apperrors.NewReconcileFailedError(err)
	case errors.Is(err, persistence.ErrPersistenceWrite):
		return apperrors.NewPersistenceWriteFailedError(err)
	case errors.Is(err, search.ErrSearchFailed):
		return apperrors.NewSearchFailedError(err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return apperrors.NewAccountNotFoundError(err)
	default:
		return apperrors.NewInternalError(err)
	}
}
