// Package generation runs one story request end to end: validate, debit,
// generate, persist, and refund when billed work produced nothing usable.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/metrics"
	"story-workers/internal/common/observability"
	"story-workers/internal/models"
	"story-workers/internal/stories/alarm"
	"story-workers/internal/stories/ledger"
	"story-workers/internal/stories/textgen"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	StateValidating = "validating"
	StateDebiting   = "debiting"
	StateGenerating = "generating"
	StatePersisting = "persisting"
	StateDone       = "done"
	StateRefunding  = "refunding"
	StateFailed     = "failed"
)

const invalidTopicMessage = "Missing or invalid topic"

type Orchestrator interface {
	Run(ctx context.Context, req models.GenerationRequest) ([]models.StoryCandidate, error)
}

// Store is the persistence surface the service drives.
type Store interface {
	Persist(ctx context.Context, userID string, stories []models.Story) []models.Story
	CacheLocally(ctx context.Context, userID string, stories []models.Story) error
	Reconcile(ctx context.Context, userID string) (int, error)
	ListCombined(ctx context.Context, userID string) ([]models.Story, error)
	Get(ctx context.Context, userID, id string) (*models.Story, error)
	ListPublic(ctx context.Context, limit int) ([]models.Story, error)
	Update(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error)
	ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error)
	RenameLocal(ctx context.Context, userID string, match models.LocalMatch, title string) error
}

type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string, size int) ([]models.Story, error)
}

type Config struct {
	Cost           int64
	MaxDrafts      int
	DefaultDrafts  int
	DefaultMinutes int
	DefaultVoice   string
	// Timeout bounds text generation plus narration of one request.
	Timeout        time.Duration
	// StoreTimeout bounds each ledger and persistence call.
	StoreTimeout   time.Duration
}

type Service struct {
	config       Config
	ledger       ledger.Ledger
	orchestrator Orchestrator
	store        Store
	search       Searcher
	alarms       alarm.Notifier
	obs          *observability.Observability
	logger       logger.Logger
	newID        func() string
}

func NewService(
	cfg Config,
	credits ledger.Ledger,
	orchestrator Orchestrator,
	store Store,
	search Searcher,
	alarms alarm.Notifier,
	obs *observability.Observability,
	log logger.Logger,
) *Service {
	if cfg.DefaultDrafts < 1 {
		cfg.DefaultDrafts = 1
	}
	if cfg.DefaultMinutes < 1 {
		cfg.DefaultMinutes = 10
	}
	if alarms == nil {
		alarms = alarm.NewLogNotifier(log)
	}
	return &Service{
		config:       cfg,
		ledger:       credits,
		orchestrator: orchestrator,
		store:        store,
		search:       search,
		alarms:       alarms,
		obs:          obs,
		logger:       log.WithFields(map[string]interface{}{"component": "generation"}),
		newID:        func() string { return uuid.New().String() },
	}
}

// Result is the outcome of a successful request.
type Result struct {
	RequestID string         `json:"requestId"`
	Stories   []models.Story `json:"stories"`
}

// Validate turns raw input into an immutable request, applying defaults.
func (s *Service) Validate(userID string, in models.GenerateInput) (models.GenerationRequest, error) {
	if strings.TrimSpace(userID) == "" {
		return models.GenerationRequest{}, apperrors.NewUnauthorizedError("missing user id")
	}

	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return models.GenerationRequest{}, apperrors.NewValidationError(invalidTopicMessage)
	}

	drafts := s.config.DefaultDrafts
	if in.NumSummaries != nil {
		if *in.NumSummaries < 1 {
			return models.GenerationRequest{}, apperrors.NewValidationError("numSummaries must be at least 1")
		}
		drafts = *in.NumSummaries
	}
	if s.config.MaxDrafts > 0 && drafts > s.config.MaxDrafts {
		drafts = s.config.MaxDrafts
	}

	minutes := s.config.DefaultMinutes
	if in.LengthMinutes != nil {
		if *in.LengthMinutes < 1 {
			return models.GenerationRequest{}, apperrors.NewValidationError("lengthMinutes must be at least 1")
		}
		minutes = *in.LengthMinutes
	}

	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		voice = s.config.DefaultVoice
	}

	return models.GenerationRequest{
		RequestID:       s.newID(),
		UserID:          userID,
		Topic:           topic,
		DraftCount:      drafts,
		TargetMinutes:   minutes,
		Voice:           voice,
		BackgroundMusic: strings.TrimSpace(in.BackgroundMusic),
		CustomPrompt:    strings.TrimSpace(in.CustomPrompt),
		Title:           strings.TrimSpace(in.StoryTitle),
	}, nil
}

// Generate runs the request. Once the debit has committed, cancelling ctx no
// longer aborts the pipeline; only a hard failure ends it early, and then
// exactly one refund is attempted. The returned error is always a
// StandardError.
func (s *Service) Generate(ctx context.Context, userID string, in models.GenerateInput) (*Result, error) {
	start := time.Now()
	log := s.logger.WithFields(map[string]interface{}{"userId": userID})
	log.Debug("state", map[string]interface{}{"state": StateValidating})

	req, err := s.Validate(userID, in)
	if err != nil {
		metrics.StoryGenerations.WithLabelValues("validation_failed").Inc()
		s.obs.RecordRequest(ctx, "generate", "validation_failed", time.Since(start))
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := s.obs.StartSpan(ctx, "stories.request",
		attribute.String("request.id", req.RequestID),
		attribute.Int("request.drafts", req.DraftCount))
	defer span.End()

	log = log.WithFields(map[string]interface{}{"requestId": req.RequestID})
	log.Info("state", map[string]interface{}{
		"state":  StateDebiting,
		"topic":  req.Topic,
		"drafts": req.DraftCount,
	})

	debitCtx, cancel := s.storeContext(ctx)
	receipt, err := s.ledger.Debit(debitCtx, userID, s.config.Cost)
	cancel()
	if err != nil {
		stdErr := mapLedgerError(err)
		log.Warn("debit rejected", map[string]interface{}{"code": stdErr.Code, "error": err})
		metrics.StoryGenerations.WithLabelValues("debit_rejected").Inc()
		s.obs.RecordRequest(ctx, "generate", "debit_rejected", time.Since(start))
		return nil, stdErr
	}

	stories, err := s.runBilled(ctx, log, req)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		log.Error("generation failed", map[string]interface{}{
			"state": StateRefunding,
			"code":  stdErr.Code,
			"error": err,
		})
		s.refund(ctx, log, req, receipt)
		log.Info("state", map[string]interface{}{"state": StateFailed})

		metrics.StoryGenerations.WithLabelValues("failed").Inc()
		s.obs.RecordRequest(ctx, "generate", "failed", time.Since(start))
		return nil, stdErr
	}

	log.Info("state", map[string]interface{}{
		"state":   StateDone,
		"stories": len(stories),
		"elapsed": time.Since(start).String(),
	})
	metrics.StoryGenerations.WithLabelValues("done").Inc()
	s.obs.RecordRequest(ctx, "generate", "done", time.Since(start))

	return &Result{RequestID: req.RequestID, Stories: stories}, nil
}

// runBilled is everything after the debit. Panics become internal errors so
// the caller still refunds.
func (s *Service) runBilled(ctx context.Context, log logger.Logger, req models.GenerationRequest) (stories []models.Story, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Errorf("panic in generation pipeline: %v", r))
		}
	}()

	log.Info("state", map[string]interface{}{"state": StateGenerating})

	runCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	candidates, err := s.orchestrator.Run(runCtx, req)
	if err != nil {
		return nil, mapGenerationError(err)
	}

	log.Info("state", map[string]interface{}{"state": StatePersisting, "stories": len(candidates)})

	stories = make([]models.Story, 0, len(candidates))
	for _, c := range candidates {
		stories = append(stories, models.NewStory(req, c))
	}

	persistCtx, cancel := s.storeContext(ctx)
	stories = s.store.Persist(persistCtx, req.UserID, stories)
	cancel()

	cacheCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.CacheLocally(cacheCtx, req.UserID, stories); err != nil {
		log.Warn("local copy not cached", map[string]interface{}{"error": err})
	}
	return stories, nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.StoreTimeout)
}

// refund reverses the debit once. A failed refund is alarmed, never returned.
func (s *Service) refund(ctx context.Context, log logger.Logger, req models.GenerationRequest, receipt *models.Receipt) {
	refundCtx, cancel := s.storeContext(ctx)
	err := s.ledger.Refund(refundCtx, receipt)
	cancel()
	if err == nil {
		metrics.StoryRefunds.WithLabelValues("succeeded").Inc()
		log.Info("debit refunded", map[string]interface{}{"amount": receipt.Cost})
		return
	}

	metrics.StoryRefunds.WithLabelValues("failed").Inc()
	log.Error("refund failed", map[string]interface{}{
		"code":   apperrors.ErrCodeRefundFailed,
		"amount": receipt.Cost,
		"error":  err,
	})

	alarmErr := s.alarms.Notify(ctx, alarm.Alarm{
		Kind:      string(apperrors.ErrCodeRefundFailed),
		UserID:    req.UserID,
		RequestID: req.RequestID,
		Amount:    receipt.Cost,
		Reason:    err.Error(),
		At:        time.Now().UTC(),
	})
	if alarmErr != nil {
		log.Error("refund alarm not delivered", map[string]interface{}{"error": alarmErr})
	}
}

func mapLedgerError(err error) *apperrors.StandardError {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return apperrors.NewInsufficientFundsError(err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return apperrors.NewAccountNotFoundError(err)
	default:
		return apperrors.NewInternalError(err)
	}
}

func mapGenerationError(err error) *apperrors.StandardError {
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		return stdErr
	}
	switch {
	case errors.Is(err, textgen.ErrNoStructuredOutput):
		return apperrors.NewNoStructuredOutputError(err)
	case errors.Is(err, textgen.ErrMalformedOutput):
		return apperrors.NewMalformedOutputError(err)
	case errors.Is(err, textgen.ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUpstreamError("text-generation", err)
	default:
		return apperrors.NewInternalError(err)
	}
}
