package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"
	"story-workers/internal/models"
	"story-workers/internal/stories/alarm"
	"story-workers/internal/stories/ledger"
	"story-workers/internal/stories/orchestrator"
	"story-workers/internal/stories/textgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory ledger keyed by user.
type memLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	debits    int
	refunds   int
	refundErr error
	// stall makes Debit wait for its context, like a row lock held elsewhere.
	stall     bool
}

func (l *memLedger) Debit(ctx context.Context, userID string, cost int64) (*models.Receipt, error) {
	if l.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if balance < cost {
		return nil, ledger.ErrInsufficientFunds
	}
	l.balances[userID] = balance - cost
	l.debits++
	return &models.Receipt{EntryID: "r-1", UserID: userID, Cost: cost}, nil
}

func (l *memLedger) Refund(_ context.Context, receipt *models.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds++
	if l.refundErr != nil {
		return l.refundErr
	}
	l.balances[receipt.UserID] += receipt.Cost
	return nil
}

func (l *memLedger) Balance(_ context.Context, userID string) (*models.CreditAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &models.CreditAccount{UserID: userID, Balance: balance}, nil
}

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(context.Context, string, int) (string, error) {
	f.calls++
	return f.response, f.err
}

type fakeSpeech struct {
	err error
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(text), nil
}

func (f *fakeSpeech) ContentType() string { return "audio/mpeg" }

func (f *fakeSpeech) Extension() string { return "mp3" }

type fixedSaver struct{ url string }

func (f fixedSaver) Save(context.Context, []byte, string, string, string) (string, error) {
	return f.url, nil
}

// memStore records persisted and cached batches.
type memStore struct {
	persisted []models.Story
	cached    []models.Story
	public    []models.Story
	deadlines []bool
}

func (m *memStore) Persist(ctx context.Context, _ string, stories []models.Story) []models.Story {
	_, ok := ctx.Deadline()
	m.deadlines = append(m.deadlines, ok)
	out := make([]models.Story, len(stories))
	for i, s := range stories {
		s.ID = fmt.Sprintf("story-%d", len(m.persisted)+i+1)
		s.IsPublic = models.BoolPtr(false)
		out[i] = s
	}
	m.persisted = append(m.persisted, out...)
	return out
}

func (m *memStore) CacheLocally(ctx context.Context, _ string, stories []models.Story) error {
	_, ok := ctx.Deadline()
	m.deadlines = append(m.deadlines, ok)
	m.cached = append(m.cached, stories...)
	return nil
}

func (m *memStore) Reconcile(context.Context, string) (int, error) { return 0, nil }

func (m *memStore) ListCombined(context.Context, string) ([]models.Story, error) {
	return append(append([]models.Story{}, m.cached...), m.persisted...), nil
}

func (m *memStore) Get(_ context.Context, _ string, id string) (*models.Story, error) {
	for _, s := range m.persisted {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, errors.New("STORY_NOT_FOUND: " + id)
}

func (m *memStore) ListPublic(context.Context, int) ([]models.Story, error) { return m.public, nil }

func (m *memStore) Update(context.Context, string, string, models.StoryUpdate) (*models.Story, error) {
	return nil, errors.New("not used")
}

func (m *memStore) ToggleVisibility(context.Context, string, string) (*models.Story, error) {
	return nil, errors.New("not used")
}

func (m *memStore) RenameLocal(context.Context, string, models.LocalMatch, string) error {
	return nil
}

type recordingNotifier struct {
	alarms []alarm.Alarm
}

func (r *recordingNotifier) Notify(_ context.Context, a alarm.Alarm) error {
	r.alarms = append(r.alarms, a)
	return nil
}

type harness struct {
	ledger    *memLedger
	completer *fakeCompleter
	speech    *fakeSpeech
	store     *memStore
	notifier  *recordingNotifier
	service   *Service
}

func newHarness(t *testing.T, balance int64, response string) *harness {
	log := logger.NewTestLogger(t)
	h := &harness{
		ledger:    &memLedger{balances: map[string]int64{"user-1": balance}},
		completer: &fakeCompleter{response: response},
		speech:    &fakeSpeech{},
		store:     &memStore{},
		notifier:  &recordingNotifier{},
	}

	generator := textgen.NewGenerator(h.completer, textgen.ArrayParser{}, textgen.Config{MaxTokensPerDraft: 400}, log)
	orch := orchestrator.New(generator, h.speech, fixedSaver{url: "https://store/x.mp3"},
		orchestrator.Config{}, observability.NewNoop(), log)

	h.service = NewService(Config{Cost: 1, MaxDrafts: 5, DefaultDrafts: 1, DefaultMinutes: 10},
		h.ledger, orch, h.store, nil, h.notifier, observability.NewNoop(), log)
	return h
}

func intPtr(v int) *int { return &v }

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok, "expected StandardError, got %v", err)
	assert.Equal(t, code, stdErr.Code)
}

const twoDrafts = `Sure! [{"title":"Forest Whispers","summary":"Leaves rustle."},{"title":"Night Rain","summary":"Soft rain falls."}]`

func TestGenerate_EmptyTopicIsNotBilled(t *testing.T) {
	for _, topic := range []string{"", "   "} {
		h := newHarness(t, 5, twoDrafts)

		_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: topic})

		requireCode(t, err, apperrors.ErrCodeValidationFailed)
		assert.Equal(t, invalidTopicMessage, err.(*apperrors.StandardError).Message)
		assert.Zero(t, h.ledger.debits)
		assert.Equal(t, int64(5), h.ledger.balances["user-1"])
	}
}

func TestGenerate_InsufficientFundsSkipsGeneration(t *testing.T) {
	h := newHarness(t, 0, twoDrafts)

	_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

	requireCode(t, err, apperrors.ErrCodeInsufficientFunds)
	assert.Zero(t, h.completer.calls)
	assert.Zero(t, h.ledger.refunds)
}

func TestGenerate_UnknownAccount(t *testing.T) {
	h := newHarness(t, 5, twoDrafts)

	_, err := h.service.Generate(context.Background(), "stranger", models.GenerateInput{Topic: "Nature"})

	requireCode(t, err, apperrors.ErrCodeAccountNotFound)
	assert.Zero(t, h.completer.calls)
}

func TestGenerate_TextFailureRefunds(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		wantCode apperrors.ErrorCode
	}{
		{name: "no array", response: "I cannot help with that.", wantCode: apperrors.ErrCodeNoStructuredOutput},
		{name: "malformed array", response: `[{"title": "A",]`, wantCode: apperrors.ErrCodeMalformedOutput},
		{name: "upstream down", err: errors.New("503 from model"), wantCode: apperrors.ErrCodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, tt.response)
			h.completer.err = tt.err

			_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

			requireCode(t, err, tt.wantCode)
			assert.Equal(t, 1, h.ledger.debits)
			assert.Equal(t, 1, h.ledger.refunds)
			assert.Equal(t, int64(3), h.ledger.balances["user-1"])
			assert.Empty(t, h.store.persisted)
		})
	}
}

func TestGenerate_AudioFailureIsStillBilled(t *testing.T) {
	h := newHarness(t, 3, twoDrafts)
	h.speech.err = errors.New("speech quota exceeded")

	result, err := h.service.Generate(context.Background(), "user-1",
		models.GenerateInput{Topic: "Nature", NumSummaries: intPtr(2)})

	require.NoError(t, err)
	require.Len(t, result.Stories, 2)
	for _, s := range result.Stories {
		assert.Nil(t, s.AudioURL)
	}
	assert.Zero(t, h.ledger.refunds)
	assert.Equal(t, int64(2), h.ledger.balances["user-1"])
}

func TestGenerate_EndToEnd(t *testing.T) {
	h := newHarness(t, 1, `[{"title":"Forest Whispers","summary":"..."}]`)

	result, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{
		Topic:         "Nature",
		NumSummaries:  intPtr(1),
		LengthMinutes: intPtr(10),
	})

	require.NoError(t, err)
	require.Len(t, result.Stories, 1)
	story := result.Stories[0]
	assert.Equal(t, "Forest Whispers", story.Title)
	assert.Equal(t, "...", story.Summary)
	require.NotNil(t, story.AudioURL)
	assert.Equal(t, "https://store/x.mp3", *story.AudioURL)
	assert.Equal(t, "Nature", story.Topic)
	assert.Equal(t, 10, story.LengthMin)

	assert.Equal(t, 1, h.ledger.debits)
	assert.Zero(t, h.ledger.refunds)
	assert.Zero(t, h.ledger.balances["user-1"])
	assert.Len(t, h.store.persisted, 1)
	assert.Len(t, h.store.cached, 1)
}

func TestGenerate_ClientCancellationDoesNotAbort(t *testing.T) {
	h := newHarness(t, 1, twoDrafts)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.service.Generate(ctx, "user-1", models.GenerateInput{Topic: "Nature", NumSummaries: intPtr(2)})

	require.NoError(t, err)
	assert.Len(t, result.Stories, 2)
	assert.Zero(t, h.ledger.refunds)
}

func TestGenerate_StalledDebitTimesOut(t *testing.T) {
	h := newHarness(t, 2, twoDrafts)
	h.ledger.stall = true
	h.service.config.StoreTimeout = 20 * time.Millisecond

	_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

	requireCode(t, err, apperrors.ErrCodeInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.completer.calls)
	assert.Zero(t, h.ledger.refunds)
}

func TestGenerate_StoreCallsAreBounded(t *testing.T) {
	h := newHarness(t, 2, twoDrafts)
	h.service.config.StoreTimeout = time.Second

	_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, h.store.deadlines)
}

type panickingOrchestrator struct{}

func (panickingOrchestrator) Run(context.Context, models.GenerationRequest) ([]models.StoryCandidate, error) {
	panic("nil map write")
}

func TestGenerate_PanicRefunds(t *testing.T) {
	h := newHarness(t, 2, twoDrafts)
	h.service.orchestrator = panickingOrchestrator{}

	_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

	requireCode(t, err, apperrors.ErrCodeInternal)
	assert.Equal(t, 1, h.ledger.refunds)
	assert.Equal(t, int64(2), h.ledger.balances["user-1"])
}

func TestGenerate_RefundFailureRaisesAlarm(t *testing.T) {
	h := newHarness(t, 2, "no json here")
	h.ledger.refundErr = errors.New("connection reset")

	_, err := h.service.Generate(context.Background(), "user-1", models.GenerateInput{Topic: "Nature"})

	requireCode(t, err, apperrors.ErrCodeNoStructuredOutput)
	assert.Equal(t, 1, h.ledger.refunds)
	require.Len(t, h.notifier.alarms, 1)
	assert.Equal(t, "REFUND_FAILED", h.notifier.alarms[0].Kind)
	assert.Equal(t, int64(1), h.notifier.alarms[0].Amount)
	assert.Equal(t, "user-1", h.notifier.alarms[0].UserID)
}

func TestValidate(t *testing.T) {
	h := newHarness(t, 0, "")

	tests := []struct {
		name        string
		in          models.GenerateInput
		wantErr     bool
		wantDrafts  int
		wantMinutes int
	}{
		{name: "defaults", in: models.GenerateInput{Topic: " Nature "}, wantDrafts: 1, wantMinutes: 10},
		{name: "explicit", in: models.GenerateInput{Topic: "Sea", NumSummaries: intPtr(3), LengthMinutes: intPtr(20)}, wantDrafts: 3, wantMinutes: 20},
		{name: "capped", in: models.GenerateInput{Topic: "Sea", NumSummaries: intPtr(50)}, wantDrafts: 5, wantMinutes: 10},
		{name: "zero drafts", in: models.GenerateInput{Topic: "Sea", NumSummaries: intPtr(0)}, wantErr: true},
		{name: "negative minutes", in: models.GenerateInput{Topic: "Sea", LengthMinutes: intPtr(-5)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := h.service.Validate("user-1", tt.in)
			if tt.wantErr {
				requireCode(t, err, apperrors.ErrCodeValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDrafts, req.DraftCount)
			assert.Equal(t, tt.wantMinutes, req.TargetMinutes)
			assert.NotEmpty(t, req.RequestID)
			assert.NotContains(t, req.Topic, " ")
		})
	}

	_, err := h.service.Validate("", models.GenerateInput{Topic: "Sea"})
	requireCode(t, err, apperrors.ErrCodeUnauthorized)
}

func TestCommunity_FallsBackToFeed(t *testing.T) {
	h := newHarness(t, 0, "")
	h.store.public = []models.Story{{ID: "s-1", Title: "Shared"}}

	stories, err := h.service.Community(context.Background(), "forest")
	require.NoError(t, err)
	assert.Equal(t, "Shared", stories[0].Title)
}

func TestUpdateStory_Validation(t *testing.T) {
	h := newHarness(t, 0, "")

	_, err := h.service.UpdateStory(context.Background(), "user-1", "s-1", models.StoryUpdate{})
	requireCode(t, err, apperrors.ErrCodeValidationFailed)

	_, err = h.service.UpdateStory(context.Background(), "user-1", "s-1", models.StoryUpdate{Title: models.StringPtr("  ")})
	requireCode(t, err, apperrors.ErrCodeValidationFailed)
}

func TestBalance(t *testing.T) {
	h := newHarness(t, 7, "")

	account, err := h.service.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.Balance)

	_, err = h.service.Balance(context.Background(), "nobody")
	requireCode(t, err, apperrors.ErrCodeAccountNotFound)
}
