package generatestories

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/common/logger"
	"story-workers/internal/models"
	"story-workers/internal/stories/generation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, userID string, in models.GenerateInput) (*generation.Result, error) {
	args := m.Called(ctx, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generation.Result), args.Error(1)
}

func createTestHandler(t *testing.T, service StoryGenerator) *Handler {
	return NewHandler(&Config{Timeout: 10 * time.Second}, service, logger.NewTestLogger(t))
}

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, new(MockGenerator))

	tests := []struct {
		name      string
		variables string
		wantErr   bool
		check     func(t *testing.T, in *Input)
	}{
		{
			name:      "minimal",
			variables: `{"userId":"user-1","topic":"ocean waves"}`,
			check: func(t *testing.T, in *Input) {
				assert.Equal(t, "user-1", in.UserID)
				assert.Equal(t, "ocean waves", in.Topic)
				assert.Nil(t, in.NumSummaries)
			},
		},
		{
			name:      "optional parameters",
			variables: `{"userId":"user-1","topic":"forest","numSummaries":3,"lengthMinutes":15,"voice":"male","customPrompt":"no dragons"}`,
			check: func(t *testing.T, in *Input) {
				require.NotNil(t, in.NumSummaries)
				assert.Equal(t, 3, *in.NumSummaries)
				assert.Equal(t, 15, *in.LengthMinutes)
				assert.Equal(t, "male", in.Voice)
				assert.Equal(t, "no dragons", in.CustomPrompt)
			},
		},
		{name: "missing user", variables: `{"topic":"forest"}`, wantErr: true},
		{name: "topic not a string", variables: `{"userId":"user-1","topic":42}`, wantErr: true},
		{name: "not json", variables: `{"userId":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := h.parseInput(tt.variables)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Normalize(err).Code)
				return
			}
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestHandler_Execute_Success(t *testing.T) {
	service := new(MockGenerator)
	url := "https://store/a.mp3"
	service.On("Generate", mock.Anything, "user-1", mock.MatchedBy(func(in models.GenerateInput) bool {
		return in.Topic == "rain"
	})).Return(&generation.Result{
		RequestID: "req-1",
		Stories: []models.Story{
			{ID: "s1", Title: "A", Summary: "a", AudioURL: &url},
			{ID: "s2", Title: "B", Summary: "b"},
		},
	}, nil)

	h := createTestHandler(t, service)
	out, err := h.Execute(context.Background(), &Input{
		UserID:        "user-1",
		GenerateInput: models.GenerateInput{Topic: "rain"},
	})

	require.NoError(t, err)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, 2, out.StoryCount)
	assert.Equal(t, "s1", out.Stories[0].ID)
	service.AssertExpectations(t)
}

func TestHandler_Execute_BilledFailureIsNotRetried(t *testing.T) {
	service := new(MockGenerator)
	service.On("Generate", mock.Anything, "user-1", mock.Anything).
		Return(nil, apperrors.NewMalformedOutputError(errors.New("empty array")))

	h := createTestHandler(t, service)
	_, err := h.Execute(context.Background(), &Input{
		UserID:        "user-1",
		GenerateInput: models.GenerateInput{Topic: "rain"},
	})

	require.Error(t, err)
	bpmn := apperrors.ConvertToBPMNError(apperrors.Normalize(err))
	assert.Equal(t, "MALFORMED_OUTPUT", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
}

func TestConfigFromApp(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ConfigFromApp(nil).Timeout)
}
