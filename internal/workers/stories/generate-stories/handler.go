package generatestories

import (
	"context"
	"encoding/json"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/metrics"
	"story-workers/internal/common/validation"
	"story-workers/internal/models"
	"story-workers/internal/stories/generation"
	"story-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "generate-stories"

// StoryGenerator is the billed pipeline the worker drives.
type StoryGenerator interface {
	Generate(ctx context.Context, userID string, in models.GenerateInput) (*generation.Result, error)
}

type Handler struct {
	config  *Config
	service StoryGenerator
	schema  *validation.Schema
	errors  *apperrors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, service StoryGenerator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		service: service,
		schema:  registry.MustInputValidator(TaskType),
		errors:  apperrors.NewErrorHandler(log),
		logger:  log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.fail(client, job, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

// parseInput checks the variables against the registry contract before
// decoding them.
func (h *Handler) parseInput(variables string) (*Input, error) {
	result, err := h.schema.ValidateJSON([]byte(variables))
	if err != nil {
		return nil, apperrors.NewValidationError("job variables are not valid JSON")
	}
	if !result.Valid {
		return nil, apperrors.NewValidationError(result.Error())
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.service.Generate(ctx, input.UserID, input.GenerateInput)
	if err != nil {
		return nil, err
	}

	h.logger.Info("stories generated", map[string]interface{}{
		"userId":    input.UserID,
		"requestId": result.RequestID,
		"count":     len(result.Stories),
	})

	return &Output{
		RequestID:  result.RequestID,
		Stories:    result.Stories,
		StoryCount: len(result.Stories),
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.fail(client, job, apperrors.NewInternalError(err))
		return
	}

	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(client worker.JobClient, job entities.Job, err error) {
	code := apperrors.Normalize(err).Code
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(code)).Inc()
	h.errors.HandleJobError(context.Background(), client, job, err)
}

// Execute runs the job body without a job client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
