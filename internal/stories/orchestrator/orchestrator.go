// Package orchestrator turns a request into story candidates: one text
// generation call, then narration and upload for every draft concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"story-workers/internal/common/logger"
	"story-workers/internal/common/metrics"
	"story-workers/internal/common/observability"
	"story-workers/internal/models"
	"story-workers/internal/stories/audio"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"
)

type TextGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest) ([]models.Draft, error)
}

type ArtifactSaver interface {
	Save(ctx context.Context, data []byte, title, ext, contentType string) (string, error)
}

type Config struct {
	// SynthesisTimeout bounds each per-draft speech call.
	SynthesisTimeout time.Duration
	// MaxConcurrency caps concurrent per-draft pipelines; 0 means one per draft.
	MaxConcurrency int
}

type Orchestrator struct {
	text      TextGenerator
	speech    audio.Synthesizer
	artifacts ArtifactSaver
	config    Config
	obs       *observability.Observability
	logger    logger.Logger
}

func New(
	text TextGenerator,
	speech audio.Synthesizer,
	artifacts ArtifactSaver,
	cfg Config,
	obs *observability.Observability,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		text:      text,
		speech:    speech,
		artifacts: artifacts,
		config:    cfg,
		obs:       obs,
		logger:    log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// Run returns one candidate per draft in draft order. Text generation errors
// are returned unchanged; narration failures only mark the candidate's audio
// as failed.
func (o *Orchestrator) Run(ctx context.Context, req models.GenerationRequest) ([]models.StoryCandidate, error) {
	textCtx, span := o.obs.StartSpan(ctx, "stories.generate_text",
		attribute.Int("drafts.requested", req.DraftCount))
	start := time.Now()
	drafts, err := o.text.Generate(textCtx, req)
	metrics.StoryStageDuration.WithLabelValues("generate_text").Observe(time.Since(start).Seconds())
	span.End()
	if err != nil {
		return nil, err
	}

	workers := o.config.MaxConcurrency
	if workers <= 0 || workers > len(drafts) {
		workers = len(drafts)
	}

	narrateCtx, span := o.obs.StartSpan(ctx, "stories.narrate",
		attribute.Int("drafts.received", len(drafts)))
	defer span.End()
	start = time.Now()

	mapper := iter.Mapper[models.Draft, models.StoryCandidate]{MaxGoroutines: workers}
	candidates := mapper.Map(drafts, func(d *models.Draft) models.StoryCandidate {
		return models.StoryCandidate{
			Draft: *d,
			Audio: o.SynthesizeAndStore(narrateCtx, *d, req.Voice),
		}
	})

	metrics.StoryStageDuration.WithLabelValues("narrate").Observe(time.Since(start).Seconds())
	return candidates, nil
}

// SynthesizeAndStore narrates one draft and uploads the result. It never
// fails; every error, panics included, yields a failed artifact.
func (o *Orchestrator) SynthesizeAndStore(ctx context.Context, d models.Draft, voice string) (artifact models.AudioArtifact) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("narration panicked", map[string]interface{}{
				"title": d.Title,
				"panic": fmt.Sprint(r),
			})
			artifact = models.AudioArtifact{Status: models.AudioFailed}
		}
		metrics.StoryAudio.WithLabelValues(string(artifact.Status)).Inc()
	}()

	data, err := o.synthesize(ctx, d, voice)
	if err != nil {
		o.logger.Warn("narration failed", map[string]interface{}{"title": d.Title, "error": err})
		return models.AudioArtifact{Status: models.AudioFailed}
	}

	url, err := o.artifacts.Save(ctx, data, d.Title, o.speech.Extension(), o.speech.ContentType())
	if err != nil {
		o.logger.Warn("audio upload failed", map[string]interface{}{"title": d.Title, "error": err})
		return models.AudioArtifact{Status: models.AudioFailed}
	}

	return models.AudioArtifact{URL: &url, Status: models.AudioSucceeded}
}

func (o *Orchestrator) synthesize(ctx context.Context, d models.Draft, voice string) ([]byte, error) {
	if o.config.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.SynthesisTimeout)
		defer cancel()
	}
	return o.speech.Synthesize(ctx, audio.NarrationText(d), voice)
}
