// Package textgen produces story drafts from a language model.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"story-workers/internal/common/logger"
	"story-workers/internal/models"
)

type Config struct {
	MaxTokensPerDraft int
	Timeout           time.Duration
}

// Generator makes exactly one model call per request; it never retries.
type Generator struct {
	completer Completer
	parser    Parser
	config    Config
	logger    logger.Logger
}

func NewGenerator(completer Completer, parser Parser, cfg Config, log logger.Logger) *Generator {
	if parser == nil {
		parser = ArrayParser{}
	}
	return &Generator{
		completer: completer,
		parser:    parser,
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "textgen"}),
	}
}

// Generate returns drafts in model order, failing with ErrUpstream,
// ErrNoStructuredOutput or ErrMalformedOutput.
func (g *Generator) Generate(ctx context.Context, req models.GenerationRequest) ([]models.Draft, error) {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	maxTokens := g.config.MaxTokensPerDraft * req.DraftCount
	raw, err := g.completer.Complete(ctx, BuildPrompt(req), maxTokens)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrUpstream, g.config.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	drafts, err := g.parser.Parse(raw)
	if err != nil {
		g.logger.Warn("unusable model output", map[string]interface{}{
			"requestId": req.RequestID,
			"error":     err,
			"rawLength": len(raw),
		})
		return nil, err
	}

	g.logger.Debug("drafts generated", map[string]interface{}{
		"requestId": req.RequestID,
		"requested": req.DraftCount,
		"received":  len(drafts),
	})
	return drafts, nil
}
