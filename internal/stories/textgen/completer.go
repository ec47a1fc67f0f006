package textgen

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Completer sends one prompt to a language model and returns its raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type OpenAISettings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// OpenAICompleter implements Completer with chat completions.
type OpenAICompleter struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAICompleter(cfg OpenAISettings) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide openai.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAICompleter{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

func (o *OpenAICompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(o.temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
