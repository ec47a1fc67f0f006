package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAISettings struct {
	APIKey  string
	BaseURL string
	Model   string
	Speed   float64
	Voices  VoiceMapper
}

// OpenAISynthesizer produces mp3 narration with the speech endpoint.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	speed  float64
	voices VoiceMapper
}

func NewOpenAISynthesizer(cfg OpenAISettings) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide openai.api_key")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SpeechModelTTS1)
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAISynthesizer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		speed:  cfg.Speed,
		voices: cfg.Voices,
	}, nil
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty narration text", ErrSynthesis)
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voices.Resolve(voice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(s.speed),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read speech body: %v", ErrSynthesis, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}
	return data, nil
}

func (s *OpenAISynthesizer) ContentType() string { return "audio/mpeg" }

func (s *OpenAISynthesizer) Extension() string { return "mp3" }
