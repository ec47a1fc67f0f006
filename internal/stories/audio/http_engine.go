package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apphttp "story-workers/internal/common/http"
)

const generateSpeechPath = "/v1/generate/speech"

// HTTPSynthesizer talks to a self-hosted TTS engine that returns WAV audio.
type HTTPSynthesizer struct {
	client   *apphttp.Client
	baseURL  string
	language string
}

type speechRequest struct {
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker,omitempty"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

type speechError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func NewHTTPSynthesizer(client *apphttp.Client, baseURL, language string) *HTTPSynthesizer {
	if language == "" {
		language = "en"
	}
	return &HTTPSynthesizer{
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		language: language,
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty narration text", ErrSynthesis)
	}

	data, err := s.client.PostJSON(ctx, s.baseURL+generateSpeechPath, speechRequest{
		Text:        text,
		Speaker:     voice,
		Language:    s.language,
		Temperature: 0.75,
	}, map[string]string{"Accept": "audio/wav"})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}

	// Some engine builds answer 200 with a JSON error body.
	if data[0] == '{' {
		var e speechError
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("%w: engine error %s: %s", ErrSynthesis, e.ErrorCode, e.Detail)
		}
	}
	return data, nil
}

func (s *HTTPSynthesizer) ContentType() string { return "audio/wav" }

func (s *HTTPSynthesizer) Extension() string { return "wav" }
