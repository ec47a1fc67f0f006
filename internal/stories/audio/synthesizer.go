// Package audio turns draft text into narration bytes.
package audio

import (
	"context"
	"errors"
	"strings"

	"story-workers/internal/models"
)

var ErrSynthesis = errors.New("UPSTREAM_ERROR")

// Synthesizer performs a single speech synthesis call; it never retries.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	ContentType() string
	Extension() string
}

// NarrationText is what gets read aloud for a draft.
func NarrationText(d models.Draft) string {
	return d.Title + ". " + d.Summary
}

// VoiceMapper translates listener-facing voice names into engine voices.
type VoiceMapper struct {
	Default string
	Aliases map[string]string
}

// DefaultVoices maps the two listener choices onto OpenAI voices.
func DefaultVoices(defaultVoice string) VoiceMapper {
	if defaultVoice == "" {
		defaultVoice = "shimmer"
	}
	return VoiceMapper{
		Default: defaultVoice,
		Aliases: map[string]string{
			"female": "shimmer",
			"male":   "onyx",
		},
	}
}

func (m VoiceMapper) Resolve(voice string) string {
	v := strings.ToLower(strings.TrimSpace(voice))
	if v == "" {
		return m.Default
	}
	if mapped, ok := m.Aliases[v]; ok {
		return mapped
	}
	if _, ok := openAIVoices[v]; ok {
		return v
	}
	return m.Default
}

var openAIVoices = map[string]struct{}{
	"alloy": {}, "ash": {}, "coral": {}, "echo": {}, "fable": {},
	"onyx": {}, "nova": {}, "sage": {}, "shimmer": {},
}
