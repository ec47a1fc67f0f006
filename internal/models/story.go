package models

import "time"

// GenerateInput is the inbound generation payload as received from the API
// or from job variables. Pointer fields distinguish "absent" from zero.
type GenerateInput struct {
	Topic           string `json:"topic"`
	NumSummaries    *int   `json:"numSummaries,omitempty"`
	LengthMinutes   *int   `json:"lengthMinutes,omitempty"`
	Voice           string `json:"voice,omitempty"`
	BackgroundMusic string `json:"backgroundMusic,omitempty"`
	CustomPrompt    string `json:"customPrompt,omitempty"`
	StoryTitle      string `json:"storyTitle,omitempty"`
}

// GenerationRequest is a validated, defaulted GenerateInput. It is not
// modified after validation.
type GenerationRequest struct {
	RequestID       string
	UserID          string
	Topic           string
	DraftCount      int
	TargetMinutes   int
	Voice           string
	BackgroundMusic string
	CustomPrompt    string
	Title           string
}

// Draft is one generated title and summary pair.
type Draft struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type AudioStatus string

const (
	AudioSucceeded AudioStatus = "succeeded"
	AudioFailed    AudioStatus = "failed"
)

// AudioArtifact is the narration outcome of one draft. URL is nil when
// Status is AudioFailed.
type AudioArtifact struct {
	URL    *string
	Status AudioStatus
}

// StoryCandidate is a draft with its narration outcome, before persistence.
type StoryCandidate struct {
	Draft Draft
	Audio AudioArtifact
}

// Story is the unit of persistence and the unit returned to callers. ID,
// IsPublic and CreatedAt are assigned by the remote store; Local and SavedAt
// mark copies that only exist in the local cache.
type Story struct {
	ID              string     `json:"id,omitempty"`
	UserID          string     `json:"-"`
	Author          string     `json:"author,omitempty"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	AudioURL        *string    `json:"audioUrl"`
	Topic           string     `json:"topic"`
	LengthMin       int        `json:"lengthMin"`
	Voice           string     `json:"voice"`
	BackgroundMusic string     `json:"backgroundMusic"`
	CustomPrompt    string     `json:"customPrompt"`
	IsPublic        *bool      `json:"isPublic,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	SavedAt         *time.Time `json:"savedAt,omitempty"`
	Local           bool       `json:"_local,omitempty"`
}

// Persisted reports whether the remote store has assigned an identity.
func (s Story) Persisted() bool {
	return s.ID != ""
}

// NewStory builds an unsaved record from a candidate, echoing the request
// parameters.
func NewStory(req GenerationRequest, c StoryCandidate) Story {
	return Story{
		UserID:          req.UserID,
		Title:           c.Draft.Title,
		Summary:         c.Draft.Summary,
		AudioURL:        c.Audio.URL,
		Topic:           req.Topic,
		LengthMin:       req.TargetMinutes,
		Voice:           req.Voice,
		BackgroundMusic: req.BackgroundMusic,
		CustomPrompt:    req.CustomPrompt,
	}
}

// StoryUpdate is a point update of a remote record. Nil fields are left alone.
type StoryUpdate struct {
	Title    *string `json:"title,omitempty"`
	IsPublic *bool   `json:"isPublic,omitempty"`
}

// LocalMatch identifies a local record, which has no remote identity.
type LocalMatch struct {
	Title   string    `json:"title"`
	Summary string    `json:"summary"`
	SavedAt time.Time `json:"savedAt"`
}

// Matches reports whether s is the local record m refers to.
func (m LocalMatch) Matches(s Story) bool {
	if s.Title != m.Title || s.Summary != m.Summary {
		return false
	}
	if s.SavedAt == nil {
		return m.SavedAt.IsZero()
	}
	return s.SavedAt.Equal(m.SavedAt)
}

func StringPtr(s string) *string {
	return &s
}

func BoolPtr(b bool) *bool {
	return &b
}
