package generatestories

import "story-workers/internal/models"

// Input is the job variable document. The generation parameters share the
// HTTP request's field names.
type Input struct {
	UserID string `json:"userId"`
	models.GenerateInput
}

type Output struct {
	RequestID  string         `json:"requestId"`
	Stories    []models.Story `json:"stories"`
	StoryCount int            `json:"storyCount"`
}
