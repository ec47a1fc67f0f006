package textgen

import (
	"fmt"
	"strings"

	"story-workers/internal/models"
)

// BuildPrompt renders the single instruction sent to the model. The model is
// told to answer with a bare JSON array of {title, summary} objects.
func BuildPrompt(req models.GenerationRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"You are an adult bedtime storyteller. Generate %d story summaries about %q, each suitable for a %d-minute narrated sleep story.",
		req.DraftCount, req.Topic, req.TargetMinutes,
	)
	if title := strings.TrimSpace(req.Title); title != "" {
		fmt.Fprintf(&b, " Use %q as the title of the first story.", title)
	}
	if guidance := strings.TrimSpace(req.CustomPrompt); guidance != "" {
		fmt.Fprintf(&b, "\nAdditional guidance from the listener: %s", guidance)
	}
	b.WriteString("\nOUTPUT ONLY a JSON array like:\n")
	b.WriteString(`[ { "title": "…", "summary": "…" }, … ]`)

	return b.String()
}
