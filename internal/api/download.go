package api

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"story-workers/internal/models"

	"github.com/yuin/goldmark"
)

var whitespace = regexp.MustCompile(`\s+`)

// DownloadName is the attachment base name for a story title.
func DownloadName(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "story"
	}
	return whitespace.ReplaceAllString(title, "_")
}

// RenderHTML renders a story as a small standalone HTML document. Raw HTML in
// the title or summary is not passed through.
func RenderHTML(story models.Story) ([]byte, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", story.Title)
	if story.Topic != "" {
		fmt.Fprintf(&md, "*%s, %d min*\n\n", story.Topic, story.LengthMin)
	}
	md.WriteString(story.Summary)
	md.WriteString("\n")

	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &body); err != nil {
		return nil, fmt.Errorf("render story: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
