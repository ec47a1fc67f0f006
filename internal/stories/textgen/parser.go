package textgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"story-workers/internal/common/validation"
	"story-workers/internal/models"
)

var (
	ErrUpstream           = errors.New("UPSTREAM_ERROR")
	ErrNoStructuredOutput = errors.New("NO_STRUCTURED_OUTPUT")
	ErrMalformedOutput    = errors.New("MALFORMED_OUTPUT")
)

// arrayPattern is greedy: it spans from the first '[' to the last ']'.
var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Parser turns raw model output into drafts.
type Parser interface {
	Parse(raw string) ([]models.Draft, error)
}

// ExtractArray returns the array-looking substring of raw.
func ExtractArray(raw string) (string, error) {
	match := arrayPattern.FindString(raw)
	if match == "" {
		return "", ErrNoStructuredOutput
	}
	return match, nil
}

// ArrayParser accepts any non-empty JSON array of objects. Missing fields
// decode as empty strings.
type ArrayParser struct{}

func (ArrayParser) Parse(raw string) ([]models.Draft, error) {
	match, err := ExtractArray(raw)
	if err != nil {
		return nil, err
	}

	var drafts []models.Draft
	if err := json.Unmarshal([]byte(match), &drafts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedOutput)
	}
	return drafts, nil
}

var draftsSchema = map[string]interface{}{
	"type":     "array",
	"minItems": 1,
	"items": map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"title", "summary"},
		"properties": map[string]interface{}{
			"title":   map[string]interface{}{"type": "string", "minLength": 1},
			"summary": map[string]interface{}{"type": "string", "minLength": 1},
		},
	},
}

// SchemaParser additionally requires every draft to carry a non-empty title
// and summary.
type SchemaParser struct {
	schema *validation.Schema
}

func NewSchemaParser() *SchemaParser {
	return &SchemaParser{schema: validation.MustCompile(draftsSchema)}
}

func (p *SchemaParser) Parse(raw string) ([]models.Draft, error) {
	match, err := ExtractArray(raw)
	if err != nil {
		return nil, err
	}

	result, err := p.schema.ValidateJSON([]byte(match))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrMalformedOutput, result.Error())
	}

	var drafts []models.Draft
	if err := json.Unmarshal([]byte(match), &drafts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return drafts, nil
}
