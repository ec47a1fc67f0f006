package textgen

import (
	"testing"

	"story-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsers(t *testing.T) {
	parsers := map[string]Parser{
		"array":  ArrayParser{},
		"schema": NewSchemaParser(),
	}

	tests := []struct {
		name    string
		raw     string
		want    []models.Draft
		wantErr error
	}{
		{
			name: "bare array",
			raw:  `[{"title":"Forest Whispers","summary":"Wind in pines."}]`,
			want: []models.Draft{{Title: "Forest Whispers", Summary: "Wind in pines."}},
		},
		{
			name: "array wrapped in prose and code fence",
			raw:  "Here you go:\n```json\n[\n {\"title\":\"A\",\"summary\":\"one\"},\n {\"title\":\"B\",\"summary\":\"two\"}\n]\n```\nSleep well.",
			want: []models.Draft{{Title: "A", Summary: "one"}, {Title: "B", Summary: "two"}},
		},
		{
			name:    "no brackets at all",
			raw:     "I cannot help with that.",
			wantErr: ErrNoStructuredOutput,
		},
		{
			name:    "brackets but not json",
			raw:     "[title: A, summary: B]",
			wantErr: ErrMalformedOutput,
		},
		{
			name:    "greedy match spans two arrays",
			raw:     `[{"title":"A","summary":"a"}] and [{"title":"B","summary":"b"}]`,
			wantErr: ErrMalformedOutput,
		},
		{
			name:    "empty array",
			raw:     "[]",
			wantErr: ErrMalformedOutput,
		},
	}

	for parserName, parser := range parsers {
		for _, tt := range tests {
			t.Run(parserName+"/"+tt.name, func(t *testing.T) {
				drafts, err := parser.Parse(tt.raw)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, drafts)
			})
		}
	}
}

func TestSchemaParser_RequiresFields(t *testing.T) {
	raw := `[{"title":"Only a title"}]`

	drafts, err := ArrayParser{}.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "", drafts[0].Summary)

	_, err = NewSchemaParser().Parse(raw)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}
