package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"userId"},
	"properties": map[string]interface{}{
		"userId": map[string]interface{}{"type": "string", "minLength": 1},
		"count":  map[string]interface{}{"type": "integer", "minimum": 1},
	},
}

func TestSchemaValidate(t *testing.T) {
	schema := MustCompile(userSchema)

	tests := []struct {
		name      string
		doc       interface{}
		wantValid bool
		wantField string
	}{
		{name: "valid", doc: map[string]interface{}{"userId": "u1", "count": 2}, wantValid: true},
		{name: "missing required", doc: map[string]interface{}{"count": 2}, wantField: "(root)"},
		{name: "below minimum", doc: map[string]interface{}{"userId": "u1", "count": 0}, wantField: "count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := schema.Validate(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			if !tt.wantValid {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.wantField, result.Errors[0].Field)
				assert.NotEmpty(t, result.Error())
			}
		})
	}
}

func TestSchemaValidateJSON_Malformed(t *testing.T) {
	schema := MustCompile(userSchema)

	_, err := schema.ValidateJSON([]byte(`{"userId":`))
	assert.Error(t, err)
}
