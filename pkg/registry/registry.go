// Package registry describes the job types this service implements and their
// input contracts.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"story-workers/internal/common/validation"
)

//go:embed activities.json
var embedded []byte

// Default returns the registry compiled into the binary.
func Default() (*ActivityRegistry, error) {
	return parse(embedded)
}

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode activity registry: %w", err)
	}
	return &reg, nil
}

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// InputValidator compiles the activity's input schema.
func (a *Activity) InputValidator() (*validation.Schema, error) {
	if a.InputSchema == nil {
		return nil, fmt.Errorf("activity %s has no input schema", a.ID)
	}
	schema, err := validation.Compile(a.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", a.ID, err)
	}
	return schema, nil
}

// TimeoutDuration parses Timeout, falling back when it is empty or invalid.
func (a *Activity) TimeoutDuration(fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// MustInputValidator returns the compiled input schema of a task type from
// the embedded registry. It panics when the registry does not describe it.
func MustInputValidator(taskType string) *validation.Schema {
	reg, err := Default()
	if err != nil {
		panic(err)
	}
	activity, ok := reg.Find(taskType)
	if !ok {
		panic(fmt.Sprintf("registry: unknown task type %q", taskType))
	}
	schema, err := activity.InputValidator()
	if err != nil {
		panic(err)
	}
	return schema
}

// Validate checks that every activity is complete, unique and carries a
// compilable input schema.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	for i := range r.Activities {
		activity := &r.Activities[i]
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if _, err := time.ParseDuration(activity.Timeout); err != nil {
			return fmt.Errorf("activity %s has invalid timeout %q", activity.ID, activity.Timeout)
		}
		if _, err := activity.InputValidator(); err != nil {
			return err
		}
	}
	return nil
}
