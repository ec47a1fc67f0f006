// Package errors provides the standardized error model shared by the HTTP API
// and the Zeebe job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode is a stable, machine readable failure kind.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"

	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeAccountNotFound   ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeRefundFailed      ErrorCode = "REFUND_FAILED"

	ErrCodeUpstream           ErrorCode = "UPSTREAM_ERROR"
	ErrCodeNoStructuredOutput ErrorCode = "NO_STRUCTURED_OUTPUT"
	ErrCodeMalformedOutput    ErrorCode = "MALFORMED_OUTPUT"
	ErrCodeUpload             ErrorCode = "UPLOAD_ERROR"

	ErrCodePersistenceWriteFailed ErrorCode = "PERSISTENCE_WRITE_FAILED"
	ErrCodeReconcileFailed        ErrorCode = "RECONCILE_FAILED"
	ErrCodeStoryNotFound          ErrorCode = "STORY_NOT_FOUND"
	ErrCodeSearchFailed           ErrorCode = "SEARCH_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the single failure value a caller ever sees. Details and
// the wrapped cause are for logs only.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e after merging kv into its metadata.
func (e *StandardError) WithMetadata(kv map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(kv))
	}
	for k, v := range kv {
		e.Metadata[k] = v
	}
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// BPMNError is thrown to the workflow engine from a job worker.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns the process variables attached to a thrown or failed job.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// Constructors
// ==========================

func NewValidationError(message string) *StandardError {
	return newError(ErrCodeValidationFailed, message, nil, false)
}

func NewUnauthorizedError(details string) *StandardError {
	e := newError(ErrCodeUnauthorized, "Unauthorized", nil, false)
	e.Details = details
	return e
}

func NewInsufficientFundsError(cause error) *StandardError {
	return newError(ErrCodeInsufficientFunds, "Insufficient credits", cause, false)
}

func NewAccountNotFoundError(cause error) *StandardError {
	return newError(ErrCodeAccountNotFound, "Credit account not found", cause, false)
}

func NewRefundFailedError(cause error) *StandardError {
	return newError(ErrCodeRefundFailed, "Credit refund failed", cause, false)
}

// NewUpstreamError covers a failed or timed out call to an external model.
func NewUpstreamError(service string, cause error) *StandardError {
	e := newError(ErrCodeUpstream, "Failed to generate summaries", cause, false)
	e.Metadata = map[string]interface{}{"service": service}
	return e
}

func NewNoStructuredOutputError(cause error) *StandardError {
	return newError(ErrCodeNoStructuredOutput, "Could not parse JSON from AI", cause, false)
}

func NewMalformedOutputError(cause error) *StandardError {
	return newError(ErrCodeMalformedOutput, "Invalid JSON from AI", cause, false)
}

func NewUploadError(cause error) *StandardError {
	return newError(ErrCodeUpload, "Audio upload failed", cause, true)
}

func NewPersistenceWriteFailedError(cause error) *StandardError {
	return newError(ErrCodePersistenceWriteFailed, "Failed to save stories", cause, true)
}

func NewReconcileFailedError(cause error) *StandardError {
	return newError(ErrCodeReconcileFailed, "Failed to sync local stories", cause, true)
}

func NewStoryNotFoundError(storyID string) *StandardError {
	e := newError(ErrCodeStoryNotFound, "Story not found", nil, false)
	e.Details = fmt.Sprintf("storyId: %s", storyID)
	return e
}

func NewSearchFailedError(cause error) *StandardError {
	return newError(ErrCodeSearchFailed, "Search failed", cause, true)
}

func NewInternalError(cause error) *StandardError {
	return newError(ErrCodeInternal, "Internal server error", cause, false)
}

// ==========================
// Mapping
// ==========================

// AsStandardError extracts a StandardError from err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HTTPStatus maps an error code onto the status returned by the API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrCodeAccountNotFound, ErrCodeStoryNotFound:
		return http.StatusNotFound
	case ErrCodeSearchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetRetryCount returns how many times the engine may retry a job that
// failed with code. Anything that may already have been billed is never retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeReconcileFailed, ErrCodePersistenceWriteFailed:
		return 3
	case ErrCodeSearchFailed:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError into its engine representation.
// BPMN error codes are the internal codes verbatim.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for dashboards and log queries.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "FUNDS") || strings.Contains(codeStr, "ACCOUNT") || strings.Contains(codeStr, "REFUND"):
		return "BILLING"
	case strings.Contains(codeStr, "UPSTREAM") || strings.Contains(codeStr, "OUTPUT"):
		return "GENERATION"
	case strings.Contains(codeStr, "UPLOAD"):
		return "STORAGE"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "RECONCILE") || strings.Contains(codeStr, "STORY"):
		return "PERSISTENCE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "UNAUTHORIZED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
