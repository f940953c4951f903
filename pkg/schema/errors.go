package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnknownExecutor = "UNKNOWN_EXECUTOR"
	ErrCodeNoSynthesizer   = "NO_SYNTHESIZER"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeStore           = "STORE_ERROR"
)

// EnsembleError is the structured error type for all engine operations.
type EnsembleError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeRef string         `json:"node_ref,omitempty"` // "stage[i].node[j]" when node-scoped
	Cause   error          `json:"-"`
}

func (e *EnsembleError) Error() string {
	if e.NodeRef != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.NodeRef, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EnsembleError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EnsembleError.
func NewError(code, message string) *EnsembleError {
	return &EnsembleError{Code: code, Message: message}
}

// NewErrorf creates a new EnsembleError with a formatted message.
func NewErrorf(code, format string, args ...any) *EnsembleError {
	return &EnsembleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node reference to the error.
func (e *EnsembleError) WithNode(stageIdx, nodeIdx int) *EnsembleError {
	e.NodeRef = fmt.Sprintf("stage[%d].node[%d]", stageIdx, nodeIdx)
	return e
}

// WithCause attaches an underlying cause.
func (e *EnsembleError) WithCause(err error) *EnsembleError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EnsembleError) WithDetails(details map[string]any) *EnsembleError {
	e.Details = details
	return e
}
