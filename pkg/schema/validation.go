package schema

import "fmt"

// ValidationOutcome tags the result of the plan validation/repair pass.
type ValidationOutcome string

const (
	OutcomeOK        ValidationOutcome = "ok"        // plan accepted as-is
	OutcomeCorrected ValidationOutcome = "corrected" // accepted after name repairs
	OutcomeFallback  ValidationOutcome = "fallback"  // accepted after synthesizer substitution
	OutcomeFatal     ValidationOutcome = "fatal"     // rejected, nothing was scheduled
)

// CorrectionKind classifies a repair applied to planner output.
type CorrectionKind string

const (
	CorrectionName        CorrectionKind = "name_corrected"
	CorrectionSynthesizer CorrectionKind = "synthesizer_fallback"
)

// Correction records one repair applied during validation, for the audit trail.
type Correction struct {
	Kind    CorrectionKind `json:"kind"`
	NodeRef string         `json:"node_ref,omitempty"`
	Field   string         `json:"field"`
	Was     string         `json:"was"`
	Now     string         `json:"now"`
}

// ValidationIssue is a single validation problem with location context.
type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates the outcome of the validation/repair pass.
// A fatal result carries at least one error; a corrected or fallback result
// carries at least one correction.
type ValidationResult struct {
	Outcome     ValidationOutcome `json:"outcome"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
	Warnings    []ValidationIssue `json:"warnings,omitempty"`
	Corrections []Correction      `json:"corrections,omitempty"`
}

// Valid returns true if the plan may be compiled (warnings and corrections
// are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message})
}

// AddWarning appends a warning issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message})
}

// ToError converts the result to an EnsembleError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("plan rejected with %d errors", len(r.Errors))
	}

	code := first.Code
	if code == "" {
		code = ErrCodeValidation
	}

	return NewError(code, msg).WithDetails(map[string]any{
		"error_count": len(r.Errors),
		"errors":      r.Errors,
		"warnings":    r.Warnings,
	})
}
