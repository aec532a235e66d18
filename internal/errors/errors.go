// Package errors provides structured error types for the ShopSignal pipeline.
// Every error carries the stage that raised it, a code from the fixed
// taxonomy, and enough detail to diagnose without re-running verbose.
package errors

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage that raised an error.
type Stage string

const (
	StageIngest     Stage = "INGEST"
	StageCompaction Stage = "COMPACTION"
	StageDimension  Stage = "DIMENSION"
	StageSegment    Stage = "SEGMENT"
	StageAffinity   Stage = "AFFINITY"
	StageFeature    Stage = "FEATURE"
	StageExperiment Stage = "EXPERIMENT"
	StageStore      Stage = "STORE"
	StageStorage    Stage = "STORAGE"
	StageInternal   Stage = "INTERNAL"
)

// Error codes for the pipeline taxonomy.
const (
	// CodeMalformedRecord marks a skipped input record. Non-fatal: records
	// are skipped and counted, never aborting the run.
	CodeMalformedRecord = "MALFORMED_RECORD"

	// CodeRangeOverflow marks a narrowing cast that would lose information.
	CodeRangeOverflow = "RANGE_OVERFLOW"

	// CodeWindowOverlap marks an observation/prediction window configuration
	// that would leak prediction-window information into features.
	CodeWindowOverlap = "WINDOW_OVERLAP"

	// CodeInvalidParameter marks a calculator input outside its domain.
	CodeInvalidParameter = "INVALID_PARAMETER"

	// CodeInsufficientData marks a run with too little data for a stage
	// (e.g. fewer than five purchasing users for quintile scoring).
	CodeInsufficientData = "INSUFFICIENT_DATA"

	// Store and artifact storage codes.
	CodeWriteFailed    = "WRITE_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeCorruptBatch   = "CORRUPT_BATCH"

	// Internal codes.
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Stage   Stage
	Code    string
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's stage and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Stage == t.Stage && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(stage Stage, code, message string) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Code:    code,
		Message: message,
	}
}

// Newf creates a new PipelineError with a formatted message.
func Newf(stage Stage, code, format string, args ...interface{}) *PipelineError {
	return New(stage, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(stage Stage, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// GetStage extracts the stage from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetStage(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code string) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Convenience constructors for the fatal taxonomy.

func NewRangeOverflow(stage Stage, field string, value, limit uint64) *PipelineError {
	return Newf(stage, CodeRangeOverflow,
		"narrowing %s would truncate value %d (limit %d)", field, value, limit).
		WithDetails(map[string]interface{}{"field": field, "value": value, "limit": limit})
}

func NewWindowOverlap(message string) *PipelineError {
	return New(StageFeature, CodeWindowOverlap, message)
}

func NewInvalidParameter(field string, value interface{}) *PipelineError {
	return Newf(StageExperiment, CodeInvalidParameter,
		"parameter %s out of domain: %v", field, value).
		WithDetails(map[string]interface{}{"field": field, "value": value})
}

func NewInsufficientData(stage Stage, message string) *PipelineError {
	return New(stage, CodeInsufficientData, message)
}
