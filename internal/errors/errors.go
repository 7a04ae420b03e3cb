package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// NotFound indicates the requested function, symbol, address or section is absent
	NotFound ErrorCode = "NOT_FOUND"
	// SnapshotNotFound indicates the snapshot path does not exist
	SnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	// SnapshotCorrupt indicates a mandatory file is missing or a file violates its schema
	SnapshotCorrupt ErrorCode = "SNAPSHOT_CORRUPT"
	// InvalidQuery indicates a malformed filter or pattern
	InvalidQuery ErrorCode = "INVALID_QUERY"
	// Timeout indicates a scan exceeded its time or match ceiling
	Timeout ErrorCode = "TIMEOUT"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Drilldown represents a suggested follow-up query
type Drilldown struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// KernError represents a kernscope error with code, message, and suggestions
type KernError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	Drilldowns     []Drilldown `json:"drilldowns,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewKernError creates a new KernError
func NewKernError(code ErrorCode, message string, cause error, suggestedFixes []FixAction, drilldowns []Drilldown) *KernError {
	return &KernError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
		Drilldowns:     drilldowns,
	}
}

// New creates a KernError carrying the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *KernError {
	return NewKernError(code, message, cause, GetSuggestedFixes(code), nil)
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *KernError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *KernError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *KernError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *KernError) WithDetails(details interface{}) *KernError {
	e.Details = details
	return e
}

// WithDrilldowns attaches follow-up queries to the error
func (e *KernError) WithDrilldowns(drilldowns ...Drilldown) *KernError {
	e.Drilldowns = append(e.Drilldowns, drilldowns...)
	return e
}

// CodeOf returns the code of the first KernError in err's chain,
// or InternalError when err carries no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ke *KernError
	if stderrors.As(err, &ke) {
		return ke.Code
	}
	return InternalError
}

// IsCode reports whether err's chain holds a KernError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ke *KernError
	return stderrors.As(err, &ke) && ke.Code == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	SnapshotNotFound: {
		{
			Type:        RunCommand,
			Command:     "ls <snapshot-dir>",
			Safe:        true,
			Description: "Point at an extracted snapshot directory or a <binary>_archive.zip",
		},
	},
	SnapshotCorrupt: {
		{
			Type:        RunCommand,
			Command:     "kernscope files <snapshot>",
			Safe:        true,
			Description: "List snapshot artifacts and re-run the extractor for missing ones",
		},
	},
	InvalidQuery: {
		{
			Type:        OpenDocs,
			Description: "Patterns use RE2 syntax; addresses are hex with or without 0x",
			URL:         "https://github.com/google/re2/wiki/Syntax",
		},
	},
	Timeout: {
		{
			Type:        RunCommand,
			Command:     "kernscope ${retry_command} --limit 50",
			Safe:        true,
			Description: "Narrow the pattern or lower the limit; results so far were returned",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
