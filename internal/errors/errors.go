package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all fatal engine failure modes
type ErrorCode string

const (
	// ConfigInvalid indicates the configuration could not be compiled
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// CorpusUnreadable indicates the corpus root is missing or not readable
	CorpusUnreadable ErrorCode = "CORPUS_UNREADABLE"
	// UnknownMode indicates an unsupported scan mode was requested
	UnknownMode ErrorCode = "UNKNOWN_MODE"
	// OutputFailed indicates the report could not be written
	OutputFailed ErrorCode = "OUTPUT_FAILED"
	// HistoryFailed indicates the report history archive could not be used
	HistoryFailed ErrorCode = "HISTORY_FAILED"
	// ScanSuperseded indicates the scan was cancelled by a newer change event
	ScanSuperseded ErrorCode = "SCAN_SUPERSEDED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrSuperseded is the sentinel for scans cancelled because newer input arrived.
// It is a status, not a failure.
var ErrSuperseded = stderrors.New("scan superseded by a newer change")

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests editing the configuration file
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	Field       string        `json:"field,omitempty"`
}

// TraceError represents an engine error with code, message, and suggestions
type TraceError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new TraceError with the default suggested fixes for its code
func New(code ErrorCode, message string, cause error) *TraceError {
	return &TraceError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *TraceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TraceError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match a superseded TraceError against ErrSuperseded.
func (e *TraceError) Is(target error) bool {
	return target == ErrSuperseded && e.Code == ScanSuperseded
}

// WithDetails adds details to the error
func (e *TraceError) WithDetails(details interface{}) *TraceError {
	e.Details = details
	return e
}

// CodeOf extracts the error code from err, or InternalError when err is not a TraceError.
func CodeOf(err error) ErrorCode {
	var te *TraceError
	if stderrors.As(err, &te) {
		return te.Code
	}
	if stderrors.Is(err, ErrSuperseded) {
		return ScanSuperseded
	}
	return InternalError
}

// IsFatal reports whether err must abort a scan before any report is produced.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) != ScanSuperseded
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "tracescan config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
		{
			Type:        EditConfig,
			Description: "Fix the invalid field in .tracescan/config.json",
		},
	},
	CorpusUnreadable: {
		{
			Type:        RunCommand,
			Command:     "ls -la ${root}",
			Safe:        true,
			Description: "Check that the corpus root exists and is readable",
		},
	},
	UnknownMode: {
		{
			Type:        RunCommand,
			Command:     "tracescan scan --help",
			Safe:        true,
			Description: "List the supported scan modes",
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
