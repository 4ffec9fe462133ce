// Package herr defines the engine's stable error taxonomy: every failure
// that crosses a command-surface boundary carries a machine-readable code,
// a one-sentence human message, and optional redacted diagnostic details.
package herr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code. Callers (CLI, desktop IPC)
// map codes to behavior (exit codes, UI copy); never match on Message.
type Code string

const (
	CodeInvalidConfig      Code = "invalid_config"
	CodeNotAGitRepo        Code = "not_a_git_repo"
	CodeDirtyWorktree      Code = "dirty_worktree"
	CodeExperimentalBlocked Code = "experimental_blocked"
	CodeSafetyGate         Code = "safety_gate"
	CodeBudgetExceeded     Code = "budget_exceeded"
	CodeBinaryMissing      Code = "binary_missing"
	CodeAuthMissing        Code = "auth_missing"
	CodeUnsupportedVersion Code = "unsupported_version"
	CodeUnsupportedFlag    Code = "unsupported_flag"
	CodeSpawnFailed        Code = "spawn_failed"
	CodeStreamParseError   Code = "stream_parse_error"
	CodeTimeout            Code = "timeout"
	CodeInterrupted        Code = "interrupted"
	CodeParserDegraded     Code = "parser_degraded"
	CodeStorageFailed      Code = "storage_failed"
	CodeLockContention     Code = "lock_contention"
	CodeScoringUnavailable Code = "scoring_unavailable"
	CodeMergeConflict      Code = "merge_conflict"
	CodeMergeFailed        Code = "merge_failed"
	CodeSessionUnknown     Code = "unknown_session"
	CodeSessionNotRunning  Code = "session_not_running"
	CodeNotReady           Code = "not_ready"
	CodeNotFound           Code = "not_found"
	CodeInternal           Code = "internal"
)

// Error is the engine's uniform error shape: {code, message, details?}.
type Error struct {
	Code    Code
	Message string
	Details string
	cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New constructs a fresh Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a fresh Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and human message to an underlying error, preserving
// it for errors.Is/errors.As and recording its text as Details.
func Wrap(code Code, cause error, message string) *Error {
	if cause == nil {
		return New(code, message)
	}
	return &Error{Code: code, Message: message, Details: cause.Error(), cause: cause}
}

// WithDetails returns a copy of e with Details set (e.g. a redacted stderr
// excerpt or the attempted command).
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts an *Error from err, if present in its chain.
func As(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err, or CodeInternal if err does not
// wrap an *Error.
func CodeOf(err error) Code {
	if he, ok := As(err); ok {
		return he.Code
	}
	return CodeInternal
}

// ExitCode maps a Code to the CLI exit-code table from the external
// interface spec. Unlisted codes map to a generic failure (1).
func ExitCode(c Code) int {
	switch c {
	case "":
		return 0
	case CodeInvalidConfig:
		return 2
	case CodeNotAGitRepo:
		return 3
	case CodeBinaryMissing, CodeNotReady, CodeExperimentalBlocked:
		return 4
	case CodeBudgetExceeded:
		return 5
	case CodeMergeConflict:
		return 6
	case CodeInterrupted:
		return 7
	default:
		return 1
	}
}
