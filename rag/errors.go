// Package rag implements the storage, retrieval, and ingestion engine behind
// the ragstore public API. Errors raised by the package fall into a small
// taxonomy so that callers (and the ingest pipeline's retry policy) can tell
// configuration mistakes from transient infrastructure failures.
package rag

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationIssue describes a single failed check on an input value.
type ValidationIssue struct {
	// Path locates the offending value, e.g. "metadata.fileSha".
	Path string
	// Message is a human-readable description of the failure.
	Message string
	// Expected names the type or shape that was required.
	Expected string
	// Received describes what was actually supplied.
	Received string
}

// ValidationError reports one or more input values that failed the declared
// schema or a numeric precondition. Validation errors are never retried.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		if issue.Expected != "" || issue.Received != "" {
			parts[i] = fmt.Sprintf("%s: %s (expected %s, received %s)",
				issue.Path, issue.Message, issue.Expected, issue.Received)
		} else {
			parts[i] = fmt.Sprintf("%s: %s", issue.Path, issue.Message)
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// newValidationError builds a single-issue ValidationError.
func newValidationError(path, message, expected, received string) *ValidationError {
	return &ValidationError{Issues: []ValidationIssue{{
		Path:     path,
		Message:  message,
		Expected: expected,
		Received: received,
	}}}
}

// ConfigurationError reports a missing or invalid value supplied at
// construction time. Configuration errors are fatal.
type ConfigurationError struct {
	// Field is the configuration option at fault.
	Field string
	// Reason explains what is wrong with it.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// DatabaseErrorCode classifies database failures.
type DatabaseErrorCode string

const (
	DBConnectionFailed    DatabaseErrorCode = "connection_failed"
	DBQueryFailed         DatabaseErrorCode = "query_failed"
	DBTransactionFailed   DatabaseErrorCode = "transaction_failed"
	DBTableNotFound       DatabaseErrorCode = "table_not_found"
	DBConstraintViolation DatabaseErrorCode = "constraint_violation"
	DBTimeout             DatabaseErrorCode = "timeout"
)

// DatabaseError wraps a driver-level failure with the operation that caused
// it. The raw query text is deliberately not carried.
type DatabaseError struct {
	Code  DatabaseErrorCode
	Op    string
	Table string
	Err   error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database %s: %s", e.Op, e.Code)
	if e.Table != "" {
		msg += " (table " + e.Table + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Retriable reports whether the failure is worth retrying. Schema problems
// and constraint violations will not fix themselves.
func (e *DatabaseError) Retriable() bool {
	switch e.Code {
	case DBTableNotFound, DBConstraintViolation:
		return false
	}
	return true
}

// OperationError reports a higher-level logical failure, such as asking for a
// document that does not exist. Operation errors are not retriable.
type OperationError struct {
	Code string
	Op   string
	Msg  string
}

const (
	OpDocumentNotFound = "document_not_found"
	OpInvalidOperation = "invalid_operation"
)

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
}

// retriabler is implemented by error types that know their own retry policy
// (DatabaseError here, APIError in the providers package).
type retriabler interface {
	Retriable() bool
}

// Retriable classifies an arbitrary error for retry purposes. Validation,
// configuration, and operation errors are never retried; errors that carry
// their own policy are asked; anything unknown is assumed transient.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return false
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return false
	}
	var r retriabler
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return true
}
