// Package ragstore exposes the library's error taxonomy. Errors fall into a
// small set of types so that callers can tell configuration mistakes and
// bad input from transient infrastructure failures, and decide what is
// worth retrying.
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
	"github.com/teilomillet/ragstore/rag/providers"
)

// ValidationError reports input values that failed the declared schema or a
// numeric precondition. Validation errors are never retried.
type ValidationError = rag.ValidationError

// ValidationIssue describes a single failed check inside a ValidationError.
type ValidationIssue = rag.ValidationIssue

// ConfigurationError reports a missing or invalid value supplied at
// construction time. Configuration errors are fatal.
type ConfigurationError = rag.ConfigurationError

// DatabaseError wraps a driver-level failure with the operation and table
// that caused it.
type DatabaseError = rag.DatabaseError

// DatabaseErrorCode classifies database failures.
type DatabaseErrorCode = rag.DatabaseErrorCode

// The database error codes.
const (
	DBConnectionFailed    = rag.DBConnectionFailed
	DBQueryFailed         = rag.DBQueryFailed
	DBTransactionFailed   = rag.DBTransactionFailed
	DBTableNotFound       = rag.DBTableNotFound
	DBConstraintViolation = rag.DBConstraintViolation
	DBTimeout             = rag.DBTimeout
)

// APIError reports a failure from an embedding provider, classified by
// cause. Rate limits carry the server's Retry-After hint when present.
type APIError = providers.APIError

// Retriable classifies an arbitrary error for retry purposes: validation,
// configuration, and operation errors are never retried; database and
// provider errors are asked for their own policy; unknown errors are
// assumed transient. The ingestion pipeline uses the same classification
// for its retry decisions.
func Retriable(err error) bool {
	return rag.Retriable(err)
}
