// Package ragstore exposes the library's logging interface. Every component
// accepts a Logger; without one, the package-level logger is used.
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
)

// LogLevel represents the severity of a log message. Higher values are more
// verbose.
type LogLevel = rag.LogLevel

// Log levels, from silent to most verbose.
const (
	LogLevelOff   = rag.LogLevelOff
	LogLevelError = rag.LogLevelError
	LogLevelWarn  = rag.LogLevelWarn
	LogLevelInfo  = rag.LogLevelInfo
	LogLevelDebug = rag.LogLevelDebug
)

// Logger is the logging interface used throughout the library. Messages are
// structured as a text line plus alternating key-value pairs, so adapters
// over structured loggers are straightforward to write.
type Logger = rag.Logger

// NewLogger creates the default stderr logger at the given level.
func NewLogger(level LogLevel) Logger {
	return rag.NewLogger(level)
}

// SetGlobalLogLevel adjusts the verbosity of the package-level logger used
// by components that were not given their own.
func SetGlobalLogLevel(level LogLevel) {
	rag.SetGlobalLogLevel(level)
}
