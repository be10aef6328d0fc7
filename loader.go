// Package ragstore exposes the built-in document loaders and parsers.
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
)

// DirectoryLoader streams the parseable files under a directory tree as
// documents, one per file. Plain text, Markdown, and PDF files are parsed
// by default; other files are skipped.
type DirectoryLoader = rag.DirectoryLoader

// DirectoryLoaderOption configures a DirectoryLoader.
type DirectoryLoaderOption = rag.DirectoryLoaderOption

// NewDirectoryLoader creates a loader over the given directory. The default
// metadata for each document is {"path": relPath}; use WithMetadataFunc to
// derive the fields your schema declares.
//
// Example:
//
//	loader := ragstore.NewDirectoryLoader("./docs",
//	    ragstore.WithMetadataFunc(func(relPath string) map[string]any {
//	        return map[string]any{"filePath": relPath}
//	    }),
//	)
func NewDirectoryLoader(root string, opts ...DirectoryLoaderOption) *DirectoryLoader {
	return rag.NewDirectoryLoader(root, opts...)
}

// WithMetadataFunc replaces the default per-file metadata.
func WithMetadataFunc(fn func(relPath string) map[string]any) DirectoryLoaderOption {
	return rag.WithMetadataFunc(fn)
}

// WithParserManager replaces the default parser manager, e.g. to register
// parsers for additional file types.
func WithParserManager(pm *ParserManager) DirectoryLoaderOption {
	return rag.WithParserManager(pm)
}

// WithoutRecursion restricts loading to the root directory itself.
func WithoutRecursion() DirectoryLoaderOption {
	return rag.WithoutRecursion()
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger Logger) DirectoryLoaderOption {
	return rag.WithLoaderLogger(logger)
}

// ParserManager routes files to the parser registered for their detected
// type.
type ParserManager = rag.ParserManager

// FileParser extracts a document's text from a file on disk. Custom
// implementations can be registered with a ParserManager.
type FileParser = rag.FileParser

// NewParserManager creates a ParserManager with the built-in parsers for
// plain text, Markdown, and PDF files.
func NewParserManager() *ParserManager {
	return rag.NewParserManager()
}
