// Package ragstore provides a high-level interface for building the data
// plane of retrieval-augmented generation (RAG) systems on PostgreSQL with
// the pgvector extension. It covers the whole path from raw documents to
// retrieved context: deterministic chunking, embedding, transactional
// storage, and similarity search with metadata filtering.
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
)

// Chunk represents one fragment of a document, carrying its text, its
// position within the document, and its token count. Indices are dense and
// start at zero, so a document's chunks can always be reassembled in order.
type Chunk = rag.Chunk

// Chunker defines the interface for text chunking implementations.
// Implementations split a document's text into chunks; splitting must be
// deterministic so that re-ingesting an unchanged document produces
// identical chunks.
type Chunker interface {
	// Chunk splits the input text into a slice of Chunks according to the
	// implementation's strategy.
	Chunk(text string) []Chunk
}

// TokenCounter defines the interface for counting tokens in text.
// Different implementations can provide various tokenization strategies,
// from simple word-based counting to model-specific subword tokenization.
type TokenCounter interface {
	// Count returns the number of tokens in the given text according to
	// the implementation's tokenization strategy.
	Count(text string) int
}

// ChunkerOption is a function type for configuring the line chunker.
// It follows the functional options pattern for clean and flexible
// configuration.
type ChunkerOption = rag.LineChunkerOption

// NewChunker creates a line-based Chunker with the given options.
// By default it creates a chunker with:
//   - Window size: 150 lines
//   - Overlap: 30 lines
//   - Hard cap: 10000 characters per chunk
//   - Default word-based token counter
//
// Use the provided option functions to customize these settings.
// Returns an error when the configuration is inconsistent, e.g. an overlap
// as large as the window.
func NewChunker(options ...ChunkerOption) (Chunker, error) {
	return rag.NewLineChunker(options...)
}

// MaxLines sets the number of lines per chunk window.
func MaxLines(n int) ChunkerOption {
	return rag.MaxLines(n)
}

// Overlap sets the number of lines shared between consecutive windows.
// Overlap keeps context that straddles a window boundary retrievable from
// both sides.
func Overlap(n int) ChunkerOption {
	return rag.Overlap(n)
}

// MaxChunkSize sets the hard character cap per chunk. Windows that exceed
// it, including single pathological lines, are subdivided at whitespace or
// punctuation.
func MaxChunkSize(n int) ChunkerOption {
	return rag.MaxChunkSize(n)
}

// WithTokenCounter sets a custom token counter implementation.
// This allows you to use different tokenization strategies, such as:
//   - Word-based counting (DefaultTokenCounter)
//   - Model-specific tokenization (TikTokenCounter)
func WithTokenCounter(counter TokenCounter) ChunkerOption {
	return rag.WithTokenCounter(counter)
}

// NewDefaultTokenCounter creates a simple word-based token counter
// that splits text on whitespace. Suitable for basic use cases
// where exact token counts aren't critical.
func NewDefaultTokenCounter() TokenCounter {
	return &rag.DefaultTokenCounter{}
}

// NewTikTokenCounter creates a token counter using the tiktoken library,
// which implements the same tokenization used by OpenAI models.
// The encoding parameter specifies which tokenization model to use
// (e.g., "cl100k_base" for GPT-4).
func NewTikTokenCounter(encoding string) (TokenCounter, error) {
	return rag.NewTikTokenCounter(encoding)
}
