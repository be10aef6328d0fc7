package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is a fragment of one document. Index values are dense within a
// document, starting at 0 in emission order.
type Chunk struct {
	// Content is the trimmed chunk text.
	Content string
	// Index is the chunk's position within its document.
	Index int
	// TokenSize is the token count reported by the chunker's TokenCounter.
	TokenSize int
}

// Chunker splits a document's text into chunks.
type Chunker interface {
	Chunk(text string) []Chunk
}

// TokenCounter counts tokens in a piece of text. Implementations range from
// whitespace splitting to model-exact subword tokenization.
type TokenCounter interface {
	Count(text string) int
}

// Line chunker defaults.
const (
	defaultMaxLines     = 150
	defaultOverlap      = 30
	defaultMaxChunkSize = 10000
)

// LineChunker splits text deterministically on line boundaries, with a
// configurable overlap between windows and a hard character cap per chunk.
// Two calls with the same input and configuration produce identical output.
type LineChunker struct {
	// MaxLines is the number of lines per window.
	MaxLines int
	// Overlap is the number of lines shared between consecutive windows.
	Overlap int
	// MaxChunkSize is the hard cap, in characters, on any emitted chunk.
	MaxChunkSize int
	// TokenCounter annotates emitted chunks with their token count.
	TokenCounter TokenCounter
}

// LineChunkerOption configures a LineChunker.
type LineChunkerOption func(*LineChunker)

// MaxLines sets the number of lines per window.
func MaxLines(n int) LineChunkerOption {
	return func(c *LineChunker) {
		c.MaxLines = n
	}
}

// Overlap sets the number of lines shared between consecutive windows.
func Overlap(n int) LineChunkerOption {
	return func(c *LineChunker) {
		c.Overlap = n
	}
}

// MaxChunkSize sets the hard character cap per chunk.
func MaxChunkSize(n int) LineChunkerOption {
	return func(c *LineChunker) {
		c.MaxChunkSize = n
	}
}

// WithTokenCounter sets a custom token counter. By default chunks are counted
// by whitespace-separated words.
func WithTokenCounter(counter TokenCounter) LineChunkerOption {
	return func(c *LineChunker) {
		c.TokenCounter = counter
	}
}

// NewLineChunker creates a LineChunker, validating the configuration:
// MaxLines and MaxChunkSize must be positive and Overlap must be
// non-negative and smaller than MaxLines.
func NewLineChunker(opts ...LineChunkerOption) (*LineChunker, error) {
	c := &LineChunker{
		MaxLines:     defaultMaxLines,
		Overlap:      defaultOverlap,
		MaxChunkSize: defaultMaxChunkSize,
		TokenCounter: &DefaultTokenCounter{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.MaxLines <= 0 {
		return nil, &ConfigurationError{Field: "maxLines", Reason: "must be positive"}
	}
	if c.Overlap < 0 {
		return nil, &ConfigurationError{Field: "overlap", Reason: "must be non-negative"}
	}
	if c.Overlap >= c.MaxLines {
		return nil, &ConfigurationError{Field: "overlap", Reason: "must be smaller than maxLines"}
	}
	if c.MaxChunkSize <= 0 {
		return nil, &ConfigurationError{Field: "maxChunkSize", Reason: "must be positive"}
	}
	return c, nil
}

// Chunk splits text into overlapping windows of MaxLines lines, advancing by
// max(1, MaxLines-Overlap) lines per step. Windows whose trimmed content is
// empty are skipped; windows that exceed MaxChunkSize, or contain a single
// line longer than 80% of it, are subdivided by character splitting.
func (c *LineChunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	step := c.MaxLines - c.Overlap
	if step < 1 {
		step = 1
	}
	longLine := c.MaxChunkSize * 4 / 5

	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		window := lines[start:end]
		joined := strings.Join(window, "\n")
		trimmed := strings.TrimSpace(joined)
		if trimmed == "" {
			continue
		}

		oversize := len(joined) > c.MaxChunkSize
		if !oversize {
			for _, line := range window {
				if len(line) > longLine {
					oversize = true
					break
				}
			}
		}

		if oversize {
			for _, piece := range splitByChars(joined, c.MaxChunkSize) {
				chunks = append(chunks, c.emit(piece, len(chunks)))
			}
		} else {
			chunks = append(chunks, c.emit(trimmed, len(chunks)))
		}
	}
	return chunks
}

func (c *LineChunker) emit(content string, index int) Chunk {
	chunk := Chunk{Content: content, Index: index}
	if c.TokenCounter != nil {
		chunk.TokenSize = c.TokenCounter.Count(content)
	}
	return chunk
}

// splitByChars walks s greedily in pieces of up to max characters. Each cut
// prefers the last whitespace or punctuation within the final 20% of the
// window; if none is found the piece is cut at the hard cap, backed off to
// the nearest rune boundary so a multi-byte rune is never split. Pieces are
// trimmed and empty pieces are dropped.
func splitByChars(s string, max int) []string {
	var pieces []string
	for len(s) > 0 {
		if len(s) <= max {
			if p := strings.TrimSpace(s); p != "" {
				pieces = append(pieces, p)
			}
			break
		}

		cut := 0
		floor := max - max/5
		for i := max - 1; i >= floor; i-- {
			if isBreakByte(s[i]) {
				cut = i + 1
				break
			}
		}
		if cut == 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				// A rune wider than the cap; splitting it is the only option.
				cut = max
			}
		}

		if p := strings.TrimSpace(s[:cut]); p != "" {
			pieces = append(pieces, p)
		}
		s = s[cut:]
	}
	return pieces
}

func isBreakByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ',', '.', ';', '!', '?':
		return true
	}
	return false
}

// DefaultTokenCounter approximates token counts by splitting on whitespace.
type DefaultTokenCounter struct{}

// Count returns the number of whitespace-separated words in text.
func (dtc *DefaultTokenCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TikTokenCounter counts tokens exactly as OpenAI models tokenize, using the
// tiktoken library.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter creates a TikTokenCounter for the given encoding, e.g.
// "cl100k_base".
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding: %w", err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

// Count returns the exact token count for text under the configured encoding.
func (ttc *TikTokenCounter) Count(text string) int {
	return len(ttc.tke.Encode(text, nil, nil))
}
