package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLineChunkerValidation(t *testing.T) {
	_, err := NewLineChunker(MaxLines(0))
	assert.Error(t, err)

	_, err = NewLineChunker(MaxLines(10), Overlap(10))
	assert.Error(t, err)

	_, err = NewLineChunker(Overlap(-1))
	assert.Error(t, err)

	_, err = NewLineChunker(MaxChunkSize(0))
	assert.Error(t, err)

	c, err := NewLineChunker()
	require.NoError(t, err)
	assert.Equal(t, 150, c.MaxLines)
	assert.Equal(t, 30, c.Overlap)
	assert.Equal(t, 10000, c.MaxChunkSize)
}

func TestChunkOverlappingWindows(t *testing.T) {
	c, err := NewLineChunker(MaxLines(3), Overlap(1))
	require.NoError(t, err)

	chunks := c.Chunk("a\nb\nc\nd\ne")
	require.Len(t, chunks, 3)
	assert.Equal(t, "a\nb\nc", chunks[0].Content)
	assert.Equal(t, "c\nd\ne", chunks[1].Content)
	assert.Equal(t, "e", chunks[2].Content)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c, err := NewLineChunker()
	require.NoError(t, err)

	assert.Nil(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("\n\n\n"))
	assert.Empty(t, c.Chunk("   \n\t\n "))
}

func TestChunkDeterministic(t *testing.T) {
	c, err := NewLineChunker(MaxLines(4), Overlap(2))
	require.NoError(t, err)

	text := "one\ntwo\nthree\nfour\nfive\nsix\nseven"
	first := c.Chunk(text)
	second := c.Chunk(text)
	assert.Equal(t, first, second)
}

func TestChunkSkipsBlankWindows(t *testing.T) {
	c, err := NewLineChunker(MaxLines(2), Overlap(0))
	require.NoError(t, err)

	chunks := c.Chunk("a\nb\n\n\nc\nd")
	require.Len(t, chunks, 2)
	assert.Equal(t, "a\nb", chunks[0].Content)
	assert.Equal(t, "c\nd", chunks[1].Content)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunkOversizeWindowIsSubdivided(t *testing.T) {
	c, err := NewLineChunker(MaxLines(2), Overlap(0), MaxChunkSize(50))
	require.NoError(t, err)

	long := strings.Repeat("word ", 40) // 200 chars on one line
	chunks := c.Chunk(long)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 50)
		assert.NotEmpty(t, strings.TrimSpace(chunk.Content))
	}
	// Subdivided pieces still carry dense indices.
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunkLongLineTriggersCharSplit(t *testing.T) {
	// A single line longer than 80% of the cap forces character splitting
	// even when the window as a whole fits.
	c, err := NewLineChunker(MaxLines(5), Overlap(0), MaxChunkSize(100))
	require.NoError(t, err)

	line := strings.Repeat("x", 85)
	chunks := c.Chunk(line + "\nshort")
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 100)
	}
}

func TestSplitByCharsPrefersBreakPoints(t *testing.T) {
	pieces := splitByChars("alpha beta gamma delta epsilon", 12)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 12)
		assert.NotEmpty(t, p)
	}
	// Cuts land after whitespace, so words survive intact.
	assert.Equal(t, "alpha beta", pieces[0])
}

func TestSplitByCharsHardCut(t *testing.T) {
	// No break points at all: pieces are cut at the cap.
	pieces := splitByChars(strings.Repeat("x", 25), 10)
	require.Len(t, pieces, 3)
	assert.Equal(t, 10, len(pieces[0]))
	assert.Equal(t, 10, len(pieces[1]))
	assert.Equal(t, 5, len(pieces[2]))
}

func TestSplitByCharsKeepsRunesIntact(t *testing.T) {
	// No break bytes anywhere, and the hard cap lands mid-rune: cuts must
	// back off to a rune boundary instead of emitting invalid UTF-8.
	s := strings.Repeat("é", 20) // 2 bytes each
	pieces := splitByChars(s, 5)
	require.NotEmpty(t, pieces)
	total := 0
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p), "piece %q is not valid UTF-8", p)
		assert.LessOrEqual(t, len(p), 5)
		total += utf8.RuneCountInString(p)
	}
	assert.Equal(t, 20, total)

	// Mixed text with multi-byte runes near the cap.
	pieces = splitByChars("日本語のテキストを分割する", 7)
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p), "piece %q is not valid UTF-8", p)
	}
}

func TestChunkOversizeUnicodeWindow(t *testing.T) {
	c, err := NewLineChunker(MaxLines(1), Overlap(0), MaxChunkSize(10))
	require.NoError(t, err)

	chunks := c.Chunk(strings.Repeat("ü", 30))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.Content))
		assert.LessOrEqual(t, len(chunk.Content), 10)
	}
}

func TestTokenCounting(t *testing.T) {
	counter := &DefaultTokenCounter{}
	assert.Equal(t, 3, counter.Count("one two three"))
	assert.Equal(t, 0, counter.Count(""))

	c, err := NewLineChunker(MaxLines(2), Overlap(0))
	require.NoError(t, err)
	chunks := c.Chunk("one two\nthree")
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].TokenSize)
}
