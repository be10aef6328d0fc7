package rag

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func drainLoader(t *testing.T, loader Loader) ([]Document, error) {
	t.Helper()
	docs, errs := loader.Load(context.Background())
	var out []Document
	for doc := range docs {
		out = append(out, doc)
	}
	return out, <-errs
}

func TestDirectoryLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "notes.md", "# notes")
	writeFile(t, dir, "sub/b.txt", "beta")
	writeFile(t, dir, "image.png", "not parseable")

	loader := NewDirectoryLoader(dir, WithLoaderLogger(NewLogger(LogLevelOff)))
	docs, err := drainLoader(t, loader)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	paths := make([]string, len(docs))
	for i, doc := range docs {
		paths[i] = doc.Metadata["path"].(string)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"a.txt", "notes.md", filepath.Join("sub", "b.txt")}, paths)
}

func TestDirectoryLoaderWithoutRecursion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "sub/b.txt", "beta")

	loader := NewDirectoryLoader(dir,
		WithoutRecursion(),
		WithLoaderLogger(NewLogger(LogLevelOff)))
	docs, err := drainLoader(t, loader)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "alpha", docs[0].Content)
}

func TestDirectoryLoaderMetadataFunc(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")

	loader := NewDirectoryLoader(dir,
		WithMetadataFunc(func(relPath string) map[string]any {
			return map[string]any{"filePath": relPath, "projectId": int64(7)}
		}),
		WithLoaderLogger(NewLogger(LogLevelOff)))
	docs, err := drainLoader(t, loader)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].Metadata["filePath"])
	assert.Equal(t, int64(7), docs[0].Metadata["projectId"])
}

func TestDirectoryLoaderMissingRoot(t *testing.T) {
	loader := NewDirectoryLoader(filepath.Join(t.TempDir(), "missing"),
		WithLoaderLogger(NewLogger(LogLevelOff)))
	_, err := drainLoader(t, loader)
	assert.Error(t, err)
}

func TestDirectoryLoaderCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewDirectoryLoader(dir, WithLoaderLogger(NewLogger(LogLevelOff)))
	docs, errs := loader.Load(ctx)
	for range docs {
	}
	assert.Error(t, <-errs)
}

func TestTextParser(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello\nworld")

	pm := NewParserManager()
	doc, err := pm.Parse(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", doc.Content)
	assert.Equal(t, "text", doc.Metadata["fileType"])

	_, err = pm.Parse(filepath.Join(dir, "a.exe"))
	assert.Error(t, err)

	assert.True(t, pm.Supports("readme.md"))
	assert.True(t, pm.Supports("doc.PDF"))
	assert.False(t, pm.Supports("binary.exe"))
}

func TestParserManagerCustomParser(t *testing.T) {
	pm := NewParserManager()
	pm.SetFileTypeDetector(func(path string) string {
		return "custom"
	})
	pm.AddParser("custom", &TextParser{})

	dir := t.TempDir()
	writeFile(t, dir, "data.bin", "payload")
	doc, err := pm.Parse(filepath.Join(dir, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", doc.Content)
}
