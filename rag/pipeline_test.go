package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/ragstore/rag/providers"
)

// stubEmbedder returns fixed-size vectors and records the batch sizes it was
// asked for. failFirst makes the first call fail with a retriable error.
type stubEmbedder struct {
	mu        sync.Mutex
	dims      int
	batches   [][]string
	failFirst bool
	failed    bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst && !s.failed {
		s.failed = true
		return nil, &providers.APIError{Code: providers.ErrRateLimitExceeded, Message: "slow down"}
	}
	s.batches = append(s.batches, append([]string(nil), texts...))
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, s.dims)
		vectors[i][0] = float32(i)
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

// stubWriter records inserts; failures holds per-document errors returned
// once per key in order.
type stubWriter struct {
	mu       sync.Mutex
	schema   *MetadataSchema
	inserts  []stubInsert
	failures map[string][]error
}

type stubInsert struct {
	metadata map[string]any
	chunks   []EmbeddedChunk
}

func (s *stubWriter) Insert(ctx context.Context, metadata map[string]any, chunks []EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, _ := metadata[s.schema.DocumentKey()].(string)
	if errs := s.failures[key]; len(errs) > 0 {
		err := errs[0]
		s.failures[key] = errs[1:]
		return err
	}
	s.inserts = append(s.inserts, stubInsert{metadata: metadata, chunks: chunks})
	return nil
}

func (s *stubWriter) Schema() *MetadataSchema { return s.schema }

// sliceLoader emits a fixed set of documents; err, when set, is sent after
// the documents.
type sliceLoader struct {
	docs []Document
	err  error
}

func (l *sliceLoader) Load(ctx context.Context) (<-chan Document, <-chan error) {
	docs := make(chan Document)
	errs := make(chan error, 1)
	go func() {
		defer close(docs)
		defer close(errs)
		for _, doc := range l.docs {
			select {
			case <-ctx.Done():
				return
			case docs <- doc:
			}
		}
		if l.err != nil {
			errs <- l.err
		}
	}()
	return docs, errs
}

func pipelineSchema(t *testing.T) *MetadataSchema {
	t.Helper()
	schema, err := NewMetadataSchema("path",
		[]Field{{Name: "path", Type: FieldString}})
	require.NoError(t, err)
	return schema
}

func newTestPipeline(t *testing.T, embedder providers.Embedder, writer ChunkWriter, opts ...PipelineOption) *Pipeline {
	t.Helper()
	chunker, err := NewLineChunker(MaxLines(2), Overlap(0))
	require.NoError(t, err)
	opts = append(opts,
		WithRetryDelay(time.Millisecond),
		WithPipelineLogger(NewLogger(LogLevelOff)),
	)
	p, err := NewPipeline(chunker, embedder, writer, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	chunker, err := NewLineChunker()
	require.NoError(t, err)
	embedder := &stubEmbedder{dims: 3}
	writer := &stubWriter{schema: pipelineSchema(t)}

	_, err = NewPipeline(nil, embedder, writer)
	assert.Error(t, err)
	_, err = NewPipeline(chunker, nil, writer)
	assert.Error(t, err)
	_, err = NewPipeline(chunker, embedder, nil)
	assert.Error(t, err)
	_, err = NewPipeline(chunker, embedder, writer, WithBatchSize(0))
	assert.Error(t, err)
	_, err = NewPipeline(chunker, embedder, writer, WithConcurrency(0))
	assert.Error(t, err)
	_, err = NewPipeline(chunker, embedder, writer, WithMaxRetries(-1))
	assert.Error(t, err)
}

func TestIngestHappyPath(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	embedder := &stubEmbedder{dims: 3}
	p := newTestPipeline(t, embedder, writer)

	loader := &sliceLoader{docs: []Document{
		{Content: "a\nb\nc", Metadata: map[string]any{"path": "one.txt"}},
		{Content: "d", Metadata: map[string]any{"path": "two.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDocuments)
	assert.Equal(t, 2, result.SucceededDocuments)
	assert.Equal(t, 0, result.FailedDocuments)
	assert.Equal(t, 3, result.TotalChunks)
	assert.Empty(t, result.Errors)
	require.Len(t, writer.inserts, 2)
}

func TestIngestPreservesChunkOrderAcrossBatches(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	embedder := &stubEmbedder{dims: 3}
	p := newTestPipeline(t, embedder, writer, WithBatchSize(2))

	loader := &sliceLoader{docs: []Document{
		{Content: "l0\nl1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9", Metadata: map[string]any{"path": "big.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalChunks)

	require.Len(t, writer.inserts, 1)
	chunks := writer.inserts[0].chunks
	require.Len(t, chunks, 5)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Len(t, chunk.Embedding, 3)
	}
	// 5 chunks at batch size 2 means 3 provider calls.
	assert.Len(t, embedder.batches, 3)
}

func TestIngestDocumentIsolation(t *testing.T) {
	// One document fails permanently; its siblings still land.
	schema := pipelineSchema(t)
	writer := &stubWriter{
		schema: schema,
		failures: map[string][]error{
			"bad.txt": {
				&DatabaseError{Code: DBConstraintViolation, Op: "insert", Err: errors.New("dup")},
			},
		},
	}
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer)

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "good.txt"}},
		{Content: "b", Metadata: map[string]any{"path": "bad.txt"}},
		{Content: "c", Metadata: map[string]any{"path": "also-good.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalDocuments)
	assert.Equal(t, 2, result.SucceededDocuments)
	assert.Equal(t, 1, result.FailedDocuments)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad.txt", result.Errors[0].DocumentKey)
}

func TestIngestRetriesRetriableFailures(t *testing.T) {
	schema := pipelineSchema(t)
	writer := &stubWriter{
		schema: schema,
		failures: map[string][]error{
			"flaky.txt": {
				&DatabaseError{Code: DBTimeout, Op: "insert", Err: errors.New("timeout")},
				&DatabaseError{Code: DBTimeout, Op: "insert", Err: errors.New("timeout")},
			},
		},
	}

	var attempts []IngestError
	var mu sync.Mutex
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithErrorHandler(func(e IngestError) {
			mu.Lock()
			attempts = append(attempts, e)
			mu.Unlock()
		}))

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "flaky.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededDocuments)
	assert.Equal(t, 0, result.FailedDocuments)

	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].WillRetry)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.True(t, attempts[1].WillRetry)
	assert.Equal(t, 2, attempts[1].Attempt)
}

func TestIngestDoesNotRetryValidationErrors(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	var attempts []IngestError
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithErrorHandler(func(e IngestError) {
			attempts = append(attempts, e)
		}))

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": 7}}, // wrong type
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedDocuments)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].WillRetry)
}

func TestIngestRetryCap(t *testing.T) {
	schema := pipelineSchema(t)
	permanent := &DatabaseError{Code: DBTimeout, Op: "insert", Err: errors.New("down")}
	writer := &stubWriter{
		schema: schema,
		failures: map[string][]error{
			"down.txt": {permanent, permanent, permanent, permanent, permanent},
		},
	}
	var attempts int
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithMaxRetries(2),
		WithErrorHandler(func(e IngestError) { attempts++ }))

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "down.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedDocuments)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

func TestIngestEmptyDocumentCountsAsSuccess(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer)

	loader := &sliceLoader{docs: []Document{
		{Content: "   \n  ", Metadata: map[string]any{"path": "empty.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededDocuments)
	assert.Equal(t, 0, result.TotalChunks)
	// No store call for a chunkless document.
	assert.Empty(t, writer.inserts)
}

func TestIngestLoaderErrorTerminatesRun(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer)

	loader := &sliceLoader{
		docs: []Document{
			{Content: "a", Metadata: map[string]any{"path": "one.txt"}},
		},
		err: errors.New("directory vanished"),
	}

	result, err := p.Ingest(context.Background(), loader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory vanished")
	// Work finished before the error still counts.
	assert.LessOrEqual(t, result.SucceededDocuments, 1)
}

func TestIngestCancellationReturnsPartialResult(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "one.txt"}},
	}}

	result, err := p.Ingest(ctx, loader)
	assert.Error(t, err)
	assert.Equal(t, 0, result.SucceededDocuments)
}

func TestIngestProgressIsMonotonic(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	var mu sync.Mutex
	var snapshots []IngestProgress
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithConcurrency(4),
		WithProgress(func(snapshot IngestProgress) {
			mu.Lock()
			snapshots = append(snapshots, snapshot)
			mu.Unlock()
		}))

	var docs []Document
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		docs = append(docs, Document{Content: name, Metadata: map[string]any{"path": name + ".txt"}})
	}

	_, err := p.Ingest(context.Background(), &sliceLoader{docs: docs})
	require.NoError(t, err)

	require.Len(t, snapshots, 6)
	prev := IngestProgress{}
	for _, s := range snapshots {
		assert.GreaterOrEqual(t, s.Documents, prev.Documents)
		assert.GreaterOrEqual(t, s.Succeeded, prev.Succeeded)
		assert.GreaterOrEqual(t, s.Failed, prev.Failed)
		assert.GreaterOrEqual(t, s.Chunks, prev.Chunks)
		prev = s
	}
	assert.Equal(t, 6, prev.Documents)
}

// rendezvousWriter holds every Insert at a barrier until all expected
// documents are inside, so completions race on the progress state.
type rendezvousWriter struct {
	schema  *MetadataSchema
	barrier *sync.WaitGroup
}

func (w *rendezvousWriter) Insert(ctx context.Context, metadata map[string]any, chunks []EmbeddedChunk) error {
	w.barrier.Done()
	w.barrier.Wait()
	return nil
}

func (w *rendezvousWriter) Schema() *MetadataSchema { return w.schema }

func TestIngestConcurrentCompletionsKeepProgressOrdered(t *testing.T) {
	// Both workers finish their documents back to back; the snapshots must
	// still arrive with Documents counting 1, 2 — never inverted.
	var barrier sync.WaitGroup
	barrier.Add(2)
	writer := &rendezvousWriter{schema: pipelineSchema(t), barrier: &barrier}

	var mu sync.Mutex
	var docCounts []int
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithConcurrency(2),
		WithProgress(func(s IngestProgress) {
			mu.Lock()
			docCounts = append(docCounts, s.Documents)
			mu.Unlock()
		}))

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "one.txt"}},
		{Content: "b", Metadata: map[string]any{"path": "two.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SucceededDocuments)
	assert.Equal(t, []int{1, 2}, docCounts)
}

func TestIngestMetadataTransform(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	p := newTestPipeline(t, &stubEmbedder{dims: 3}, writer,
		WithMetadataTransform(func(doc Document) (map[string]any, error) {
			raw, _ := doc.Metadata["source"].(string)
			return map[string]any{"path": raw}, nil
		}))

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"source": "raw/one.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededDocuments)
	require.Len(t, writer.inserts, 1)
	assert.Equal(t, "raw/one.txt", writer.inserts[0].metadata["path"])
}

func TestIngestRetriesEmbedderFailures(t *testing.T) {
	writer := &stubWriter{schema: pipelineSchema(t)}
	embedder := &stubEmbedder{dims: 3, failFirst: true}
	p := newTestPipeline(t, embedder, writer)

	loader := &sliceLoader{docs: []Document{
		{Content: "a", Metadata: map[string]any{"path": "one.txt"}},
	}}

	result, err := p.Ingest(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededDocuments)
}
