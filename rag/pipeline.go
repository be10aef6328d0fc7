package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teilomillet/ragstore/rag/providers"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Document is one unit of ingestion: the raw text plus the metadata record
// that identifies and describes it.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Loader streams documents into the pipeline. Both channels must be closed
// when the loader finishes; at most one error may be sent. A loader error
// terminates the whole run.
type Loader interface {
	Load(ctx context.Context) (<-chan Document, <-chan error)
}

// ChunkWriter is the slice of the chunk store the pipeline needs. ChunkStore
// satisfies it.
type ChunkWriter interface {
	Insert(ctx context.Context, metadata map[string]any, chunks []EmbeddedChunk) error
	Schema() *MetadataSchema
}

// MetadataTransform rewrites a document's metadata before validation, e.g.
// to derive fields from the loader's raw record. Returning an error skips
// the document as failed.
type MetadataTransform func(doc Document) (map[string]any, error)

// IngestError is handed to the OnError callback for every failed attempt.
type IngestError struct {
	Document Document
	Err      error
	// WillRetry is true when the pipeline is about to retry this document.
	WillRetry bool
	// Attempt counts from 1.
	Attempt int
}

// DocumentError pairs a failed document's key with its final error.
type DocumentError struct {
	DocumentKey any
	Err         error
}

// IngestProgress is a snapshot of the run's counters. Counters are monotonic
// within one run.
type IngestProgress struct {
	Documents int
	Succeeded int
	Failed    int
	Chunks    int
}

// IngestResult summarizes one completed (or cancelled) run.
type IngestResult struct {
	TotalDocuments     int
	SucceededDocuments int
	FailedDocuments    int
	TotalChunks        int
	// Errors holds the final error of each failed document.
	Errors []DocumentError
}

// Pipeline defaults.
const (
	defaultBatchSize   = 64
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
	defaultConcurrency = 1
)

// Pipeline drives documents from a loader through chunking and embedding
// into a chunk store. Documents are isolated: one document failing, even
// after retries, never stops the others.
type Pipeline struct {
	chunker  Chunker
	embedder providers.Embedder
	store    ChunkWriter

	batchSize   int
	maxRetries  int
	retryDelay  time.Duration
	concurrency int
	limiter     *rate.Limiter
	transform   MetadataTransform
	onProgress  func(IngestProgress)
	onError     func(IngestError)
	logger      Logger
}

// PipelineOption configures a Pipeline during construction.
type PipelineOption func(*Pipeline)

// WithBatchSize sets how many chunks are embedded per provider call.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		p.batchSize = n
	}
}

// WithMaxRetries caps per-document retries for retriable failures. The cap
// counts retries, not attempts: a document is tried once plus up to n more
// times, so n=0 disables retrying.
func WithMaxRetries(n int) PipelineOption {
	return func(p *Pipeline) {
		p.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry backoff; it doubles per attempt.
func WithRetryDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.retryDelay = d
	}
}

// WithConcurrency sets how many documents are processed in parallel.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithRateLimit paces embedding calls across all workers.
func WithRateLimit(limiter *rate.Limiter) PipelineOption {
	return func(p *Pipeline) {
		p.limiter = limiter
	}
}

// WithMetadataTransform installs a metadata rewrite step ahead of
// validation.
func WithMetadataTransform(transform MetadataTransform) PipelineOption {
	return func(p *Pipeline) {
		p.transform = transform
	}
}

// WithProgress installs a callback invoked after every finished document.
// Callbacks are serialized across workers, so consecutive snapshots never
// move backwards; a slow callback delays ingestion.
func WithProgress(fn func(IngestProgress)) PipelineOption {
	return func(p *Pipeline) {
		p.onProgress = fn
	}
}

// WithErrorHandler installs a callback invoked on every failed attempt,
// including ones that will be retried.
func WithErrorHandler(fn func(IngestError)) PipelineOption {
	return func(p *Pipeline) {
		p.onError = fn
	}
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(logger Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline wires a chunker, an embedder, and a chunk store into an
// ingestion pipeline.
func NewPipeline(chunker Chunker, embedder providers.Embedder, store ChunkWriter, opts ...PipelineOption) (*Pipeline, error) {
	if chunker == nil {
		return nil, &ConfigurationError{Field: "chunker", Reason: "chunker is required"}
	}
	if embedder == nil {
		return nil, &ConfigurationError{Field: "embedder", Reason: "embedder is required"}
	}
	if store == nil {
		return nil, &ConfigurationError{Field: "store", Reason: "chunk store is required"}
	}

	p := &Pipeline{
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		batchSize:   defaultBatchSize,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		concurrency: defaultConcurrency,
		logger:      GlobalLogger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.batchSize < 1 {
		return nil, &ConfigurationError{Field: "batchSize", Reason: "must be positive"}
	}
	if p.maxRetries < 0 {
		return nil, &ConfigurationError{Field: "maxRetries", Reason: "must be non-negative"}
	}
	if p.retryDelay < 0 {
		return nil, &ConfigurationError{Field: "retryDelay", Reason: "must be non-negative"}
	}
	if p.concurrency < 1 {
		return nil, &ConfigurationError{Field: "concurrency", Reason: "must be positive"}
	}
	if p.logger == nil {
		p.logger = GlobalLogger
	}
	return p, nil
}

// ingestState accumulates counters and failures across workers.
type ingestState struct {
	mu       sync.Mutex
	progress IngestProgress
	failures []DocumentError
}

// Ingest drains the loader, processing each document in isolation: transform
// metadata, chunk, embed in batches, and store in one transaction per
// document. Retriable failures are retried with doubling backoff; a loader
// error or context cancellation stops the run, returning the counters
// accumulated so far alongside the error.
func (p *Pipeline) Ingest(ctx context.Context, loader Loader) (IngestResult, error) {
	if loader == nil {
		return IngestResult{}, &ConfigurationError{Field: "loader", Reason: "loader is required"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	docs, loadErrs := loader.Load(runCtx)

	state := &ingestState{}

	// The loader's error terminates the run; cancelling runCtx unblocks the
	// workers draining the document channel.
	var loaderErr error
	var loaderMu sync.Mutex
	var loaderDone sync.WaitGroup
	loaderDone.Add(1)
	go func() {
		defer loaderDone.Done()
		for err := range loadErrs {
			if err == nil {
				continue
			}
			loaderMu.Lock()
			if loaderErr == nil {
				loaderErr = err
			}
			loaderMu.Unlock()
			cancel()
		}
	}()

	g, groupCtx := errgroup.WithContext(runCtx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case doc, ok := <-docs:
					if !ok {
						return nil
					}
					p.ingestOne(groupCtx, doc, state)
				}
			}
		})
	}

	groupErr := g.Wait()
	loaderDone.Wait()

	state.mu.Lock()
	result := IngestResult{
		TotalDocuments:     state.progress.Documents,
		SucceededDocuments: state.progress.Succeeded,
		FailedDocuments:    state.progress.Failed,
		TotalChunks:        state.progress.Chunks,
		Errors:             state.failures,
	}
	state.mu.Unlock()

	loaderMu.Lock()
	lErr := loaderErr
	loaderMu.Unlock()
	if lErr != nil {
		return result, fmt.Errorf("loader failed: %w", lErr)
	}
	if groupErr != nil {
		return result, groupErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	p.logger.Info("ingest run finished",
		"documents", result.TotalDocuments,
		"succeeded", result.SucceededDocuments,
		"failed", result.FailedDocuments,
		"chunks", result.TotalChunks)
	return result, nil
}

// ingestOne processes a single document end to end, retrying retriable
// failures. It never returns an error: failures are recorded in the run
// state so sibling documents keep flowing.
func (p *Pipeline) ingestOne(ctx context.Context, doc Document, state *ingestState) {
	chunks, err := p.processDocument(ctx, doc)
	attempt := 1
	for err != nil {
		retry := Retriable(err) && attempt <= p.maxRetries && ctx.Err() == nil
		if p.onError != nil {
			p.onError(IngestError{Document: doc, Err: err, WillRetry: retry, Attempt: attempt})
		}
		if !retry {
			p.logger.Warn("document failed", "documentKey", p.documentKey(doc), "attempts", attempt, "err", err)
			p.finishDocument(state, doc, 0, err)
			return
		}

		delay := p.retryDelay << uint(attempt-1)
		p.logger.Debug("retrying document",
			"documentKey", p.documentKey(doc), "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			p.finishDocument(state, doc, 0, ctx.Err())
			return
		case <-time.After(delay):
		}
		attempt++
		chunks, err = p.processDocument(ctx, doc)
	}

	p.finishDocument(state, doc, chunks, nil)
}

// processDocument performs one attempt: transform, chunk, embed, store.
// Embedding completes before the store transaction opens, so the database
// never waits on the embedding provider.
func (p *Pipeline) processDocument(ctx context.Context, doc Document) (int, error) {
	metadata := doc.Metadata
	if p.transform != nil {
		var err error
		metadata, err = p.transform(doc)
		if err != nil {
			return 0, newValidationError("metadata", "metadata transform failed: "+err.Error(), "", "")
		}
	}
	if err := p.store.Schema().Validate(metadata); err != nil {
		return 0, err
	}

	chunks := p.chunker.Chunk(doc.Content)
	if len(chunks) == 0 {
		// Nothing to store; an empty document still counts as succeeded and
		// leaves prior generations of the document untouched.
		return 0, nil
	}

	embedded, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if err := p.store.Insert(ctx, metadata, embedded); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// embedChunks embeds chunks in batches of batchSize, preserving chunk order.
// The rate limiter, when configured, paces the provider calls across all
// workers.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	embedded := make([]EmbeddedChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, &providers.APIError{
				Code:    providers.ErrAPIError,
				Message: fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(vectors)),
			}
		}

		for i, chunk := range batch {
			embedded = append(embedded, EmbeddedChunk{Chunk: chunk, Embedding: vectors[i]})
		}
	}
	return embedded, nil
}

// finishDocument records one finished document and publishes progress. The
// callback runs under the state lock, which serializes delivery across
// workers: snapshots arrive in the order the counters advanced, so observed
// counters never go backwards.
func (p *Pipeline) finishDocument(state *ingestState, doc Document, chunks int, err error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.progress.Documents++
	if err != nil {
		state.progress.Failed++
		state.failures = append(state.failures, DocumentError{
			DocumentKey: p.documentKey(doc),
			Err:         err,
		})
	} else {
		state.progress.Succeeded++
		state.progress.Chunks += chunks
	}

	if p.onProgress != nil {
		p.onProgress(state.progress)
	}
}

func (p *Pipeline) documentKey(doc Document) any {
	if doc.Metadata == nil {
		return nil
	}
	return doc.Metadata[p.store.Schema().DocumentKey()]
}
