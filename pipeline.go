// Package ragstore exposes the ingestion pipeline: the conveyor that takes
// documents from a loader through chunking and embedding into a chunk
// store, with per-document isolation, batching, retries, and progress
// reporting.
package ragstore

import (
	"time"

	"github.com/teilomillet/ragstore/rag"
	"golang.org/x/time/rate"
)

// Document is one unit of ingestion: raw text plus the metadata record that
// identifies and describes it.
type Document = rag.Document

// Loader streams documents into the pipeline. Implementations return a
// document channel and an error channel from Load; both must be closed when
// the loader finishes, and at most one error may be sent. A loader error
// terminates the whole run — per-document failures belong to the pipeline's
// retry and isolation machinery, not to the loader.
type Loader = rag.Loader

// Pipeline drives documents from a loader into a chunk store. Documents are
// processed in isolation: one document failing, even after retries, never
// stops the others. Embedding calls are batched and happen before the
// store transaction opens, so the database never waits on the embedding
// provider.
type Pipeline = rag.Pipeline

// PipelineOption configures a Pipeline during construction.
type PipelineOption = rag.PipelineOption

// IngestResult summarizes one completed (or cancelled) run: document and
// chunk counters plus the final error of every failed document.
type IngestResult = rag.IngestResult

// IngestProgress is a snapshot of a running ingest's counters. Counters are
// monotonic within one run.
type IngestProgress = rag.IngestProgress

// IngestError is handed to the error callback for every failed attempt,
// including attempts that will be retried.
type IngestError = rag.IngestError

// DocumentError pairs a failed document's key with its final error.
type DocumentError = rag.DocumentError

// MetadataTransform rewrites a document's metadata before validation, e.g.
// to derive schema fields from the loader's raw record.
type MetadataTransform = rag.MetadataTransform

// NewPipeline wires a chunker, an embedder, and a chunk store into an
// ingestion pipeline.
//
// Example:
//
//	pipeline, err := ragstore.NewPipeline(chunker, embedder, store,
//	    ragstore.WithConcurrency(4),
//	    ragstore.WithProgress(func(p ragstore.IngestProgress) {
//	        log.Printf("ingested %d/%d documents", p.Succeeded, p.Documents)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := pipeline.Ingest(ctx, ragstore.NewDirectoryLoader("./docs"))
func NewPipeline(chunker Chunker, embedder Embedder, store *ChunkStore, opts ...PipelineOption) (*Pipeline, error) {
	return rag.NewPipeline(chunker, embedder, store, opts...)
}

// WithBatchSize sets how many chunks are embedded per provider call
// (default 64).
func WithBatchSize(n int) PipelineOption {
	return rag.WithBatchSize(n)
}

// WithMaxRetries caps per-document retries for retriable failures (default
// 3). The cap counts retries, not attempts: a document is tried once plus
// up to n more times, so n=0 disables retrying. Validation and
// configuration errors are never retried.
func WithMaxRetries(n int) PipelineOption {
	return rag.WithMaxRetries(n)
}

// WithRetryDelay sets the initial retry backoff (default 1s); it doubles
// per attempt.
func WithRetryDelay(d time.Duration) PipelineOption {
	return rag.WithRetryDelay(d)
}

// WithConcurrency sets how many documents are processed in parallel
// (default 1).
func WithConcurrency(n int) PipelineOption {
	return rag.WithConcurrency(n)
}

// WithRateLimit paces embedding calls across all workers, e.g.
// rate.NewLimiter(rate.Limit(5), 1) for five provider calls per second.
func WithRateLimit(limiter *rate.Limiter) PipelineOption {
	return rag.WithRateLimit(limiter)
}

// WithMetadataTransform installs a metadata rewrite step ahead of schema
// validation.
func WithMetadataTransform(transform MetadataTransform) PipelineOption {
	return rag.WithMetadataTransform(transform)
}

// WithProgress installs a callback invoked after every finished document
// with a snapshot of the run's counters. Callbacks are serialized across
// workers, so consecutive snapshots never move backwards.
func WithProgress(fn func(IngestProgress)) PipelineOption {
	return rag.WithProgress(fn)
}

// WithErrorHandler installs a callback invoked on every failed attempt.
// IngestError.WillRetry tells the two cases apart.
func WithErrorHandler(fn func(IngestError)) PipelineOption {
	return rag.WithErrorHandler(fn)
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(logger Logger) PipelineOption {
	return rag.WithPipelineLogger(logger)
}
