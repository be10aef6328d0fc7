// Package ragstore exposes the query side of the data plane: similarity
// search over stored chunks with schema-aware metadata decoding and
// application-level context filtering.
package ragstore

import (
	"context"
	"time"

	"github.com/teilomillet/ragstore/rag"
)

// QueryService runs similarity searches against one chunk table. The
// service embeds the caller's question, ranks stored chunks by vector
// distance, and returns the decoded rows above the similarity threshold,
// best first. It shares its connection pool with any ChunkStore opened on
// the same connection string.
type QueryService = rag.QueryService

// QueryServiceOption configures a QueryService during construction.
type QueryServiceOption = rag.QueryServiceOption

// SearchRequest carries one similarity search: the question text, a result
// limit between 1 and 1000, a similarity threshold between 0 and 1, and an
// optional application context handed to the filter resolver.
type SearchRequest = rag.SearchRequest

// QueryResult is one retrieved chunk: its content, its position in the
// source document, its similarity to the question, and the decoded metadata
// columns keyed by logical field name.
type QueryResult = rag.QueryResult

// FilterResolver translates an application-level search context (a tenant,
// a session, a project handle) into physical column filters. The returned
// map binds column names to a scalar value or a slice of values; a slice
// matches any of its elements. Filters are ANDed together.
type FilterResolver = rag.FilterResolver

// DistanceFunction selects the vector operator used to rank results.
type DistanceFunction = rag.DistanceFunction

// The supported distance functions. Cosine is the default and pairs with
// the reference DDL's index; similarity is reported as 1 - distance and
// clamped to [0, 1].
const (
	DistanceCosine       = rag.DistanceCosine
	DistanceEuclidean    = rag.DistanceEuclidean
	DistanceInnerProduct = rag.DistanceInnerProduct
)

// NewQueryService opens a query service over the given table.
//
// Example:
//
//	svc, err := ragstore.NewQueryService(ctx, connString, "code_chunks", schema, embedder,
//	    ragstore.WithFilterResolver(func(ctx context.Context, c any) (map[string]any, error) {
//	        session := c.(*Session)
//	        return map[string]any{"repository_id": session.RepositoryIDs()}, nil
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	results, err := svc.Search(ctx, ragstore.SearchRequest{
//	    Question:            "how is authentication handled?",
//	    Limit:               10,
//	    SimilarityThreshold: 0.5,
//	    Context:             session,
//	})
func NewQueryService(ctx context.Context, connString, tableName string, schema *MetadataSchema, embedder Embedder, opts ...QueryServiceOption) (*QueryService, error) {
	return rag.NewQueryService(ctx, connString, tableName, schema, embedder, opts...)
}

// WithFilterResolver installs the context-to-filter translation. Without
// one, requests that carry a context are searched unfiltered.
func WithFilterResolver(resolver FilterResolver) QueryServiceOption {
	return rag.WithFilterResolver(resolver)
}

// WithDistanceFunction selects the ranking operator (default cosine).
func WithDistanceFunction(d DistanceFunction) QueryServiceOption {
	return rag.WithDistanceFunction(d)
}

// WithQueryPoolSettings overrides the shared pool defaults.
func WithQueryPoolSettings(settings PoolSettings) QueryServiceOption {
	return rag.WithQueryPoolSettings(settings)
}

// WithSearchTimeout bounds each search (default 30s).
func WithSearchTimeout(d time.Duration) QueryServiceOption {
	return rag.WithSearchTimeout(d)
}

// WithQueryLogger sets the service's logger.
func WithQueryLogger(logger Logger) QueryServiceOption {
	return rag.WithQueryLogger(logger)
}
