// Package ragstore exposes the chunk store: transactional persistence of
// document chunks and their embeddings in PostgreSQL with the pgvector
// extension.
package ragstore

import (
	"context"
	"time"

	"github.com/teilomillet/ragstore/rag"
)

// ChunkStore persists document chunks with replace semantics: inserting a
// document atomically removes its previous chunks and writes the new
// generation in one transaction, so readers never observe a half-updated
// document. A store is bound to one table, one schema, and one static
// scope.
//
// Stores sharing a connection string share one connection pool; Close
// releases the store's reference and the pool shuts down when the last
// holder closes.
type ChunkStore = rag.ChunkStore

// ChunkStoreOption configures a ChunkStore during construction.
type ChunkStoreOption = rag.ChunkStoreOption

// PoolSettings tunes the shared connection pool created for a connection
// string. Defaults: MinConns 5, MaxConns 20, MaxConnIdleTime 30s,
// ConnectTimeout 2s. Only the first store or query service to open a given
// connection string gets to set them.
type PoolSettings = rag.PoolSettings

// NewChunkStore opens a chunk store over the given table. The table must
// already exist; use MetadataSchema.CreateTableSQL for the reference DDL.
// The static context must supply a value for every source key column
// declared by the schema.
//
// Example:
//
//	store, err := ragstore.NewChunkStore(ctx, connString, "code_chunks", schema,
//	    ragstore.WithStaticContext(map[string]any{"repository_id": int64(42)}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewChunkStore(ctx context.Context, connString, tableName string, schema *MetadataSchema, opts ...ChunkStoreOption) (*ChunkStore, error) {
	return rag.NewChunkStore(ctx, connString, tableName, schema, opts...)
}

// WithStaticContext sets fixed column values merged into every inserted
// row. Static values win over metadata-derived columns on conflict, which
// makes the store's scope tamper-proof against loader metadata.
func WithStaticContext(static map[string]any) ChunkStoreOption {
	return rag.WithStaticContext(static)
}

// WithPoolSettings overrides the shared pool defaults.
func WithPoolSettings(settings PoolSettings) ChunkStoreOption {
	return rag.WithPoolSettings(settings)
}

// WithQueryTimeout bounds each database call made by the store (default
// 30s).
func WithQueryTimeout(d time.Duration) ChunkStoreOption {
	return rag.WithQueryTimeout(d)
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger Logger) ChunkStoreOption {
	return rag.WithStoreLogger(logger)
}
