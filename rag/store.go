package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

const defaultQueryTimeout = 30 * time.Second

// ChunkStore persists the chunks of documents with transactional replace
// semantics at the (source scope, document key) grain. A store instance is
// bound to one table, one metadata schema, and one static scope; all three
// are immutable after construction.
type ChunkStore struct {
	table   string
	schema  *MetadataSchema
	static  map[string]any
	timeout time.Duration
	logger  Logger

	pool      *sharedPool
	closeOnce sync.Once
}

// ChunkStoreConfig collects the constructor inputs for a ChunkStore.
type ChunkStoreConfig struct {
	// ConnString is the database connection string; stores sharing it share
	// one pool.
	ConnString string
	// TableName is the target table. The library does not create it.
	TableName string
	// Schema declares the metadata fields and their column mapping.
	Schema *MetadataSchema
	// StaticContext maps physical column names to fixed values merged into
	// every inserted row. It must provide a value for every source key
	// column of the schema.
	StaticContext map[string]any
	// Pool overrides the shared pool defaults. Only honored by the first
	// store to open a given connection string.
	Pool *PoolSettings
	// QueryTimeout bounds each database call (default 30s).
	QueryTimeout time.Duration
	// Logger receives store diagnostics; defaults to the package logger.
	Logger Logger
}

// ChunkStoreOption configures a ChunkStore during construction.
type ChunkStoreOption func(*ChunkStoreConfig)

// WithStaticContext sets the fixed column values merged into every row.
func WithStaticContext(static map[string]any) ChunkStoreOption {
	return func(c *ChunkStoreConfig) {
		c.StaticContext = static
	}
}

// WithPoolSettings overrides the pool defaults.
func WithPoolSettings(settings PoolSettings) ChunkStoreOption {
	return func(c *ChunkStoreConfig) {
		c.Pool = &settings
	}
}

// WithQueryTimeout bounds each database call.
func WithQueryTimeout(d time.Duration) ChunkStoreOption {
	return func(c *ChunkStoreConfig) {
		c.QueryTimeout = d
	}
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger Logger) ChunkStoreOption {
	return func(c *ChunkStoreConfig) {
		c.Logger = logger
	}
}

// NewChunkStore opens (or joins) the shared pool for the connection string
// and validates the configuration. The static context must cover every
// source key column declared by the schema; identifiers are checked against
// the identifier pattern before any SQL is built.
func NewChunkStore(ctx context.Context, connString, tableName string, schema *MetadataSchema, opts ...ChunkStoreOption) (*ChunkStore, error) {
	cfg := &ChunkStoreConfig{
		ConnString:   connString,
		TableName:    tableName,
		Schema:       schema,
		QueryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return newChunkStore(ctx, cfg)
}

func newChunkStore(ctx context.Context, cfg *ChunkStoreConfig) (*ChunkStore, error) {
	if cfg.Schema == nil {
		return nil, &ConfigurationError{Field: "schema", Reason: "metadata schema is required"}
	}
	if !ValidIdentifier(cfg.TableName) {
		return nil, &ConfigurationError{Field: "tableName", Reason: fmt.Sprintf("invalid table name %q", cfg.TableName)}
	}
	for column := range cfg.StaticContext {
		if !ValidIdentifier(column) {
			return nil, &ConfigurationError{Field: "staticContext", Reason: fmt.Sprintf("invalid column name %q", column)}
		}
	}
	for _, column := range cfg.Schema.SourceKeyColumns() {
		if _, ok := cfg.StaticContext[column]; !ok {
			return nil, &ConfigurationError{
				Field:  "staticContext",
				Reason: fmt.Sprintf("no value for source key column %q", column),
			}
		}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = GlobalLogger
	}

	pool, err := acquirePool(ctx, cfg.ConnString, cfg.Pool)
	if err != nil {
		return nil, err
	}

	static := make(map[string]any, len(cfg.StaticContext))
	for k, v := range cfg.StaticContext {
		static[k] = v
	}

	return &ChunkStore{
		table:   cfg.TableName,
		schema:  cfg.Schema,
		static:  static,
		timeout: cfg.QueryTimeout,
		logger:  cfg.Logger,
		pool:    pool,
	}, nil
}

// Schema returns the store's metadata schema.
func (s *ChunkStore) Schema() *MetadataSchema { return s.schema }

// Insert atomically replaces the stored chunks for the document identified
// by the metadata's document key within the store's static scope. Metadata
// is validated before any database contact; embedding happens upstream, so
// the transaction never waits on an external service. Either every chunk of
// the new generation is stored or the prior generation is preserved.
func (s *ChunkStore) Insert(ctx context.Context, metadata map[string]any, chunks []EmbeddedChunk) error {
	if err := s.schema.Validate(metadata); err != nil {
		return err
	}
	docKey := metadata[s.schema.DocumentKey()]

	if err := s.pool.ensureVectorType(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.pool.Begin(ctx)
	if err != nil {
		return s.wrapDBError("insert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleteSQL, deleteArgs := s.buildScopedDelete(docKey)
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return s.wrapDBError("insert", err)
	}

	for _, chunk := range chunks {
		insertSQL, args, err := s.buildInsert(metadata, chunk)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			return s.wrapDBError("insert", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &DatabaseError{Code: DBTransactionFailed, Op: "insert", Table: s.table, Err: err}
	}

	s.logger.Debug("replaced document chunks",
		"table", s.table, "documentKey", docKey, "chunks", len(chunks))
	return nil
}

// DeleteByDocumentKey removes every row matching the store's static scope
// and the metadata's document key. Deleting a document that has no rows is
// not an error.
func (s *ChunkStore) DeleteByDocumentKey(ctx context.Context, metadata map[string]any) error {
	if err := s.schema.Validate(metadata); err != nil {
		return err
	}
	docKey := metadata[s.schema.DocumentKey()]

	if err := s.pool.ensureVectorType(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deleteSQL, args := s.buildScopedDelete(docKey)
	tag, err := s.pool.pool.Exec(ctx, deleteSQL, args...)
	if err != nil {
		return s.wrapDBError("deleteByDocumentKey", err)
	}
	s.logger.Debug("deleted document chunks",
		"table", s.table, "documentKey", docKey, "rows", tag.RowsAffected())
	return nil
}

// DeleteBySourceScope removes every row whose source key columns equal the
// store's static scope. It refuses to run when the schema declares no source
// keys, since that would purge the entire table.
func (s *ChunkStore) DeleteBySourceScope(ctx context.Context) error {
	scopeColumns := s.schema.SourceKeyColumns()
	if len(scopeColumns) == 0 {
		return &ConfigurationError{Field: "sourceKeys", Reason: "refusing bulk delete with an empty source scope"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE ", quoteIdentifier(s.table))
	args := make([]any, 0, len(scopeColumns))
	for i, column := range scopeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		args = append(args, s.static[column])
		fmt.Fprintf(&b, "%s = $%d", quoteIdentifier(column), len(args))
	}

	tag, err := s.pool.pool.Exec(ctx, b.String(), args...)
	if err != nil {
		return s.wrapDBError("deleteBySourceScope", err)
	}
	s.logger.Info("purged source scope", "table", s.table, "rows", tag.RowsAffected())
	return nil
}

// Close releases this store's reference on the shared pool. It is idempotent
// and never fails.
func (s *ChunkStore) Close() {
	s.closeOnce.Do(func() {
		s.pool.release()
	})
}

// buildScopedDelete renders the DELETE that scopes rows by the conjunction
// of the static source scope and the document key column.
func (s *ChunkStore) buildScopedDelete(docKey any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE ", quoteIdentifier(s.table))

	var args []any
	for _, column := range s.schema.SourceKeyColumns() {
		args = append(args, s.static[column])
		fmt.Fprintf(&b, "%s = $%d AND ", quoteIdentifier(column), len(args))
	}
	args = append(args, docKey)
	fmt.Fprintf(&b, "%s = $%d", quoteIdentifier(s.schema.DocumentKeyColumn()), len(args))
	return b.String(), args
}

// buildInsert renders one parameterized INSERT for a chunk. Column names are
// interpolated only after identifier validation; every value is bound.
// Metadata columns come first, then the static context, which wins when both
// name the same column.
func (s *ChunkStore) buildInsert(metadata map[string]any, chunk EmbeddedChunk) (string, []any, error) {
	if strings.TrimSpace(chunk.Content) == "" {
		return "", nil, newValidationError(
			fmt.Sprintf("chunks[%d].content", chunk.Index), "chunk content is empty", "non-empty string", "empty string")
	}
	if chunk.Index < 0 {
		return "", nil, newValidationError(
			fmt.Sprintf("chunks[%d].index", chunk.Index), "chunk index is negative", "non-negative integer", fmt.Sprintf("%d", chunk.Index))
	}
	if len(chunk.Embedding) == 0 {
		return "", nil, newValidationError(
			fmt.Sprintf("chunks[%d].embedding", chunk.Index), "embedding is empty", "non-empty vector", "empty vector")
	}

	columns := []string{s.schema.ContentColumn(), s.schema.IndexColumn(), s.schema.EmbeddingColumn()}
	values := []any{chunk.Content, chunk.Index, pgvector.NewVector(chunk.Embedding)}
	position := map[string]int{
		s.schema.ContentColumn():   0,
		s.schema.IndexColumn():     1,
		s.schema.EmbeddingColumn(): 2,
	}

	for _, field := range s.schema.Fields() {
		v, present := metadata[field.Name]
		if !present || v == nil {
			continue
		}
		column, _ := s.schema.Column(field.Name)
		position[column] = len(columns)
		columns = append(columns, column)
		values = append(values, v)
	}

	for column, v := range s.static {
		if at, ok := position[column]; ok {
			values[at] = v
			continue
		}
		position[column] = len(columns)
		columns = append(columns, column)
		values = append(values, v)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", quoteIdentifier(s.table))
	for i, column := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdentifier(column))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")
	return b.String(), values, nil
}

func (s *ChunkStore) wrapDBError(op string, err error) error {
	return wrapDBError(op, s.table, err)
}

// wrapDBError maps a driver failure onto the database error taxonomy. The
// wrapped error keeps the driver detail but never the query text.
func wrapDBError(op, table string, err error) error {
	code := DBQueryFailed
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		switch {
		case pgErr.Code == "42P01":
			code = DBTableNotFound
		case strings.HasPrefix(pgErr.Code, "23"):
			code = DBConstraintViolation
		case pgErr.Code == "57014":
			code = DBTimeout
		}
	case errors.Is(err, context.DeadlineExceeded):
		code = DBTimeout
	}
	return &DatabaseError{Code: code, Op: op, Table: table, Err: err}
}
