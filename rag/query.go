package rag

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/teilomillet/ragstore/rag/providers"
)

// DistanceFunction selects the pgvector operator used to rank results.
type DistanceFunction string

const (
	DistanceCosine       DistanceFunction = "cosine"
	DistanceEuclidean    DistanceFunction = "euclidean"
	DistanceInnerProduct DistanceFunction = "inner_product"
)

// operator returns the pgvector operator for the distance function.
func (d DistanceFunction) operator() (string, bool) {
	switch d {
	case DistanceCosine:
		return "<=>", true
	case DistanceEuclidean:
		return "<->", true
	case DistanceInnerProduct:
		return "<#>", true
	}
	return "", false
}

// FilterResolver translates an application-level search context (a tenant,
// a user session, a project handle) into physical column filters. The
// returned map binds column names to either a scalar value or a slice of
// values; a slice matches any of its elements.
type FilterResolver func(ctx context.Context, searchContext any) (map[string]any, error)

// SearchRequest carries one similarity search.
type SearchRequest struct {
	// Question is the text to search for. It is embedded with the service's
	// embedder before the query runs.
	Question string
	// Limit caps the number of returned results (1 to 1000).
	Limit int
	// SimilarityThreshold drops results below this similarity (0 to 1).
	SimilarityThreshold float64
	// Context is handed to the filter resolver; nil skips filtering.
	Context any
}

// QueryResult is one retrieved chunk with its similarity and the decoded
// metadata columns keyed by logical field name.
type QueryResult struct {
	Content    string
	Index      int64
	Similarity float64
	Metadata   map[string]any
}

// QueryService runs similarity searches against one chunk table. It shares
// its connection pool with any ChunkStore opened on the same connection
// string.
type QueryService struct {
	table    string
	schema   *MetadataSchema
	embedder providers.Embedder
	resolver FilterResolver
	distance DistanceFunction
	timeout  time.Duration
	logger   Logger

	pool      *sharedPool
	closeOnce sync.Once
}

// QueryServiceConfig collects the constructor inputs for a QueryService.
type QueryServiceConfig struct {
	ConnString string
	TableName  string
	Schema     *MetadataSchema
	Embedder   providers.Embedder
	// Resolver maps a request Context to column filters; nil disables
	// context filtering.
	Resolver FilterResolver
	// Distance selects the ranking operator (default cosine).
	Distance DistanceFunction
	Pool     *PoolSettings
	// QueryTimeout bounds each search (default 30s).
	QueryTimeout time.Duration
	Logger       Logger
}

// QueryServiceOption configures a QueryService during construction.
type QueryServiceOption func(*QueryServiceConfig)

// WithFilterResolver installs the context-to-filter translation.
func WithFilterResolver(resolver FilterResolver) QueryServiceOption {
	return func(c *QueryServiceConfig) {
		c.Resolver = resolver
	}
}

// WithDistanceFunction selects the ranking operator.
func WithDistanceFunction(d DistanceFunction) QueryServiceOption {
	return func(c *QueryServiceConfig) {
		c.Distance = d
	}
}

// WithQueryPoolSettings overrides the pool defaults.
func WithQueryPoolSettings(settings PoolSettings) QueryServiceOption {
	return func(c *QueryServiceConfig) {
		c.Pool = &settings
	}
}

// WithSearchTimeout bounds each search.
func WithSearchTimeout(d time.Duration) QueryServiceOption {
	return func(c *QueryServiceConfig) {
		c.QueryTimeout = d
	}
}

// WithQueryLogger sets the service's logger.
func WithQueryLogger(logger Logger) QueryServiceOption {
	return func(c *QueryServiceConfig) {
		c.Logger = logger
	}
}

// NewQueryService opens (or joins) the shared pool for the connection string
// and validates the configuration.
func NewQueryService(ctx context.Context, connString, tableName string, schema *MetadataSchema, embedder providers.Embedder, opts ...QueryServiceOption) (*QueryService, error) {
	cfg := &QueryServiceConfig{
		ConnString:   connString,
		TableName:    tableName,
		Schema:       schema,
		Embedder:     embedder,
		Distance:     DistanceCosine,
		QueryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Schema == nil {
		return nil, &ConfigurationError{Field: "schema", Reason: "metadata schema is required"}
	}
	if cfg.Embedder == nil {
		return nil, &ConfigurationError{Field: "embedder", Reason: "embedder is required"}
	}
	if !ValidIdentifier(cfg.TableName) {
		return nil, &ConfigurationError{Field: "tableName", Reason: fmt.Sprintf("invalid table name %q", cfg.TableName)}
	}
	if _, ok := cfg.Distance.operator(); !ok {
		return nil, &ConfigurationError{Field: "distance", Reason: fmt.Sprintf("unknown distance function %q", cfg.Distance)}
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

	return &QueryService{
		table:    cfg.TableName,
		schema:   cfg.Schema,
		embedder: cfg.Embedder,
		resolver: cfg.Resolver,
		distance: cfg.Distance,
		timeout:  cfg.QueryTimeout,
		logger:   cfg.Logger,
		pool:     pool,
	}, nil
}

// Search embeds the question and returns the most similar chunks above the
// threshold, best first. When a filter resolver is configured and the
// request carries a context, results are restricted to the resolved column
// filters.
func (q *QueryService) Search(ctx context.Context, req SearchRequest) ([]QueryResult, error) {
	if err := validateSearchRequest(req); err != nil {
		return nil, err
	}

	vector, err := q.embedder.Embed(ctx, req.Question)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, &providers.APIError{Code: providers.ErrAPIError, Message: "embedder returned an empty vector"}
	}

	filters, err := q.resolveFilters(ctx, req.Context)
	if err != nil {
		return nil, err
	}

	if err := q.pool.ensureVectorType(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	querySQL, args, fieldOrder := q.buildSearchSQL(vector, req, filters)
	rows, err := q.pool.pool.Query(ctx, querySQL, args...)
	if err != nil {
		return nil, wrapDBError("search", q.table, err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrapDBError("search", q.table, err)
		}
		result, err := q.decodeRow(values, fieldOrder)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("search", q.table, err)
	}

	q.logger.Debug("search completed",
		"table", q.table, "limit", req.Limit, "threshold", req.SimilarityThreshold, "results", len(results))
	return results, nil
}

// Close releases this service's reference on the shared pool. It is
// idempotent and never fails.
func (q *QueryService) Close() {
	q.closeOnce.Do(func() {
		q.pool.release()
	})
}

func validateSearchRequest(req SearchRequest) error {
	var issues []ValidationIssue
	if strings.TrimSpace(req.Question) == "" {
		issues = append(issues, ValidationIssue{
			Path: "question", Message: "question is empty",
			Expected: "non-empty string", Received: "empty string",
		})
	}
	if req.Limit < 1 || req.Limit > 1000 {
		issues = append(issues, ValidationIssue{
			Path: "limit", Message: "limit out of range",
			Expected: "1 to 1000", Received: fmt.Sprintf("%d", req.Limit),
		})
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		issues = append(issues, ValidationIssue{
			Path: "similarityThreshold", Message: "threshold out of range",
			Expected: "0 to 1", Received: fmt.Sprintf("%g", req.SimilarityThreshold),
		})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// resolveFilters runs the filter resolver and validates its output before it
// touches SQL: column names must be valid identifiers, and values must be
// scalars or non-empty slices of scalars.
func (q *QueryService) resolveFilters(ctx context.Context, searchContext any) (map[string]any, error) {
	if q.resolver == nil || searchContext == nil {
		return nil, nil
	}
	filters, err := q.resolver(ctx, searchContext)
	if err != nil {
		return nil, fmt.Errorf("resolving context filters: %w", err)
	}
	for column, value := range filters {
		if !ValidIdentifier(column) {
			return nil, newValidationError("filters."+column, "invalid filter column", "identifier", column)
		}
		if value == nil {
			return nil, newValidationError("filters."+column, "filter value is nil", "scalar or slice", "nil")
		}
		if isSliceFilter(value) && reflect.ValueOf(value).Len() == 0 {
			return nil, newValidationError("filters."+column, "filter slice is empty", "non-empty slice", "empty slice")
		}
	}
	return filters, nil
}

// buildSearchSQL renders the similarity query. The select list is content,
// index, the metadata columns in declaration order, then the similarity
// expression; fieldOrder records which logical field each metadata column
// position decodes to.
func (q *QueryService) buildSearchSQL(vector []float32, req SearchRequest, filters map[string]any) (string, []any, []string) {
	op, _ := q.distance.operator()

	args := []any{pgvector.NewVector(vector)}
	similarity := fmt.Sprintf("(1 - (%s %s $1))", quoteIdentifier(q.schema.EmbeddingColumn()), op)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteIdentifier(q.schema.ContentColumn()))
	b.WriteString(", ")
	b.WriteString(quoteIdentifier(q.schema.IndexColumn()))

	fieldOrder := make([]string, 0, len(q.schema.Fields()))
	for _, f := range q.schema.Fields() {
		column, _ := q.schema.Column(f.Name)
		fieldOrder = append(fieldOrder, f.Name)
		b.WriteString(", ")
		b.WriteString(quoteIdentifier(column))
	}

	fmt.Fprintf(&b, ", %s AS similarity FROM %s WHERE %s >= $2",
		similarity, quoteIdentifier(q.table), similarity)
	args = append(args, req.SimilarityThreshold)

	for _, column := range sortedFilterColumns(filters) {
		value := filters[column]
		args = append(args, value)
		if isSliceFilter(value) {
			fmt.Fprintf(&b, " AND %s = ANY($%d)", quoteIdentifier(column), len(args))
		} else {
			fmt.Fprintf(&b, " AND %s = $%d", quoteIdentifier(column), len(args))
		}
	}

	args = append(args, req.Limit)
	fmt.Fprintf(&b, " ORDER BY similarity DESC LIMIT $%d", len(args))
	return b.String(), args, fieldOrder
}

// sortedFilterColumns keeps the generated SQL deterministic across runs.
func sortedFilterColumns(filters map[string]any) []string {
	columns := make([]string, 0, len(filters))
	for column := range filters {
		columns = append(columns, column)
	}
	for i := 1; i < len(columns); i++ {
		for j := i; j > 0 && columns[j] < columns[j-1]; j-- {
			columns[j], columns[j-1] = columns[j-1], columns[j]
		}
	}
	return columns
}

// isSliceFilter reports whether a filter value is a multi-valued match.
// Any slice type counts, so resolvers are free to return []int32, []float64,
// and the like; []byte stays a scalar since it binds as bytea.
func isSliceFilter(value any) bool {
	if _, ok := value.([]byte); ok {
		return false
	}
	return reflect.ValueOf(value).Kind() == reflect.Slice
}

// decodeRow converts one result row through the schema's decode boundary.
// Similarity is clamped to [0, 1] to absorb floating point drift from the
// distance operators.
func (q *QueryService) decodeRow(values []any, fieldOrder []string) (QueryResult, error) {
	want := 2 + len(fieldOrder) + 1
	if len(values) != want {
		return QueryResult{}, newValidationError("row", "unexpected column count",
			fmt.Sprintf("%d columns", want), fmt.Sprintf("%d columns", len(values)))
	}

	content, ok := values[0].(string)
	if !ok {
		return QueryResult{}, newValidationError("row.content", "malformed column value", "string", fmt.Sprintf("%T", values[0]))
	}
	index, err := decodeInt(values[1])
	if err != nil {
		return QueryResult{}, newValidationError("row.index", "malformed column value", "integer", fmt.Sprintf("%T", values[1]))
	}

	metadata := make(map[string]any, len(fieldOrder))
	for i, field := range fieldOrder {
		decoded, err := q.schema.DecodeValue(field, values[2+i])
		if err != nil {
			return QueryResult{}, err
		}
		if decoded != nil {
			metadata[field] = decoded
		}
	}

	similarity, err := decodeFloat(values[len(values)-1])
	if err != nil {
		return QueryResult{}, newValidationError("row.similarity", "malformed column value", "float", fmt.Sprintf("%T", values[len(values)-1]))
	}
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 1 {
		similarity = 1
	}

	return QueryResult{
		Content:    content,
		Index:      index,
		Similarity: similarity,
		Metadata:   metadata,
	}, nil
}

func decodeInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("not an integer: %T", v)
}

func decodeFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("not a float: %T", v)
}
