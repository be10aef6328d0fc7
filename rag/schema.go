package rag

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// identifierPattern is the only shape accepted for SQL identifiers anywhere
// in the library. Identifiers are interpolated into statements after passing
// this check; values are always bound as parameters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a table or column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// quoteIdentifier renders an already-validated identifier for use in SQL,
// doubling any embedded quotes.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FieldType enumerates the value types a metadata field may declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
)

// Field declares one metadata field by its logical (camelCase) name and type.
type Field struct {
	Name string
	Type FieldType
	// Required fields must be present and non-nil in every metadata record.
	// The document key field is always required.
	Required bool
}

// Fixed column defaults. They can be overridden per schema.
const (
	defaultContentColumn   = "chunk_content"
	defaultIndexColumn     = "chunk_index"
	defaultEmbeddingColumn = "embedding"
)

// MetadataSchema binds a caller's declared metadata fields to physical
// database columns and validates metadata records at the trust boundaries
// (pipeline input and query row decoding). A schema is immutable after
// construction.
type MetadataSchema struct {
	fields      map[string]Field
	order       []string
	documentKey string
	sourceKeys  []string
	columns     map[string]string

	contentColumn   string
	indexColumn     string
	embeddingColumn string
}

// SchemaOption configures a MetadataSchema during construction.
type SchemaOption func(*schemaConfig)

type schemaConfig struct {
	sourceKeys      []string
	columnOverrides map[string]string
	contentColumn   string
	indexColumn     string
	embeddingColumn string
}

// WithSourceKeys declares the ordered set of fields that partition the table
// into source scopes.
func WithSourceKeys(fields ...string) SchemaOption {
	return func(c *schemaConfig) {
		c.sourceKeys = fields
	}
}

// WithColumn overrides the physical column for one logical field.
func WithColumn(field, column string) SchemaOption {
	return func(c *schemaConfig) {
		if c.columnOverrides == nil {
			c.columnOverrides = make(map[string]string)
		}
		c.columnOverrides[field] = column
	}
}

// WithContentColumn overrides the chunk content column name.
func WithContentColumn(column string) SchemaOption {
	return func(c *schemaConfig) {
		c.contentColumn = column
	}
}

// WithIndexColumn overrides the chunk index column name.
func WithIndexColumn(column string) SchemaOption {
	return func(c *schemaConfig) {
		c.indexColumn = column
	}
}

// WithEmbeddingColumn overrides the embedding column name.
func WithEmbeddingColumn(column string) SchemaOption {
	return func(c *schemaConfig) {
		c.embeddingColumn = column
	}
}

// NewMetadataSchema builds a schema from the declared fields. documentKey
// names the field that identifies a document inside its source scope; it must
// be one of fields, as must every source key. Field names map to columns by
// camelCase to snake_case unless overridden.
func NewMetadataSchema(documentKey string, fields []Field, opts ...SchemaOption) (*MetadataSchema, error) {
	cfg := &schemaConfig{
		contentColumn:   defaultContentColumn,
		indexColumn:     defaultIndexColumn,
		embeddingColumn: defaultEmbeddingColumn,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(fields) == 0 {
		return nil, &ConfigurationError{Field: "fields", Reason: "at least one metadata field is required"}
	}
	if documentKey == "" {
		return nil, &ConfigurationError{Field: "documentKey", Reason: "document key field is required"}
	}

	s := &MetadataSchema{
		fields:          make(map[string]Field, len(fields)),
		order:           make([]string, 0, len(fields)),
		documentKey:     documentKey,
		sourceKeys:      append([]string(nil), cfg.sourceKeys...),
		columns:         make(map[string]string, len(fields)),
		contentColumn:   cfg.contentColumn,
		indexColumn:     cfg.indexColumn,
		embeddingColumn: cfg.embeddingColumn,
	}

	for _, f := range fields {
		if f.Name == "type" {
			return nil, &ConfigurationError{Field: "fields", Reason: `field name "type" is reserved`}
		}
		if !ValidIdentifier(f.Name) {
			return nil, &ConfigurationError{Field: "fields", Reason: fmt.Sprintf("invalid field name %q", f.Name)}
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, &ConfigurationError{Field: "fields", Reason: fmt.Sprintf("duplicate field %q", f.Name)}
		}
		switch f.Type {
		case FieldString, FieldInt, FieldFloat, FieldBool, FieldTime:
		default:
			return nil, &ConfigurationError{Field: "fields", Reason: fmt.Sprintf("unknown type %q for field %q", f.Type, f.Name)}
		}
		if f.Name == documentKey {
			f.Required = true
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)

		column := toSnakeCase(f.Name)
		if override, ok := cfg.columnOverrides[f.Name]; ok {
			column = override
		}
		if !ValidIdentifier(column) {
			return nil, &ConfigurationError{Field: "columnMapping", Reason: fmt.Sprintf("invalid column name %q for field %q", column, f.Name)}
		}
		s.columns[f.Name] = column
	}

	for field := range cfg.columnOverrides {
		if _, ok := s.fields[field]; !ok {
			return nil, &ConfigurationError{Field: "columnMapping", Reason: fmt.Sprintf("override for undeclared field %q", field)}
		}
	}
	if _, ok := s.fields[documentKey]; !ok {
		return nil, &ConfigurationError{Field: "documentKey", Reason: fmt.Sprintf("field %q is not declared", documentKey)}
	}
	for _, sk := range s.sourceKeys {
		if _, ok := s.fields[sk]; !ok {
			return nil, &ConfigurationError{Field: "sourceKeys", Reason: fmt.Sprintf("field %q is not declared", sk)}
		}
	}
	for _, column := range []string{s.contentColumn, s.indexColumn, s.embeddingColumn} {
		if !ValidIdentifier(column) {
			return nil, &ConfigurationError{Field: "columns", Reason: fmt.Sprintf("invalid column name %q", column)}
		}
	}

	return s, nil
}

// DocumentKey returns the logical name of the document key field.
func (s *MetadataSchema) DocumentKey() string { return s.documentKey }

// DocumentKeyColumn returns the physical column of the document key field.
func (s *MetadataSchema) DocumentKeyColumn() string { return s.columns[s.documentKey] }

// SourceKeys returns the ordered source key field names.
func (s *MetadataSchema) SourceKeys() []string {
	return append([]string(nil), s.sourceKeys...)
}

// SourceKeyColumns returns the physical columns of the source key fields.
func (s *MetadataSchema) SourceKeyColumns() []string {
	cols := make([]string, len(s.sourceKeys))
	for i, sk := range s.sourceKeys {
		cols[i] = s.columns[sk]
	}
	return cols
}

// Fields returns the declared fields in declaration order.
func (s *MetadataSchema) Fields() []Field {
	out := make([]Field, len(s.order))
	for i, name := range s.order {
		out[i] = s.fields[name]
	}
	return out
}

// Column resolves a logical field name to its physical column.
func (s *MetadataSchema) Column(field string) (string, bool) {
	c, ok := s.columns[field]
	return c, ok
}

// ContentColumn returns the chunk content column name.
func (s *MetadataSchema) ContentColumn() string { return s.contentColumn }

// IndexColumn returns the chunk index column name.
func (s *MetadataSchema) IndexColumn() string { return s.indexColumn }

// EmbeddingColumn returns the embedding column name.
func (s *MetadataSchema) EmbeddingColumn() string { return s.embeddingColumn }

// Validate checks a metadata record against the schema. Unknown fields are
// rejected, required fields must be present, and every value must match its
// declared type. A nil value is treated as absent.
func (s *MetadataSchema) Validate(metadata map[string]any) error {
	var issues []ValidationIssue

	for name := range metadata {
		if _, ok := s.fields[name]; !ok {
			issues = append(issues, ValidationIssue{
				Path:     "metadata." + name,
				Message:  "unknown field",
				Expected: "declared field",
				Received: name,
			})
		}
	}

	for _, name := range s.order {
		f := s.fields[name]
		v, present := metadata[name]
		if !present || v == nil {
			if f.Required {
				issues = append(issues, ValidationIssue{
					Path:     "metadata." + name,
					Message:  "required field is missing",
					Expected: string(f.Type),
					Received: "nothing",
				})
			}
			continue
		}
		if err := checkFieldValue(f.Type, v); err != "" {
			issues = append(issues, ValidationIssue{
				Path:     "metadata." + name,
				Message:  err,
				Expected: string(f.Type),
				Received: fmt.Sprintf("%T", v),
			})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// checkFieldValue returns an empty string when v conforms to t, otherwise a
// short description of the mismatch.
func checkFieldValue(t FieldType, v any) string {
	switch t {
	case FieldString:
		if _, ok := v.(string); !ok {
			return "value is not a string"
		}
	case FieldInt:
		switch v.(type) {
		case int, int8, int16, int32, int64:
		default:
			return "value is not an integer"
		}
	case FieldFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
		default:
			return "value is not a number"
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return "value is not a boolean"
		}
	case FieldTime:
		if _, ok := v.(time.Time); !ok {
			return "value is not a time"
		}
	}
	return ""
}

// DecodeValue converts a database value back into the declared field type.
// It is the second trust boundary: rows that do not round-trip through the
// schema are rejected before they reach the caller.
func (s *MetadataSchema) DecodeValue(field string, raw any) (any, error) {
	f, ok := s.fields[field]
	if !ok {
		return nil, newValidationError("row."+field, "unknown field", "declared field", field)
	}
	if raw == nil {
		return nil, nil
	}
	switch f.Type {
	case FieldString:
		if v, ok := raw.(string); ok {
			return v, nil
		}
	case FieldInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int:
			return int64(v), nil
		}
	case FieldFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case FieldBool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case FieldTime:
		if v, ok := raw.(time.Time); ok {
			return v, nil
		}
	}
	return nil, newValidationError("row."+field, "malformed column value", string(f.Type), fmt.Sprintf("%T", raw))
}

// CreateTableSQL renders the reference DDL for this schema. The library never
// executes it; running migrations stays the consumer's responsibility.
func (s *MetadataSchema) CreateTableSQL(table string, dimensions int) (string, error) {
	if !ValidIdentifier(table) {
		return "", &ConfigurationError{Field: "tableName", Reason: fmt.Sprintf("invalid table name %q", table)}
	}
	if dimensions < 1 {
		return "", &ConfigurationError{Field: "dimensions", Reason: "must be at least 1"}
	}

	var b strings.Builder
	b.WriteString("CREATE EXTENSION IF NOT EXISTS vector;\n\n")
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdentifier(table))
	fmt.Fprintf(&b, "\t%s TEXT NOT NULL,\n", quoteIdentifier(s.contentColumn))
	fmt.Fprintf(&b, "\t%s INTEGER NOT NULL,\n", quoteIdentifier(s.indexColumn))
	fmt.Fprintf(&b, "\t%s VECTOR(%d) NOT NULL", quoteIdentifier(s.embeddingColumn), dimensions)
	for _, name := range s.order {
		f := s.fields[name]
		sqlType := map[FieldType]string{
			FieldString: "TEXT",
			FieldInt:    "BIGINT",
			FieldFloat:  "DOUBLE PRECISION",
			FieldBool:   "BOOLEAN",
			FieldTime:   "TIMESTAMPTZ",
		}[f.Type]
		null := ""
		if f.Required {
			null = " NOT NULL"
		}
		fmt.Fprintf(&b, ",\n\t%s %s%s", quoteIdentifier(s.columns[name]), sqlType, null)
	}
	b.WriteString("\n);\n\n")
	fmt.Fprintf(&b, "CREATE INDEX ON %s USING hnsw (%s vector_cosine_ops);\n",
		quoteIdentifier(table), quoteIdentifier(s.embeddingColumn))
	return b.String(), nil
}

// toSnakeCase converts a camelCase field name to snake_case, keeping runs of
// capitals together (fileSHA -> file_sha, repositoryIndexDbId ->
// repository_index_db_id).
func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (i > 0 && nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
