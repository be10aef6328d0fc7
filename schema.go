// Package ragstore exposes the metadata schema layer: the declaration of an
// application's metadata fields and their mapping onto physical database
// columns. The schema is the single trust boundary for metadata — records
// are validated against it on the way in (ingestion) and decoded through it
// on the way out (query results).
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
)

// Field declares one metadata field by its logical (camelCase) name, its
// value type, and whether it must be present in every record. The document
// key field is always treated as required.
type Field = rag.Field

// FieldType enumerates the value types a metadata field may declare.
type FieldType = rag.FieldType

// The supported metadata field types.
const (
	FieldString = rag.FieldString
	FieldInt    = rag.FieldInt
	FieldFloat  = rag.FieldFloat
	FieldBool   = rag.FieldBool
	FieldTime   = rag.FieldTime
)

// MetadataSchema binds declared metadata fields to physical database
// columns. By default a field's column is its name converted from camelCase
// to snake_case ("fileSha" becomes "file_sha"); overrides are available per
// field. A schema is immutable once constructed and safe for concurrent use.
type MetadataSchema = rag.MetadataSchema

// SchemaOption configures a MetadataSchema during construction.
type SchemaOption = rag.SchemaOption

// NewMetadataSchema builds a schema from the declared fields. documentKey
// names the field that identifies a document inside its source scope; it
// must be one of the declared fields, as must every source key.
//
// Example:
//
//	schema, err := ragstore.NewMetadataSchema("filePath",
//	    []ragstore.Field{
//	        {Name: "repositoryId", Type: ragstore.FieldInt, Required: true},
//	        {Name: "filePath", Type: ragstore.FieldString},
//	        {Name: "fileSha", Type: ragstore.FieldString},
//	    },
//	    ragstore.WithSourceKeys("repositoryId"),
//	)
func NewMetadataSchema(documentKey string, fields []Field, opts ...SchemaOption) (*MetadataSchema, error) {
	return rag.NewMetadataSchema(documentKey, fields, opts...)
}

// WithSourceKeys declares the ordered set of fields that partition the
// table into source scopes. Every source key column must be given a value
// in the chunk store's static context.
func WithSourceKeys(fields ...string) SchemaOption {
	return rag.WithSourceKeys(fields...)
}

// WithColumn overrides the physical column for one logical field.
func WithColumn(field, column string) SchemaOption {
	return rag.WithColumn(field, column)
}

// WithContentColumn overrides the chunk content column name (default
// "chunk_content").
func WithContentColumn(column string) SchemaOption {
	return rag.WithContentColumn(column)
}

// WithIndexColumn overrides the chunk index column name (default
// "chunk_index").
func WithIndexColumn(column string) SchemaOption {
	return rag.WithIndexColumn(column)
}

// WithEmbeddingColumn overrides the embedding column name (default
// "embedding").
func WithEmbeddingColumn(column string) SchemaOption {
	return rag.WithEmbeddingColumn(column)
}
