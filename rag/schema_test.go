package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *MetadataSchema {
	t.Helper()
	schema, err := NewMetadataSchema("filePath",
		[]Field{
			{Name: "repositoryId", Type: FieldInt, Required: true},
			{Name: "filePath", Type: FieldString},
			{Name: "fileSha", Type: FieldString},
			{Name: "indexedAt", Type: FieldTime},
		},
		WithSourceKeys("repositoryId"),
	)
	require.NoError(t, err)
	return schema
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"filePath":            "file_path",
		"fileSha":             "file_sha",
		"fileSHA":             "file_sha",
		"repositoryIndexDbId": "repository_index_db_id",
		"simple":              "simple",
		"ID":                  "id",
		"HTTPStatus":          "http_status",
	}
	for in, want := range cases {
		assert.Equal(t, want, toSnakeCase(in), "input %q", in)
	}
}

func TestNewMetadataSchemaRejectsBadConfig(t *testing.T) {
	_, err := NewMetadataSchema("key", nil)
	assert.Error(t, err)

	_, err = NewMetadataSchema("", []Field{{Name: "key", Type: FieldString}})
	assert.Error(t, err)

	// Reserved field name.
	_, err = NewMetadataSchema("key", []Field{
		{Name: "key", Type: FieldString},
		{Name: "type", Type: FieldString},
	})
	assert.Error(t, err)

	// Invalid identifier.
	_, err = NewMetadataSchema("key", []Field{
		{Name: "key", Type: FieldString},
		{Name: "bad-name", Type: FieldString},
	})
	assert.Error(t, err)

	// Duplicate field.
	_, err = NewMetadataSchema("key", []Field{
		{Name: "key", Type: FieldString},
		{Name: "key", Type: FieldInt},
	})
	assert.Error(t, err)

	// Unknown type.
	_, err = NewMetadataSchema("key", []Field{{Name: "key", Type: "decimal"}})
	assert.Error(t, err)

	// Document key must be declared.
	_, err = NewMetadataSchema("missing", []Field{{Name: "key", Type: FieldString}})
	assert.Error(t, err)

	// Source keys must be declared.
	_, err = NewMetadataSchema("key", []Field{{Name: "key", Type: FieldString}},
		WithSourceKeys("tenant"))
	assert.Error(t, err)

	// Override for an undeclared field.
	_, err = NewMetadataSchema("key", []Field{{Name: "key", Type: FieldString}},
		WithColumn("other", "other_col"))
	assert.Error(t, err)

	// Override producing an invalid column.
	_, err = NewMetadataSchema("key", []Field{{Name: "key", Type: FieldString}},
		WithColumn("key", "bad;col"))
	assert.Error(t, err)
}

func TestSchemaColumnMapping(t *testing.T) {
	schema, err := NewMetadataSchema("filePath",
		[]Field{
			{Name: "repositoryId", Type: FieldInt},
			{Name: "filePath", Type: FieldString},
		},
		WithSourceKeys("repositoryId"),
		WithColumn("repositoryId", "repo_id"),
		WithContentColumn("body"),
	)
	require.NoError(t, err)

	col, ok := schema.Column("repositoryId")
	require.True(t, ok)
	assert.Equal(t, "repo_id", col)

	col, ok = schema.Column("filePath")
	require.True(t, ok)
	assert.Equal(t, "file_path", col)

	assert.Equal(t, "file_path", schema.DocumentKeyColumn())
	assert.Equal(t, []string{"repo_id"}, schema.SourceKeyColumns())
	assert.Equal(t, "body", schema.ContentColumn())
	assert.Equal(t, "chunk_index", schema.IndexColumn())
	assert.Equal(t, "embedding", schema.EmbeddingColumn())
}

func TestDocumentKeyAlwaysRequired(t *testing.T) {
	schema := testSchema(t)

	err := schema.Validate(map[string]any{
		"repositoryId": int64(1),
	})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Issues, 1)
	assert.Equal(t, "metadata.filePath", ve.Issues[0].Path)
}

func TestValidateMetadata(t *testing.T) {
	schema := testSchema(t)

	// Valid record; optional fields may be absent.
	err := schema.Validate(map[string]any{
		"repositoryId": 42,
		"filePath":     "cmd/main.go",
	})
	assert.NoError(t, err)

	// Unknown field.
	err = schema.Validate(map[string]any{
		"repositoryId": 42,
		"filePath":     "cmd/main.go",
		"branch":       "main",
	})
	assert.Error(t, err)

	// Wrong type.
	err = schema.Validate(map[string]any{
		"repositoryId": "42",
		"filePath":     "cmd/main.go",
	})
	assert.Error(t, err)

	// Nil counts as absent, which fails for required fields.
	err = schema.Validate(map[string]any{
		"repositoryId": nil,
		"filePath":     "cmd/main.go",
	})
	assert.Error(t, err)

	// Multiple issues are reported together.
	err = schema.Validate(map[string]any{
		"branch": "main",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Issues, 3) // unknown branch, missing repositoryId, missing filePath

	// Time values.
	err = schema.Validate(map[string]any{
		"repositoryId": 42,
		"filePath":     "cmd/main.go",
		"indexedAt":    time.Now(),
	})
	assert.NoError(t, err)
}

func TestDecodeValue(t *testing.T) {
	schema := testSchema(t)

	v, err := schema.DecodeValue("repositoryId", int32(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = schema.DecodeValue("filePath", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "a.go", v)

	v, err = schema.DecodeValue("fileSha", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = schema.DecodeValue("repositoryId", "not a number")
	assert.Error(t, err)

	_, err = schema.DecodeValue("unknown", 1)
	assert.Error(t, err)
}

func TestCreateTableSQL(t *testing.T) {
	schema := testSchema(t)

	ddl, err := schema.CreateTableSQL("code_chunks", 1536)
	require.NoError(t, err)
	assert.Contains(t, ddl, `CREATE TABLE "code_chunks"`)
	assert.Contains(t, ddl, `"chunk_content" TEXT NOT NULL`)
	assert.Contains(t, ddl, `"chunk_index" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `"embedding" VECTOR(1536) NOT NULL`)
	assert.Contains(t, ddl, `"repository_id" BIGINT NOT NULL`)
	assert.Contains(t, ddl, `"file_path" TEXT NOT NULL`)
	assert.Contains(t, ddl, `"indexed_at" TIMESTAMPTZ`)
	assert.Contains(t, ddl, "USING hnsw")

	_, err = schema.CreateTableSQL("bad table", 1536)
	assert.Error(t, err)

	_, err = schema.CreateTableSQL("code_chunks", 0)
	assert.Error(t, err)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("chunk_content"))
	assert.True(t, ValidIdentifier("_private"))
	assert.True(t, ValidIdentifier("Col1"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("1col"))
	assert.False(t, ValidIdentifier("col; DROP TABLE x"))
	assert.False(t, ValidIdentifier(`col"name`))
}
