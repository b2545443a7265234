package dynamock

import (
	"maps"
	"testing"

	"github.com/nisimpson/dynatable"
)

// SchemaOption is a functional option for configuring schemas during building.
type SchemaOption func(*SchemaBuilder)

// SchemaBuilder collects columns, keys and indexes for a test schema.
type SchemaBuilder struct {
	tableName    string
	partitionKey string
	columns      dynatable.Columns
	options      []func(*dynatable.SchemaOptions)
}

// NewSchema creates a new schema builder with the given options applied.
// Without a partition key option the table is keyed by a String "id".
func NewSchema(tableName string, opts ...SchemaOption) *SchemaBuilder {
	builder := &SchemaBuilder{
		tableName: tableName,
		columns:   make(dynatable.Columns),
	}
	for _, opt := range opts {
		opt(builder)
	}
	if builder.partitionKey == "" {
		WithPartitionKey("id", dynatable.String)(builder)
	}
	return builder
}

// Build validates and returns the schema.
func (b *SchemaBuilder) Build() (*dynatable.Schema, error) {
	return dynatable.NewSchema(b.tableName, b.columns, b.partitionKey, b.options...)
}

// MustBuild returns the schema, failing t if it is invalid.
func (b *SchemaBuilder) MustBuild(t testing.TB) *dynatable.Schema {
	t.Helper()
	schema, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return schema
}

// Functional Options

// WithPartitionKey declares a required column and uses it as the partition key.
func WithPartitionKey(name string, t dynatable.ColumnType) SchemaOption {
	return func(b *SchemaBuilder) {
		b.columns[name] = dynatable.Column{Type: t, Required: true}
		b.partitionKey = name
	}
}

// WithSortKey declares a required column and uses it as the sort key.
func WithSortKey(name string, t dynatable.ColumnType) SchemaOption {
	return func(b *SchemaBuilder) {
		b.columns[name] = dynatable.Column{Type: t, Required: true}
		b.options = append(b.options, dynatable.WithSortKey(name))
	}
}

// WithColumn declares an optional column.
func WithColumn(name string, t dynatable.ColumnType) SchemaOption {
	return func(b *SchemaBuilder) {
		b.columns[name] = dynatable.Column{Type: t}
	}
}

// WithRequiredColumn declares a required column.
func WithRequiredColumn(name string, t dynatable.ColumnType) SchemaOption {
	return func(b *SchemaBuilder) {
		b.columns[name] = dynatable.Column{Type: t, Required: true}
	}
}

// WithIndex adds a secondary index partitioned by an already declared column.
// Attributes are only used by the specified projection.
func WithIndex(name, partitionKey string, projection dynatable.Projection, attributes ...string) SchemaOption {
	return WithSortedIndex(name, partitionKey, "", projection, attributes...)
}

// WithSortedIndex adds a secondary index with a sort key.
func WithSortedIndex(name, partitionKey, sortKey string, projection dynatable.Projection, attributes ...string) SchemaOption {
	return func(b *SchemaBuilder) {
		b.options = append(b.options, dynatable.WithIndex(dynatable.Index{
			Name:         name,
			PartitionKey: partitionKey,
			SortKey:      sortKey,
			Projection:   projection,
			Attributes:   attributes,
		}))
	}
}

// RecordOption is a functional option for configuring test records.
type RecordOption func(dynatable.Record)

// NewRecord creates a record with the given options applied.
func NewRecord(opts ...RecordOption) dynatable.Record {
	rec := make(dynatable.Record)
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// WithAttribute sets a single attribute.
func WithAttribute(name string, value any) RecordOption {
	return func(rec dynatable.Record) {
		rec[name] = value
	}
}

// WithAttributes copies every entry of attrs into the record.
func WithAttributes(attrs map[string]any) RecordOption {
	return func(rec dynatable.Record) {
		maps.Copy(rec, attrs)
	}
}
