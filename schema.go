package dynatable

import (
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ColumnType is the declared type of a column. Each type maps to exactly one
// wire tag.
type ColumnType string

const (
	String    ColumnType = "String"    // S
	Number    ColumnType = "Number"    // N
	Bool      ColumnType = "Bool"      // BOOL
	List      ColumnType = "List"      // L
	Map       ColumnType = "Map"       // M
	StringSet ColumnType = "StringSet" // SS
	NumberSet ColumnType = "NumberSet" // NS
)

// Valid reports whether t is one of the declared column types.
func (t ColumnType) Valid() bool {
	switch t {
	case String, Number, Bool, List, Map, StringSet, NumberSet:
		return true
	}
	return false
}

// Scalar reports whether t can be used as a key attribute.
func (t ColumnType) Scalar() bool {
	return t == String || t == Number
}

func (t ColumnType) scalarAttributeType() types.ScalarAttributeType {
	if t == Number {
		return types.ScalarAttributeTypeN
	}
	return types.ScalarAttributeTypeS
}

// Column describes a single attribute of a record.
type Column struct {
	Type     ColumnType `yaml:"type" json:"type"`
	Required bool       `yaml:"required" json:"required"`
}

// Columns maps attribute names to their definitions.
type Columns map[string]Column

// Projection is the set of attributes copied into a secondary index.
type Projection string

const (
	ProjectAll       Projection = "all"       // Every attribute
	ProjectKeys      Projection = "keys"      // Table and index keys only
	ProjectSpecified Projection = "specified" // Keys plus Index.Attributes
)

// Index describes a global secondary index.
type Index struct {
	Name         string     `yaml:"name" json:"name"`
	PartitionKey string     `yaml:"partitionKey" json:"partitionKey"`
	SortKey      string     `yaml:"sortKey,omitempty" json:"sortKey,omitempty"`
	Projection   Projection `yaml:"projection" json:"projection"`
	Attributes   []string   `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Schema describes a table: its columns, primary key and secondary indexes.
// A Schema is validated once by NewSchema and is read-only afterwards.
type Schema struct {
	tableName    string
	columns      Columns
	partitionKey string
	sortKey      string
	indexes      []Index
}

// SchemaOptions holds the optional parts of a Schema.
type SchemaOptions struct {
	SortKey string  // Sort key attribute name; empty for a simple primary key
	Indexes []Index // Secondary indexes, in declaration order
}

// WithSortKey declares the sort key of a composite primary key.
func WithSortKey(name string) func(*SchemaOptions) {
	return func(o *SchemaOptions) {
		o.SortKey = name
	}
}

// WithIndex appends a secondary index to the schema.
func WithIndex(index Index) func(*SchemaOptions) {
	return func(o *SchemaOptions) {
		o.Indexes = append(o.Indexes, index)
	}
}

// NewSchema validates and returns a table schema. All errors match
// ErrValidation:
//   - the partition key must be a required String or Number column;
//   - the sort key, if any, must differ from the partition key and be a
//     String or Number column;
//   - index names must be unique and index keys must be String or Number
//     columns.
func NewSchema(tableName string, columns Columns, partitionKey string, opts ...func(*SchemaOptions)) (*Schema, error) {
	var options SchemaOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := &Schema{
		tableName:    tableName,
		columns:      make(Columns, len(columns)),
		partitionKey: partitionKey,
		sortKey:      options.SortKey,
		indexes:      make([]Index, 0, len(options.Indexes)),
	}
	for name, col := range columns {
		s.columns[name] = col
	}
	for _, index := range options.Indexes {
		index.Attributes = slices.Clone(index.Attributes)
		s.indexes = append(s.indexes, index)
	}

	if err := s.validate(); err != nil {
		return nil, withOp("schema", tableName, err)
	}
	return s, nil
}

func (s *Schema) validate() error {
	if s.tableName == "" {
		return validationErrorf("table name is required")
	}
	for name, col := range s.columns {
		if name == "" {
			return validationErrorf("column name is required")
		}
		if !col.Type.Valid() {
			return validationErrorf("column %s has unknown type %q", name, col.Type)
		}
	}

	pk, ok := s.columns[s.partitionKey]
	if !ok {
		return validationErrorf("partition key %q is not a column", s.partitionKey)
	}
	if !pk.Required {
		return validationErrorf("partition key %s must be required", s.partitionKey)
	}
	if !pk.Type.Scalar() {
		return validationErrorf("partition key %s has invalid type %s", s.partitionKey, pk.Type)
	}

	if s.sortKey != "" {
		if s.sortKey == s.partitionKey {
			return validationErrorf("partition key and sort key cannot both be %s", s.sortKey)
		}
		sk, ok := s.columns[s.sortKey]
		if !ok {
			return validationErrorf("sort key %q is not a column", s.sortKey)
		}
		if !sk.Type.Scalar() {
			return validationErrorf("sort key %s has invalid type %s", s.sortKey, sk.Type)
		}
	}

	seen := make(map[string]bool, len(s.indexes))
	for _, index := range s.indexes {
		if index.Name == "" {
			return validationErrorf("index name is required")
		}
		if seen[index.Name] {
			return validationErrorf("duplicate index %s", index.Name)
		}
		seen[index.Name] = true

		if err := s.validateIndexKey(index, index.PartitionKey); err != nil {
			return err
		}
		if index.SortKey != "" {
			if index.SortKey == index.PartitionKey {
				return validationErrorf("index %s: partition key and sort key cannot both be %s", index.Name, index.SortKey)
			}
			if err := s.validateIndexKey(index, index.SortKey); err != nil {
				return err
			}
		}

		switch index.Projection {
		case ProjectAll, ProjectKeys:
		case ProjectSpecified:
			if len(index.Attributes) == 0 {
				return validationErrorf("index %s: specified projection needs attributes", index.Name)
			}
		default:
			return validationErrorf("index %s: unknown projection %q", index.Name, index.Projection)
		}
	}
	return nil
}

func (s *Schema) validateIndexKey(index Index, name string) error {
	col, ok := s.columns[name]
	if !ok {
		return validationErrorf("index %s: key %q is not a column", index.Name, name)
	}
	if !col.Type.Scalar() {
		return validationErrorf("index %s: key %s has invalid type %s", index.Name, name, col.Type)
	}
	return nil
}

// TableName returns the table name.
func (s *Schema) TableName() string { return s.tableName }

// PartitionKey returns the partition key attribute name.
func (s *Schema) PartitionKey() string { return s.partitionKey }

// SortKey returns the sort key attribute name, or "" if the table has none.
func (s *Schema) SortKey() string { return s.sortKey }

// Column returns the definition of a column.
func (s *Schema) Column(name string) (Column, bool) {
	col, ok := s.columns[name]
	return col, ok
}

// ColumnType returns the declared type of a column, or "" if the column is
// not declared.
func (s *Schema) ColumnType(name string) ColumnType {
	return s.columns[name].Type
}

// Indexes returns a copy of the secondary indexes in declaration order.
func (s *Schema) Indexes() []Index {
	out := make([]Index, len(s.indexes))
	for i, index := range s.indexes {
		index.Attributes = slices.Clone(index.Attributes)
		out[i] = index
	}
	return out
}

// Index returns the secondary index with the given name.
func (s *Schema) Index(name string) (Index, bool) {
	for _, index := range s.indexes {
		if index.Name == name {
			index.Attributes = slices.Clone(index.Attributes)
			return index, true
		}
	}
	return Index{}, false
}

// Renamed returns a copy of the schema describing a table with another name.
func (s *Schema) Renamed(tableName string) *Schema {
	c := *s
	c.tableName = tableName
	return &c
}

func (s *Schema) isKey(name string) bool {
	return name == s.partitionKey || (s.sortKey != "" && name == s.sortKey)
}

// emptyKeyAttributes returns the index partition-key attributes that may be
// absent from stored items because they held the empty string.
func (s *Schema) emptyKeyAttributes() []string {
	var names []string
	for _, index := range s.indexes {
		if s.columns[index.PartitionKey].Type != String || slices.Contains(names, index.PartitionKey) {
			continue
		}
		names = append(names, index.PartitionKey)
	}
	return names
}

// projects reports whether index stores attribute name.
func (s *Schema) projects(index Index, name string) bool {
	if s.isKey(name) || name == index.PartitionKey || name == index.SortKey {
		return true
	}
	switch index.Projection {
	case ProjectAll:
		return true
	case ProjectSpecified:
		return slices.Contains(index.Attributes, name)
	}
	return false
}

// CreateTableInput returns a request that creates the table described by the
// schema, billed on demand.
func (s *Schema) CreateTableInput() *dynamodb.CreateTableInput {
	var (
		defined []string
		attrs   []types.AttributeDefinition
	)
	define := func(name string) {
		if slices.Contains(defined, name) {
			return
		}
		defined = append(defined, name)
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: s.columns[name].Type.scalarAttributeType(),
		})
	}

	define(s.partitionKey)
	keySchema := []types.KeySchemaElement{
		{AttributeName: aws.String(s.partitionKey), KeyType: types.KeyTypeHash},
	}
	if s.sortKey != "" {
		define(s.sortKey)
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: aws.String(s.sortKey),
			KeyType:       types.KeyTypeRange,
		})
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.tableName),
		KeySchema:   keySchema,
		BillingMode: types.BillingModePayPerRequest,
	}

	for _, index := range s.indexes {
		define(index.PartitionKey)
		gsi := types.GlobalSecondaryIndex{
			IndexName: aws.String(index.Name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(index.PartitionKey), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{},
		}
		if index.SortKey != "" {
			define(index.SortKey)
			gsi.KeySchema = append(gsi.KeySchema, types.KeySchemaElement{
				AttributeName: aws.String(index.SortKey),
				KeyType:       types.KeyTypeRange,
			})
		}
		switch index.Projection {
		case ProjectAll:
			gsi.Projection.ProjectionType = types.ProjectionTypeAll
		case ProjectKeys:
			gsi.Projection.ProjectionType = types.ProjectionTypeKeysOnly
		case ProjectSpecified:
			gsi.Projection.ProjectionType = types.ProjectionTypeInclude
			gsi.Projection.NonKeyAttributes = slices.Clone(index.Attributes)
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}

	input.AttributeDefinitions = attrs
	return input
}
