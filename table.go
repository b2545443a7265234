package dynatable

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient defines the DynamoDB operations required by Table.
// *dynamodb.Client satisfies it, as do the doubles in the dynamock package.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Key identifies a single record by its primary key.
type Key struct {
	Partition any // Partition key value
	Sort      any // Sort key value; nil unless the table has a sort key
}

// PK returns a key with the given partition value.
func PK(value any) Key {
	return Key{Partition: value}
}

// WithSort returns a copy of k with the given sort value.
func (k Key) WithSort(value any) Key {
	k.Sort = value
	return k
}

// CreateOptions configures Create.
type CreateOptions struct {
	// FailIfExists rejects the write with ErrConditionFailed when a record
	// with the same partition key is already stored.
	FailIfExists bool
}

// FailIfExists is a Create option that sets CreateOptions.FailIfExists.
func FailIfExists(o *CreateOptions) {
	o.FailIfExists = true
}

// GetOptions configures Get.
type GetOptions struct {
	Projection []string // Attributes to fetch; empty fetches all
}

// QueryOptions configures QueryIndex.
type QueryOptions struct {
	ProjectAll bool     // Fetch every attribute; the index must project all attributes
	Projection []string // Attributes to fetch; each must be projected by the index
}

// Table reads and writes records of type T in a single table. T is a struct
// with json tags or a string-keyed map such as Record.
//
// Every operation issues at most one request. The table holds no locks;
// concurrent callers rely on the backend's conditional writes and atomic
// counters.
type Table[T any] struct {
	client DynamoDBClient
	schema *Schema
}

// New returns a table client for the given schema. When T is a struct every
// required column must be one of its json fields.
func New[T any](client DynamoDBClient, schema *Schema) (*Table[T], error) {
	if schema == nil {
		return nil, withOp("new", "", validationErrorf("schema is required"))
	}
	if client == nil {
		return nil, withOp("new", schema.TableName(), validationErrorf("client is required"))
	}

	fields, isStruct, err := jsonFields(reflect.TypeFor[T]())
	if err != nil {
		return nil, withOp("new", schema.TableName(), err)
	}
	if isStruct {
		for name, col := range schema.columns {
			if col.Required && !fields[name] {
				return nil, withOp("new", schema.TableName(),
					validationErrorf("required column %s is not a field of %s", name, reflect.TypeFor[T]()))
			}
		}
	}

	return &Table[T]{client: client, schema: schema}, nil
}

// Schema returns the table schema.
func (t *Table[T]) Schema() *Schema {
	return t.schema
}

// Create writes rec, replacing any record with the same key unless
// FailIfExists is given. Index partition keys holding "" are not written.
func (t *Table[T]) Create(ctx context.Context, rec T, opts ...func(*CreateOptions)) error {
	var options CreateOptions
	for _, opt := range opts {
		opt(&options)
	}

	item, err := t.encodeRecord(rec)
	if err != nil {
		return withOp("create", t.schema.TableName(), err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.schema.TableName()),
		Item:      item,
	}
	if options.FailIfExists {
		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(t.schema.PartitionKey()))).
			Build()
		if err != nil {
			return withOp("create", t.schema.TableName(), encodingErrorf("failed to build condition: %w", err))
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
	}

	if _, err := t.client.PutItem(ctx, input); err != nil {
		return classify("create", t.schema.TableName(), err, ErrConditionFailed)
	}
	return nil
}

// Scan returns every record in the table from a single request. Tables
// larger than one response page are truncated.
func (t *Table[T]) Scan(ctx context.Context) ([]T, error) {
	out, err := t.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(t.schema.TableName()),
	})
	if err != nil {
		return nil, classify("scan", t.schema.TableName(), err, ErrConditionFailed)
	}

	records, err := t.decodeItems(out.Items, projectEverything)
	if err != nil {
		return nil, withOp("scan", t.schema.TableName(), err)
	}
	return records, nil
}

// Get returns the record stored under key, or nil if there is none.
func (t *Table[T]) Get(ctx context.Context, key Key, opts ...func(*GetOptions)) (*T, error) {
	var options GetOptions
	for _, opt := range opts {
		opt(&options)
	}

	keyItem, err := t.encodeKey(key)
	if err != nil {
		return nil, withOp("get", t.schema.TableName(), err)
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(t.schema.TableName()),
		Key:       keyItem,
	}
	inProjection := projectEverything
	if len(options.Projection) > 0 {
		for _, name := range options.Projection {
			if _, ok := t.schema.Column(name); !ok {
				return nil, withOp("get", t.schema.TableName(), validationErrorf("attribute %s is not a column", name))
			}
		}
		expr, err := projectionExpression(options.Projection)
		if err != nil {
			return nil, withOp("get", t.schema.TableName(), err)
		}
		input.ProjectionExpression = expr.Projection()
		input.ExpressionAttributeNames = expr.Names()
		inProjection = func(name string) bool { return slices.Contains(options.Projection, name) }
	}

	out, err := t.client.GetItem(ctx, input)
	if err != nil {
		return nil, classify("get", t.schema.TableName(), err, ErrConditionFailed)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	rec, err := t.decodeItem(out.Item, inProjection)
	if err != nil {
		return nil, withOp("get", t.schema.TableName(), err)
	}
	return rec, nil
}

// QueryIndex returns the records whose index partition key equals value.
// Without options the query returns the attributes the index projects.
func (t *Table[T]) QueryIndex(ctx context.Context, indexName, attribute string, value any, opts ...func(*QueryOptions)) ([]T, error) {
	var options QueryOptions
	for _, opt := range opts {
		opt(&options)
	}

	index, ok := t.schema.Index(indexName)
	if !ok {
		return nil, withOp("query", t.schema.TableName(), validationErrorf("unknown index %s", indexName))
	}
	if attribute != index.PartitionKey {
		return nil, withOp("query", t.schema.TableName(),
			validationErrorf("index %s is partitioned by %s, not %s", indexName, index.PartitionKey, attribute))
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(t.schema.TableName()),
		IndexName: aws.String(indexName),
	}
	inProjection := func(name string) bool { return t.schema.projects(index, name) }
	switch {
	case options.ProjectAll:
		if index.Projection != ProjectAll {
			return nil, withOp("query", t.schema.TableName(),
				validationErrorf("index %s does not project all attributes", indexName))
		}
		input.Select = types.SelectAllAttributes
		inProjection = projectEverything
	case len(options.Projection) > 0:
		for _, name := range options.Projection {
			if !t.schema.projects(index, name) {
				return nil, withOp("query", t.schema.TableName(),
					validationErrorf("index %s does not project %s", indexName, name))
			}
		}
		input.Select = types.SelectSpecificAttributes
		inProjection = func(name string) bool { return slices.Contains(options.Projection, name) }
	}

	keyValue, err := EncodeAs(t.schema.ColumnType(attribute), value)
	if err != nil {
		return nil, withOp("query", t.schema.TableName(), validationErrorf("attribute %s: %w", attribute, err))
	}
	if s, ok := keyValue.(*types.AttributeValueMemberS); ok && s.Value == "" {
		// Records holding "" were written without the attribute and are
		// never part of the index.
		return []T{}, nil
	}

	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key(attribute).Equal(expression.Value(wireValue{keyValue})))
	if len(options.Projection) > 0 && !options.ProjectAll {
		builder = builder.WithProjection(namesList(options.Projection))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, withOp("query", t.schema.TableName(), encodingErrorf("failed to build query expression: %w", err))
	}
	input.KeyConditionExpression = expr.KeyCondition()
	input.ProjectionExpression = expr.Projection()
	input.ExpressionAttributeNames = expr.Names()
	input.ExpressionAttributeValues = expr.Values()

	out, err := t.client.Query(ctx, input)
	if err != nil {
		return nil, classify("query", t.schema.TableName(), err, ErrConditionFailed)
	}

	records, err := t.decodeItems(out.Items, inProjection)
	if err != nil {
		return nil, withOp("query", t.schema.TableName(), err)
	}
	return records, nil
}

// Patch applies a partial update to an existing record and returns the
// record as stored afterwards. Patching a missing key fails with ErrNotFound
// and writes nothing.
func (t *Table[T]) Patch(ctx context.Context, key Key, attrs map[string]any) (*T, error) {
	keyItem, err := t.encodeKey(key)
	if err != nil {
		return nil, withOp("patch", t.schema.TableName(), err)
	}
	expr, err := BuildUpdate(t.schema, attrs)
	if err != nil {
		return nil, withOp("patch", t.schema.TableName(), err)
	}

	out, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.schema.TableName()),
		Key:                       keyItem,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, classify("patch", t.schema.TableName(), err, ErrNotFound)
	}

	rec, err := t.decodeItem(out.Attributes, projectEverything)
	if err != nil {
		return nil, withOp("patch", t.schema.TableName(), err)
	}
	return rec, nil
}

// Increment atomically adds delta to a Number column and returns the new
// value. A missing record is created holding only its key and the counter.
func (t *Table[T]) Increment(ctx context.Context, key Key, attribute string, delta float64) (float64, error) {
	keyItem, err := t.encodeKey(key)
	if err != nil {
		return 0, withOp("increment", t.schema.TableName(), err)
	}
	expr, err := buildIncrement(t.schema, attribute, delta)
	if err != nil {
		return 0, withOp("increment", t.schema.TableName(), err)
	}

	out, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.schema.TableName()),
		Key:                       keyItem,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, classify("increment", t.schema.TableName(), err, ErrConditionFailed)
	}

	n, ok := out.Attributes[attribute].(*types.AttributeValueMemberN)
	if !ok {
		return 0, withOp("increment", t.schema.TableName(), decodeErrorf("response is missing number attribute %s", attribute))
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, withOp("increment", t.schema.TableName(), decodeErrorf("invalid number %q", n.Value))
	}
	return f, nil
}

// Delete removes the record stored under key. Deleting a missing key is not
// an error.
func (t *Table[T]) Delete(ctx context.Context, key Key) error {
	keyItem, err := t.encodeKey(key)
	if err != nil {
		return withOp("delete", t.schema.TableName(), err)
	}
	_, err = t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.schema.TableName()),
		Key:       keyItem,
	})
	if err != nil {
		return classify("delete", t.schema.TableName(), err, ErrConditionFailed)
	}
	return nil
}

func (t *Table[T]) encodeKey(key Key) (Item, error) {
	item := make(Item, 2)
	if isNil(key.Partition) {
		return nil, validationErrorf("partition key %s is required", t.schema.PartitionKey())
	}
	av, err := EncodeAs(t.schema.ColumnType(t.schema.PartitionKey()), key.Partition)
	if err != nil {
		return nil, validationErrorf("partition key %s: %w", t.schema.PartitionKey(), err)
	}
	item[t.schema.PartitionKey()] = av

	sk := t.schema.SortKey()
	switch {
	case sk == "" && !isNil(key.Sort):
		return nil, validationErrorf("table %s has no sort key", t.schema.TableName())
	case sk != "" && isNil(key.Sort):
		return nil, validationErrorf("sort key %s is required", sk)
	case sk != "":
		av, err := EncodeAs(t.schema.ColumnType(sk), key.Sort)
		if err != nil {
			return nil, validationErrorf("sort key %s: %w", sk, err)
		}
		item[sk] = av
	}
	return item, nil
}

// encodeRecord validates rec against the schema and returns the item to
// write. Null attributes are dropped.
func (t *Table[T]) encodeRecord(rec T) (Item, error) {
	native, err := toNative(rec)
	if err != nil {
		return nil, err
	}

	for name, col := range t.schema.columns {
		if !col.Required {
			continue
		}
		if v, ok := native[name]; !ok || v == nil {
			return nil, validationErrorf("required attribute %s is missing", name)
		}
	}

	emptyKeys := t.schema.emptyKeyAttributes()
	item := make(Item, len(native))
	for name, value := range native {
		if value == nil {
			continue
		}

		var av types.AttributeValue
		if col, ok := t.schema.Column(name); ok {
			av, err = EncodeAs(col.Type, value)
			if err != nil {
				return nil, validationErrorf("attribute %s: %w", name, err)
			}
		} else if av, err = Encode(value); err != nil {
			return nil, err
		}

		if s, ok := av.(*types.AttributeValueMemberS); ok && s.Value == "" && slices.Contains(emptyKeys, name) {
			continue
		}
		item[name] = av
	}
	return item, nil
}

func (t *Table[T]) decodeItems(items []Item, inProjection func(string) bool) ([]T, error) {
	records := make([]T, 0, len(items))
	for _, item := range items {
		rec, err := t.decodeItem(item, inProjection)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// decodeItem restores omitted empty index keys that fall inside the
// projection, then decodes the item into a record.
func (t *Table[T]) decodeItem(item Item, inProjection func(string) bool) (*T, error) {
	restored := make(Item, len(item)+1)
	for name, av := range item {
		restored[name] = av
	}
	for _, name := range t.schema.emptyKeyAttributes() {
		if _, ok := restored[name]; !ok && inProjection(name) {
			restored[name] = &types.AttributeValueMemberS{Value: ""}
		}
	}

	native, err := DecodeMap(restored, func(o *DecodeOptions) { o.UseNumber = true })
	if err != nil {
		return nil, err
	}
	return fromNative[T](native)
}

func projectEverything(string) bool { return true }

func namesList(names []string) expression.ProjectionBuilder {
	rest := make([]expression.NameBuilder, 0, len(names)-1)
	for _, name := range names[1:] {
		rest = append(rest, expression.Name(name))
	}
	return expression.NamesList(expression.Name(names[0]), rest...)
}

func projectionExpression(names []string) (expression.Expression, error) {
	expr, err := expression.NewBuilder().WithProjection(namesList(names)).Build()
	if err != nil {
		return expression.Expression{}, encodingErrorf("failed to build projection: %w", err)
	}
	return expr, nil
}

// toNative converts a record to the native value model through its JSON
// form. Numbers keep their exact text.
func toNative[T any](rec T) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, encodingErrorf("failed to marshal record: %w", err)
	}

	var native map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&native); err != nil {
		return nil, validationErrorf("record is not an object: %w", err)
	}
	if native == nil {
		return nil, validationErrorf("record is null")
	}
	return native, nil
}

func fromNative[T any](native map[string]any) (*T, error) {
	data, err := json.Marshal(native)
	if err != nil {
		return nil, decodeErrorf("failed to marshal item: %w", err)
	}
	rec := new(T)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(rec); err != nil {
		return nil, decodeErrorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// jsonFields returns the json object keys of a struct type. Map types with
// string keys report isStruct false; any other type is rejected.
func jsonFields(rt reflect.Type) (fields map[string]bool, isStruct bool, err error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	switch rt.Kind() {
	case reflect.Map:
		if rt.Key().Kind() != reflect.String {
			return nil, false, validationErrorf("record type %s must have string keys", rt)
		}
		return nil, false, nil
	case reflect.Struct:
		fields = make(map[string]bool)
		collectFields(rt, fields)
		return fields, true, nil
	}
	return nil, false, validationErrorf("record type %s is not a struct or map", rt)
}

func collectFields(rt reflect.Type, fields map[string]bool) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, fields)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = true
	}
}
