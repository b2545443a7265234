package dynamock

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/nisimpson/dynatable"
)

// MemoryClient is an in-memory DynamoDB double. It understands the
// expressions produced by the feature/dynamodb/expression builder: SET,
// REMOVE and ADD updates, attribute_exists and attribute_not_exists
// conditions, equality key conditions and name-list projections.
//
// Each request runs under a single lock, so every request is atomic in the
// same way a single-item request is atomic on the service.
type MemoryClient struct {
	mu       sync.Mutex
	tables   map[string]*memoryTable
	requests map[string]int
}

type memoryTable struct {
	schema *dynatable.Schema
	items  map[string]dynatable.Item
}

var _ dynatable.DynamoDBClient = (*MemoryClient)(nil)

// NewMemoryClient returns a client holding an empty table for each schema.
func NewMemoryClient(schemas ...*dynatable.Schema) *MemoryClient {
	m := &MemoryClient{
		tables:   make(map[string]*memoryTable),
		requests: make(map[string]int),
	}
	for _, schema := range schemas {
		m.CreateTable(schema)
	}
	return m
}

// CreateTable adds an empty table, replacing any table with the same name.
func (m *MemoryClient) CreateTable(schema *dynatable.Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[schema.TableName()] = &memoryTable{
		schema: schema,
		items:  make(map[string]dynatable.Item),
	}
}

// Items returns a copy of every stored item of a table, ordered by key.
func (m *MemoryClient) Items(tableName string) []dynatable.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	return table.sorted()
}

// Requests returns how many requests of the named operation were received,
// e.g. "PutItem".
func (m *MemoryClient) Requests(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[op]
}

func (m *MemoryClient) table(op string, name *string) (*memoryTable, error) {
	m.requests[op]++
	table, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("table %s does not exist", aws.ToString(name))),
		}
	}
	return table, nil
}

// PutItem stores an item, replacing any item with the same key.
func (m *MemoryClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("PutItem", params.TableName)
	if err != nil {
		return nil, err
	}
	if err := table.validateItem(params.Item); err != nil {
		return nil, err
	}
	id, err := table.keyOf(params.Item)
	if err != nil {
		return nil, err
	}

	existing := table.items[id]
	if err := checkCondition(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, existing); err != nil {
		return nil, err
	}

	table.items[id] = cloneItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem returns the item stored under the key, if any.
func (m *MemoryClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("GetItem", params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := table.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	item, ok := table.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	if params.ProjectionExpression != nil {
		names, err := projectionNames(*params.ProjectionExpression, params.ExpressionAttributeNames)
		if err != nil {
			return nil, err
		}
		return &dynamodb.GetItemOutput{Item: pick(item, names)}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(item)}, nil
}

// Query returns the items whose partition key equals the key condition
// value, ordered by sort key.
func (m *MemoryClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("Query", params.TableName)
	if err != nil {
		return nil, err
	}

	schema := table.schema
	partitionKey, sortKey := schema.PartitionKey(), schema.SortKey()
	var index *dynatable.Index
	if params.IndexName != nil {
		found, ok := schema.Index(*params.IndexName)
		if !ok {
			return nil, validationException("index %s does not exist", *params.IndexName)
		}
		index = &found
		partitionKey, sortKey = found.PartitionKey, found.SortKey
	}

	attr, want, err := parseKeyCondition(aws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if attr != partitionKey {
		return nil, validationException("key condition must name partition key %s", partitionKey)
	}

	var projection []string
	if params.ProjectionExpression != nil {
		if projection, err = projectionNames(*params.ProjectionExpression, params.ExpressionAttributeNames); err != nil {
			return nil, err
		}
	}
	if params.Select == types.SelectAllAttributes && index != nil && index.Projection != dynatable.ProjectAll {
		return nil, validationException("index %s does not project all attributes", index.Name)
	}

	var matched []dynatable.Item
	for _, item := range table.sorted() {
		if !equalValues(item[attr], want) {
			continue
		}
		switch {
		case projection != nil:
			item = pick(item, projection)
		case index != nil && params.Select != types.SelectAllAttributes:
			item = table.indexProjection(*index, item)
		}
		matched = append(matched, item)
	}

	if sortKey != "" {
		slices.SortStableFunc(matched, func(a, b dynatable.Item) int {
			return compareValues(a[sortKey], b[sortKey])
		})
	}
	return &dynamodb.QueryOutput{Items: matched, Count: int32(len(matched))}, nil
}

// Scan returns every item of the table, ordered by key.
func (m *MemoryClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("Scan", params.TableName)
	if err != nil {
		return nil, err
	}
	items := table.sorted()
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

// UpdateItem applies an update expression to a single item, creating it
// when it does not exist and the condition allows.
func (m *MemoryClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("UpdateItem", params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := table.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	old, exists := table.items[id]
	if err := checkCondition(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, old); err != nil {
		return nil, err
	}

	updated := cloneItem(old)
	if !exists {
		updated = cloneItem(params.Key)
	}
	touched, err := applyUpdate(updated, aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	for _, name := range touched {
		if _, ok := params.Key[name]; ok {
			return nil, validationException("cannot update key attribute %s", name)
		}
	}
	if err := table.validateItem(updated); err != nil {
		return nil, err
	}
	table.items[id] = updated

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = cloneItem(updated)
	case types.ReturnValueUpdatedNew:
		out.Attributes = pick(updated, touched)
	case types.ReturnValueAllOld:
		if exists {
			out.Attributes = cloneItem(old)
		}
	case types.ReturnValueUpdatedOld:
		if exists {
			out.Attributes = pick(old, touched)
		}
	}
	return out, nil
}

// DeleteItem removes the item stored under the key, if any.
func (m *MemoryClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table("DeleteItem", params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := table.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	old, exists := table.items[id]
	if err := checkCondition(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, old); err != nil {
		return nil, err
	}
	delete(table.items, id)

	out := &dynamodb.DeleteItemOutput{}
	if exists && params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

func (t *memoryTable) keyNames() []string {
	names := []string{t.schema.PartitionKey()}
	if sk := t.schema.SortKey(); sk != "" {
		names = append(names, sk)
	}
	return names
}

// keyOf renders the primary key of item as a map key. Numbers are
// canonicalized so that 1 and 1.0 name the same item.
func (t *memoryTable) keyOf(item dynatable.Item) (string, error) {
	var parts []string
	for _, name := range t.keyNames() {
		av, ok := item[name]
		if !ok {
			return "", validationException("missing key attribute %s", name)
		}
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			parts = append(parts, "S:"+v.Value)
		case *types.AttributeValueMemberN:
			f, err := strconv.ParseFloat(v.Value, 64)
			if err != nil {
				return "", validationException("key attribute %s is not a number", name)
			}
			parts = append(parts, "N:"+strconv.FormatFloat(f, 'g', -1, 64))
		default:
			return "", validationException("key attribute %s must be a string or number", name)
		}
	}
	return strings.Join(parts, "|"), nil
}

// validateItem rejects key and index key attributes with the wrong type or
// an empty string, as the service does.
func (t *memoryTable) validateItem(item dynatable.Item) error {
	keys := t.keyNames()
	for _, index := range t.schema.Indexes() {
		keys = append(keys, index.PartitionKey)
		if index.SortKey != "" {
			keys = append(keys, index.SortKey)
		}
	}

	for _, name := range keys {
		av, ok := item[name]
		if !ok {
			continue
		}
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			if t.schema.ColumnType(name) != dynatable.String {
				return validationException("key attribute %s must be of type N", name)
			}
			if v.Value == "" {
				return validationException("key attribute %s cannot be an empty string", name)
			}
		case *types.AttributeValueMemberN:
			if t.schema.ColumnType(name) != dynatable.Number {
				return validationException("key attribute %s must be of type S", name)
			}
		default:
			return validationException("key attribute %s must be a string or number", name)
		}
	}
	return nil
}

func (t *memoryTable) sorted() []dynatable.Item {
	ids := make([]string, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	items := make([]dynatable.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, cloneItem(t.items[id]))
	}
	return items
}

func (t *memoryTable) indexProjection(index dynatable.Index, item dynatable.Item) dynatable.Item {
	if index.Projection == dynatable.ProjectAll {
		return item
	}
	names := append(t.keyNames(), index.PartitionKey)
	if index.SortKey != "" {
		names = append(names, index.SortKey)
	}
	if index.Projection == dynatable.ProjectSpecified {
		names = append(names, index.Attributes...)
	}
	return pick(item, names)
}

var (
	conditionPattern = regexp.MustCompile(`(?i)(attribute_not_exists|attribute_exists)\s*\(\s*([#\w.]+)\s*\)`)
	clausePattern    = regexp.MustCompile(`(?i)\b(SET|REMOVE|ADD|DELETE)\b`)
)

func checkCondition(expr string, names map[string]string, item dynatable.Item) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	matches := conditionPattern.FindAllStringSubmatch(expr, -1)
	if len(matches) == 0 {
		return validationException("unsupported condition expression %q", expr)
	}
	for _, match := range matches {
		name, err := resolveName(match[2], names)
		if err != nil {
			return err
		}
		_, present := item[name]
		wantPresent := strings.EqualFold(match[1], "attribute_exists")
		if present != wantPresent {
			return &types.ConditionalCheckFailedException{
				Message: aws.String("The conditional request failed"),
			}
		}
	}
	return nil
}

// applyUpdate applies an update expression to item in place and returns the
// attribute names it touched.
func applyUpdate(item dynatable.Item, expr string, names map[string]string, values map[string]types.AttributeValue) ([]string, error) {
	bounds := clausePattern.FindAllStringSubmatchIndex(expr, -1)
	if len(bounds) == 0 {
		return nil, validationException("invalid update expression %q", expr)
	}

	var touched []string
	for i, b := range bounds {
		end := len(expr)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		action := strings.ToUpper(expr[b[2]:b[3]])

		for _, part := range strings.Split(expr[b[1]:end], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, err := applyAction(item, action, part, names, values)
			if err != nil {
				return nil, err
			}
			touched = append(touched, name)
		}
	}
	return touched, nil
}

func applyAction(item dynatable.Item, action, part string, names map[string]string, values map[string]types.AttributeValue) (string, error) {
	switch action {
	case "SET":
		path, operand, ok := strings.Cut(part, "=")
		if !ok {
			return "", validationException("invalid SET action %q", part)
		}
		name, err := resolveName(strings.TrimSpace(path), names)
		if err != nil {
			return "", err
		}
		value, err := resolveValue(strings.TrimSpace(operand), values)
		if err != nil {
			return "", err
		}
		item[name] = value
		return name, nil

	case "REMOVE":
		name, err := resolveName(part, names)
		if err != nil {
			return "", err
		}
		delete(item, name)
		return name, nil

	case "ADD":
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return "", validationException("invalid ADD action %q", part)
		}
		name, err := resolveName(fields[0], names)
		if err != nil {
			return "", err
		}
		delta, err := resolveValue(fields[1], values)
		if err != nil {
			return "", err
		}
		sum, err := addNumbers(item[name], delta)
		if err != nil {
			return "", err
		}
		item[name] = sum
		return name, nil
	}
	return "", validationException("unsupported update action %s", action)
}

func addNumbers(current, delta types.AttributeValue) (types.AttributeValue, error) {
	d, ok := delta.(*types.AttributeValueMemberN)
	if !ok {
		return nil, validationException("ADD operand must be a number")
	}
	y, ok := new(big.Rat).SetString(d.Value)
	if !ok {
		return nil, validationException("invalid ADD operand %q", d.Value)
	}
	if current == nil {
		return delta, nil
	}

	c, ok := current.(*types.AttributeValueMemberN)
	if !ok {
		return nil, validationException("ADD target must be a number")
	}
	x, ok := new(big.Rat).SetString(c.Value)
	if !ok {
		return nil, validationException("invalid ADD target %q", c.Value)
	}
	return &types.AttributeValueMemberN{Value: decimalText(x.Add(x, y))}, nil
}

// decimalText formats r exactly. Sums of decimal literals always have a
// finite decimal expansion.
func decimalText(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	digits, _ := r.FloatPrec()
	return r.FloatString(digits)
}

func parseKeyCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (string, types.AttributeValue, error) {
	expr = strings.Trim(strings.TrimSpace(expr), "()")
	path, operand, ok := strings.Cut(expr, "=")
	if !ok {
		return "", nil, validationException("unsupported key condition %q", expr)
	}
	name, err := resolveName(strings.Trim(strings.TrimSpace(path), "()"), names)
	if err != nil {
		return "", nil, err
	}
	value, err := resolveValue(strings.Trim(strings.TrimSpace(operand), "()"), values)
	if err != nil {
		return "", nil, err
	}
	return name, value, nil
}

func projectionNames(expr string, names map[string]string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(expr, ",") {
		name, err := resolveName(strings.TrimSpace(part), names)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func resolveName(token string, names map[string]string) (string, error) {
	if !strings.HasPrefix(token, "#") {
		return token, nil
	}
	name, ok := names[token]
	if !ok {
		return "", validationException("undefined attribute name %s", token)
	}
	return name, nil
}

func resolveValue(token string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	value, ok := values[token]
	if !ok {
		return nil, validationException("undefined attribute value %s", token)
	}
	return cloneValue(value), nil
}

func equalValues(a, b types.AttributeValue) bool {
	switch a := a.(type) {
	case *types.AttributeValueMemberS:
		b, ok := b.(*types.AttributeValueMemberS)
		return ok && a.Value == b.Value
	case *types.AttributeValueMemberN:
		b, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, errA := strconv.ParseFloat(a.Value, 64)
		y, errB := strconv.ParseFloat(b.Value, 64)
		return errA == nil && errB == nil && x == y
	}
	return false
}

func compareValues(a, b types.AttributeValue) int {
	if x, ok := a.(*types.AttributeValueMemberN); ok {
		if y, ok := b.(*types.AttributeValueMemberN); ok {
			fx, _ := strconv.ParseFloat(x.Value, 64)
			fy, _ := strconv.ParseFloat(y.Value, 64)
			switch {
			case fx < fy:
				return -1
			case fx > fy:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(sortText(a), sortText(b))
}

func sortText(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func pick(item dynatable.Item, names []string) dynatable.Item {
	out := make(dynatable.Item, len(names))
	for _, name := range names {
		if av, ok := item[name]; ok {
			out[name] = cloneValue(av)
		}
	}
	return out
}

func cloneItem(item dynatable.Item) dynatable.Item {
	if item == nil {
		return nil
	}
	out := make(dynatable.Item, len(item))
	for name, av := range item {
		out[name] = cloneValue(av)
	}
	return out
}

func cloneValue(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, len(v.Value))
		for i, elem := range v.Value {
			list[i] = cloneValue(elem)
		}
		return &types.AttributeValueMemberL{Value: list}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(v.Value)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: slices.Clone(v.Value)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: slices.Clone(v.Value)}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: slices.Clone(v.Value)}
	case *types.AttributeValueMemberBS:
		set := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			set[i] = slices.Clone(b)
		}
		return &types.AttributeValueMemberBS{Value: set}
	}
	return av
}

func validationException(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}
