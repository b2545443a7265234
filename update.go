package dynatable

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// wireValue passes an already encoded attribute value through the
// expression builder untouched.
type wireValue struct {
	av types.AttributeValue
}

var _ attributevalue.Marshaler = wireValue{}

func (w wireValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return w.av, nil
}

// BuildUpdate turns a partial record into a single update expression
// conditioned on the record existing. Each value is encoded with the type
// its column declares. Setting an index partition key to "" removes the
// attribute instead, since the backend cannot index an empty string.
//
// Placeholder names and values are assigned by the expression builder and
// are unique within the returned expression.
func BuildUpdate(schema *Schema, attrs map[string]any) (expression.Expression, error) {
	update, err := updateFor(schema, attrs)
	if err != nil {
		return expression.Expression{}, err
	}

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(schema.PartitionKey()))).
		Build()
	if err != nil {
		return expression.Expression{}, encodingErrorf("failed to build update expression: %w", err)
	}
	return expr, nil
}

func updateFor(schema *Schema, attrs map[string]any) (expression.UpdateBuilder, error) {
	var update expression.UpdateBuilder
	if len(attrs) == 0 {
		return update, validationErrorf("no attributes to update")
	}

	emptyKeys := schema.emptyKeyAttributes()
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		col, ok := schema.Column(name)
		if !ok {
			return update, validationErrorf("attribute %s is not a column", name)
		}
		if schema.isKey(name) {
			return update, validationErrorf("key attribute %s cannot be updated", name)
		}

		av, err := EncodeAs(col.Type, attrs[name])
		if err != nil {
			return update, validationErrorf("attribute %s: %w", name, err)
		}
		if s, ok := av.(*types.AttributeValueMemberS); ok && s.Value == "" && slices.Contains(emptyKeys, name) {
			update = update.Remove(expression.Name(name))
			continue
		}
		update = update.Set(expression.Name(name), expression.Value(wireValue{av}))
	}
	return update, nil
}

// buildIncrement returns an expression adding delta to a Number column.
func buildIncrement(schema *Schema, attribute string, delta float64) (expression.Expression, error) {
	col, ok := schema.Column(attribute)
	if !ok {
		return expression.Expression{}, validationErrorf("attribute %s is not a column", attribute)
	}
	if col.Type != Number {
		return expression.Expression{}, validationErrorf("attribute %s is %s, not %s", attribute, col.Type, Number)
	}
	if schema.isKey(attribute) {
		return expression.Expression{}, validationErrorf("key attribute %s cannot be incremented", attribute)
	}

	av, err := EncodeAs(Number, delta)
	if err != nil {
		return expression.Expression{}, err
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name(attribute), expression.Value(wireValue{av}))).
		Build()
	if err != nil {
		return expression.Expression{}, encodingErrorf("failed to build increment expression: %w", err)
	}
	return expr, nil
}
