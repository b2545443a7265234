// Package assert provides fluent assertions over raw DynamoDB items, for
// checking what a table client actually wrote.
//
// # Usage
//
//	import "github.com/nisimpson/dynatable/dynamock/assert"
//
//	// Assert on a table snapshot
//	assert.Items(t, memory.Items("products")).
//		HasCount(1).
//		ContainsKey("id", "a").
//		Lacks("category")
//
//	// Assert on a single item
//	assert.Item(t, item).
//		HasType("id", assert.TagS).
//		HasAttribute("tags", []any{"new"}).
//		HasNumber("views", 2)
package assert

import (
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynatable"
)

// Tag names the member type of an attribute value.
type Tag string

// Wire tags.
const (
	TagS    Tag = "S"
	TagN    Tag = "N"
	TagBOOL Tag = "BOOL"
	TagL    Tag = "L"
	TagM    Tag = "M"
	TagSS   Tag = "SS"
	TagNS   Tag = "NS"
	TagNULL Tag = "NULL"
	TagB    Tag = "B"
	TagBS   Tag = "BS"
)

// TagOf returns the tag of an attribute value, or "" for nil.
func TagOf(av types.AttributeValue) Tag {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return TagS
	case *types.AttributeValueMemberN:
		return TagN
	case *types.AttributeValueMemberBOOL:
		return TagBOOL
	case *types.AttributeValueMemberL:
		return TagL
	case *types.AttributeValueMemberM:
		return TagM
	case *types.AttributeValueMemberSS:
		return TagSS
	case *types.AttributeValueMemberNS:
		return TagNS
	case *types.AttributeValueMemberNULL:
		return TagNULL
	case *types.AttributeValueMemberB:
		return TagB
	case *types.AttributeValueMemberBS:
		return TagBS
	}
	return ""
}

// ItemsAssertion provides fluent assertions for DynamoDB items.
type ItemsAssertion struct {
	t     testing.TB
	items []dynatable.Item
}

// Items creates a new ItemsAssertion for the given DynamoDB items.
func Items(t testing.TB, items []dynatable.Item) *ItemsAssertion {
	return &ItemsAssertion{t: t, items: items}
}

// HasCount asserts that the items collection has the expected count.
func (a *ItemsAssertion) HasCount(expected int) *ItemsAssertion {
	a.t.Helper()
	if len(a.items) != expected {
		a.t.Errorf("expected %d items, got %d", expected, len(a.items))
	}
	return a
}

// IsEmpty asserts that the items collection is empty.
func (a *ItemsAssertion) IsEmpty() *ItemsAssertion {
	a.t.Helper()
	return a.HasCount(0)
}

// IsNotEmpty asserts that the items collection is not empty.
func (a *ItemsAssertion) IsNotEmpty() *ItemsAssertion {
	a.t.Helper()
	if len(a.items) == 0 {
		a.t.Error("expected items to not be empty")
	}
	return a
}

// ContainsKey asserts that some item holds value under the key attribute.
func (a *ItemsAssertion) ContainsKey(name string, value any) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(item, name, value) {
			return a
		}
	}
	a.t.Errorf("expected to find item with %s = %v", name, value)
	return a
}

// HasAttribute asserts that at least one item has the attribute with the
// expected native value.
func (a *ItemsAssertion) HasAttribute(name string, value any) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(item, name, value) {
			return a
		}
	}
	a.t.Errorf("expected to find attribute %s with value %v in items", name, value)
	return a
}

// Lacks asserts that no item stores the attribute.
func (a *ItemsAssertion) Lacks(name string) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if _, ok := item[name]; ok {
			a.t.Errorf("expected no item to store attribute %s", name)
			return a
		}
	}
	return a
}

// ItemAssertion provides fluent assertions for a single DynamoDB item.
type ItemAssertion struct {
	t    testing.TB
	item dynatable.Item
}

// Item creates a new ItemAssertion for the given item.
func Item(t testing.TB, item dynatable.Item) *ItemAssertion {
	return &ItemAssertion{t: t, item: item}
}

// HasAttribute asserts that the item holds the expected native value. The
// expected value is normalized through the codec, so numbers of any Go type
// compare by value.
func (a *ItemAssertion) HasAttribute(name string, value any) *ItemAssertion {
	a.t.Helper()
	if _, ok := a.item[name]; !ok {
		a.t.Errorf("expected attribute %s to exist", name)
		return a
	}
	if !matches(a.item, name, value) {
		got, _ := dynatable.Decode(a.item[name])
		a.t.Errorf("expected attribute %s to be %v, got %v", name, value, got)
	}
	return a
}

// Lacks asserts that the item does not store the attribute.
func (a *ItemAssertion) Lacks(name string) *ItemAssertion {
	a.t.Helper()
	if _, ok := a.item[name]; ok {
		a.t.Errorf("expected attribute %s to be absent", name)
	}
	return a
}

// HasType asserts the wire tag of an attribute.
func (a *ItemAssertion) HasType(name string, tag Tag) *ItemAssertion {
	a.t.Helper()
	if got := TagOf(a.item[name]); got != tag {
		a.t.Errorf("expected attribute %s to be %s, got %q", name, tag, got)
	}
	return a
}

// HasNumber asserts that a Number attribute equals expected.
func (a *ItemAssertion) HasNumber(name string, expected float64) *ItemAssertion {
	a.t.Helper()
	var got float64
	if err := attributevalue.Unmarshal(a.item[name], &got); err != nil {
		a.t.Errorf("expected attribute %s to be a number: %v", name, err)
		return a
	}
	if got != expected {
		a.t.Errorf("expected attribute %s to be %v, got %v", name, expected, got)
	}
	return a
}

// HasCount asserts the number of attributes in the item.
func (a *ItemAssertion) HasCount(expected int) *ItemAssertion {
	a.t.Helper()
	if len(a.item) != expected {
		a.t.Errorf("expected %d attributes, got %d", expected, len(a.item))
	}
	return a
}

func matches(item dynatable.Item, name string, value any) bool {
	av, ok := item[name]
	if !ok {
		return false
	}
	got, err := dynatable.Decode(av)
	if err != nil {
		return false
	}
	if reflect.DeepEqual(got, value) {
		return true
	}
	want, err := normalize(value)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(got, want)
}

func normalize(value any) (any, error) {
	av, err := dynatable.Encode(value)
	if err != nil {
		return nil, err
	}
	return dynatable.Decode(av)
}
