package dynatable_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nisimpson/dynatable"
	"github.com/nisimpson/dynatable/dynamock"
)

type Product struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Views    int    `json:"views,omitempty"`
}

func newProductTable() *dynatable.Table[Product] {
	schema, err := dynatable.NewSchema("products", dynatable.Columns{
		"id":       {Type: dynatable.String, Required: true},
		"category": {Type: dynatable.String},
		"views":    {Type: dynatable.Number},
	}, "id", dynatable.WithIndex(dynatable.Index{
		Name:         "category-index",
		PartitionKey: "category",
		Projection:   dynatable.ProjectAll,
	}))
	if err != nil {
		log.Fatal(err)
	}

	// Any DynamoDBClient works here, including *dynamodb.Client.
	products, err := dynatable.New[Product](dynamock.NewMemoryClient(schema), schema)
	if err != nil {
		log.Fatal(err)
	}
	return products
}

// Example demonstrates basic CRUD operations
func Example() {
	ctx := context.Background()
	products := newProductTable()

	if err := products.Create(ctx, Product{ID: "P1", Category: "books"}); err != nil {
		log.Fatal(err)
	}
	if err := products.Create(ctx, Product{ID: "P2", Category: ""}); err != nil {
		log.Fatal(err)
	}

	books, err := products.QueryIndex(ctx, "category-index", "category", "books")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("books:", len(books))

	p, err := products.Patch(ctx, dynatable.PK("P1"), map[string]any{"category": "music"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("patched:", p.Category)

	views, err := products.Increment(ctx, dynatable.PK("P1"), "views", 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("views:", views)

	all, err := products.Scan(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range all {
		fmt.Printf("%s %q %d\n", p.ID, p.Category, p.Views)
	}

	// Output:
	// books: 1
	// patched: music
	// views: 1
	// P1 "music" 1
	// P2 "" 0
}

func ExampleTable_Create_failIfExists() {
	ctx := context.Background()
	products := newProductTable()

	_ = products.Create(ctx, Product{ID: "P1"}, dynatable.FailIfExists)
	err := products.Create(ctx, Product{ID: "P1"}, dynatable.FailIfExists)

	fmt.Println(errors.Is(err, dynatable.ErrConditionFailed))
	fmt.Println(err)

	// Output:
	// true
	// products: create: condition failed: ConditionalCheckFailedException: The conditional request failed
}

func ExampleTable_Patch_notFound() {
	ctx := context.Background()
	products := newProductTable()

	_, err := products.Patch(ctx, dynatable.PK("missing"), map[string]any{"category": "books"})
	fmt.Println(errors.Is(err, dynatable.ErrNotFound))

	p, err := products.Get(ctx, dynatable.PK("missing"))
	fmt.Println(p == nil, err == nil)

	// Output:
	// true
	// true true
}

func ExampleEncode() {
	av, _ := dynatable.Encode(map[string]any{"tags": []any{"a", 1}})
	native, _ := dynatable.Decode(av)
	fmt.Println(native)

	_, err := dynatable.Decode(must(dynatable.Encode(nil)))
	fmt.Println(errors.Is(err, dynatable.ErrDecode))

	// Output:
	// map[tags:[a 1]]
	// true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
