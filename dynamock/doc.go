// Package dynamock provides testing utilities for the dynatable library.
//
// This package includes:
//   - Expectation-based mock DynamoDB client for unit testing
//   - In-memory DynamoDB client for behavioral tests
//   - Local DynamoDB integration utilities
//   - Schema and record builders with functional options
//   - Test data seeding from JSON:API documents
//
// # Mock Client
//
// The MockClient fails the test on any operation without an expectation:
//
//	mock := dynamock.NewMockClient(t)
//
//	// Set expectation for PutItem
//	mock.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
//		return &dynamodb.PutItemOutput{}, nil
//	}
//
//	table, _ := dynatable.New[Product](mock, schema)
//	err := table.Create(ctx, product)
//
// # Memory Client
//
// The MemoryClient stores items per table and evaluates the expressions a
// table client sends, including conditions and atomic counters:
//
//	schema := dynamock.NewSchema("products",
//		dynamock.WithColumn("category", dynatable.String),
//		dynamock.WithIndex("category-index", "category", dynatable.ProjectAll),
//	).MustBuild(t)
//
//	memory := dynamock.NewMemoryClient(schema)
//	table, _ := dynatable.New[dynatable.Record](memory, schema)
//
//	// Inspect what was written
//	items := memory.Items("products")
//
// # Seeding
//
// Seed documents are arrays of JSON:API resources. The resource type names
// the table and the id becomes the partition key:
//
//	seed, _ := dynamock.NewSeedTestData(memory, schema)
//	count, err := seed.SeedFromJSON(ctx, strings.NewReader(`[
//		{"type": "products", "id": "P1", "attributes": {"category": "books"}}
//	]`))
//
// # Local DynamoDB
//
// Integration tests run against DynamoDB Local and skip when it is not
// running:
//
//	dynamock.WithDefaultLocalDynamoDB(t, func(local *dynamock.LocalDynamoDB) {
//		dynamock.WithIsolatedTable(t, local.Client, schema, func(schema *dynatable.Schema) {
//			table, _ := dynatable.New[Product](local.Client, schema)
//			// ...
//		})
//	})
package dynamock
