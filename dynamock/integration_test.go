package dynamock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nisimpson/dynatable"
)

type testProduct struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Price    int    `json:"price,omitempty"`
}

func productSchema(t *testing.T) *dynatable.Schema {
	return NewSchema("products",
		WithColumn("category", dynatable.String),
		WithColumn("price", dynatable.Number),
		WithIndex("category-index", "category", dynatable.ProjectAll),
	).MustBuild(t)
}

func TestNewTableManager(t *testing.T) {
	client := NewLocalClient(8000)
	tm := NewTableManager(client)

	if tm == nil {
		t.Fatal("NewTableManager returned nil")
	}

	if tm.client != client {
		t.Error("TableManager client not set correctly")
	}

	if len(tm.tables) != 0 {
		t.Error("TableManager should start with empty table list")
	}
}

func TestTableManager_GetTableNames(t *testing.T) {
	tm := NewTableManager(NewLocalClient(8000))

	if names := tm.GetTableNames(); len(names) != 0 {
		t.Error("Expected empty table names initially")
	}

	// Add some table names manually (simulating table creation)
	tm.tables = append(tm.tables, "table1", "table2")

	names := tm.GetTableNames()
	if len(names) != 2 {
		t.Errorf("Expected 2 table names, got %d", len(names))
	}

	names[0] = "modified"
	if tm.tables[0] == "modified" {
		t.Error("GetTableNames should return a copy, not the original slice")
	}
}

func TestNewTestTable(t *testing.T) {
	name1 := NewTestTable("test")
	// Add a small delay to ensure different timestamps
	time.Sleep(1 * time.Millisecond)
	name2 := NewTestTable("test")

	if name1 == name2 {
		t.Error("NewTestTable should generate unique names")
	}

	if !strings.HasPrefix(name1, "test-") {
		t.Errorf("expected prefix test-, got %s", name1)
	}
}

func TestSanitize(t *testing.T) {
	got := sanitize("TestThing/sub test#1")
	if got != "TestThing-sub-test-1" {
		t.Errorf("unexpected sanitized name %s", got)
	}
}

func TestWithIsolatedTable_Integration(t *testing.T) {
	WithDefaultLocalDynamoDB(t, func(local *LocalDynamoDB) {
		var tableName string

		WithIsolatedTable(t, local.Client, productSchema(t), func(schema *dynatable.Schema) {
			tableName = schema.TableName()
			AssertTableExists(t, local.Client, tableName)

			if !strings.HasPrefix(tableName, "products-") {
				t.Errorf("expected isolated name to keep the table prefix, got %s", tableName)
			}

			ctx := context.Background()
			products, err := dynatable.New[testProduct](local.Client, schema)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := products.Create(ctx, testProduct{ID: "p1", Category: "books", Price: 12}); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			books, err := products.QueryIndex(ctx, "category-index", "category", "books")
			if err != nil {
				t.Fatalf("QueryIndex failed: %v", err)
			}
			if len(books) != 1 || books[0].Price != 12 {
				t.Errorf("unexpected query result %+v", books)
			}
		})

		AssertTableNotExists(t, local.Client, tableName)
	})
}

func TestSeedTestData_Integration(t *testing.T) {
	WithDefaultLocalDynamoDB(t, func(local *LocalDynamoDB) {
		WithIsolatedTable(t, local.Client, productSchema(t), func(schema *dynatable.Schema) {
			ctx := context.Background()
			seeder, err := NewSeedTestData(local.Client, schema)
			if err != nil {
				t.Fatalf("NewSeedTestData failed: %v", err)
			}

			doc := `[
				{"type": "` + schema.TableName() + `", "id": "p1", "attributes": {"category": "books"}},
				{"type": "` + schema.TableName() + `", "id": "p2", "attributes": {"category": ""}}
			]`
			count, err := seeder.SeedFromJSON(ctx, strings.NewReader(doc))
			if err != nil {
				t.Fatalf("SeedFromJSON failed: %v", err)
			}
			if count != 2 {
				t.Errorf("expected 2 seeded records, got %d", count)
			}
		})
	})
}

func ExampleWithIsolatedTable() {
	// In a test function:
	// WithDefaultLocalDynamoDB(t, func(local *LocalDynamoDB) {
	//     WithIsolatedTable(t, local.Client, schema, func(schema *dynatable.Schema) {
	//         products, _ := dynatable.New[Product](local.Client, schema)
	//         // ... run operations against the isolated table
	//     })
	// })
}
