package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nisimpson/dynatable"
	"github.com/nisimpson/dynatable/dynamock"
	itemassert "github.com/nisimpson/dynatable/dynamock/assert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	created []string
}

func (f *fakeAdmin) CreateTable(_ context.Context, params *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = append(f.created, *params.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

type harness struct {
	app    *app
	client *dynamock.MemoryClient
	admin  *fakeAdmin
	out    *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("TEST_REGION", "us-east-1")
	t.Setenv("DYNATABLE_ENDPOINT", "")
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	products, err := cfg.Schema("products")
	require.NoError(t, err)
	events, err := cfg.Schema("events")
	require.NoError(t, err)

	h := &harness{
		client: dynamock.NewMemoryClient(products, events),
		admin:  &fakeAdmin{},
		out:    &bytes.Buffer{},
	}
	h.app = &app{
		cfg:    cfg,
		client: h.client,
		admin:  h.admin,
		in:     strings.NewReader(""),
		out:    h.out,
		log:    zerolog.Nop(),
	}
	return h
}

func (h *harness) run(t *testing.T, cmd string, args ...string) error {
	t.Helper()
	h.out.Reset()
	return h.app.run(context.Background(), cmd, args)
}

func (h *harness) record(t *testing.T) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &rec))
	return rec
}

func TestCommands(t *testing.T) {
	t.Run("put get patch", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "put", "products", `{"id":"p1","category":"books","views":3}`))

		require.NoError(t, h.run(t, "get", "products", "p1"))
		assert.Equal(t, map[string]any{"id": "p1", "category": "books", "views": 3.0}, h.record(t))

		require.NoError(t, h.run(t, "patch", "products", "p1", `{"category":""}`))
		assert.Equal(t, "", h.record(t)["category"])
		itemassert.Item(t, h.client.Items("products")[0]).Lacks("category")
	})

	t.Run("put from stdin", func(t *testing.T) {
		h := newHarness(t)
		h.app.in = strings.NewReader(`{"id":"p2"}`)
		require.NoError(t, h.run(t, "put", "-fail-if-exists", "products", "-"))

		h.app.in = strings.NewReader(`{"id":"p2"}`)
		err := h.run(t, "put", "-fail-if-exists", "products", "-")
		assert.ErrorIs(t, err, dynatable.ErrConditionFailed)
	})

	t.Run("get missing", func(t *testing.T) {
		h := newHarness(t)
		err := h.run(t, "get", "products", "nope")
		assert.ErrorIs(t, err, dynatable.ErrNotFound)
	})

	t.Run("get projection", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "put", "products", `{"id":"p1","category":"books","views":3}`))
		require.NoError(t, h.run(t, "get", "-project", "id,views", "products", "p1"))
		assert.Equal(t, map[string]any{"id": "p1", "views": 3.0}, h.record(t))
	})

	t.Run("query and scan", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "put", "products", `{"id":"p1","category":"books"}`))
		require.NoError(t, h.run(t, "put", "products", `{"id":"p2","category":"music"}`))
		require.NoError(t, h.run(t, "put", "products", `{"id":"p3","category":""}`))

		require.NoError(t, h.run(t, "query", "-all", "products", "category-index", "category", "books"))
		var books []map[string]any
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &books))
		require.Len(t, books, 1)
		assert.Equal(t, "p1", books[0]["id"])

		require.NoError(t, h.run(t, "scan", "products"))
		var all []map[string]any
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &all))
		assert.Len(t, all, 3)
	})

	t.Run("composite keys", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "put", "events", `{"stream":"s","seq":1}`))
		require.NoError(t, h.run(t, "put", "events", `{"stream":"s","seq":2}`))

		require.NoError(t, h.run(t, "get", "-sk", "2", "events", "s"))
		assert.Equal(t, 2.0, h.record(t)["seq"])

		require.NoError(t, h.run(t, "delete", "-sk", "1", "events", "s"))
		assert.Len(t, h.client.Items("events"), 1)

		err := h.run(t, "get", "-sk", "two", "events", "s")
		assert.ErrorContains(t, err, "not a number")
	})

	t.Run("incr", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "incr", "products", "p1", "views", "2.5"))
		require.NoError(t, h.run(t, "incr", "products", "p1", "views", "1"))
		assert.Equal(t, "3.5\n", h.out.String())
	})

	t.Run("delete", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "put", "products", `{"id":"p1"}`))
		require.NoError(t, h.run(t, "delete", "products", "p1"))
		itemassert.Items(t, h.client.Items("products")).IsEmpty()
	})

	t.Run("create table", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.run(t, "create-table", "events"))
		assert.Equal(t, []string{"events"}, h.admin.created)
	})
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	assert.ErrorContains(t, h.run(t, "frobnicate"), "unknown command")
	assert.ErrorIs(t, h.run(t, "get", "products"), errUsage)
	assert.ErrorContains(t, h.run(t, "scan", "missing"), "not configured")
	assert.ErrorContains(t, h.run(t, "put", "products", `[1]`), "decode record")
	assert.ErrorContains(t, h.run(t, "put", "products", `null`), "expected a JSON object")
	assert.ErrorContains(t, h.run(t, "incr", "products", "p1", "views", "x"), "delta")
	assert.ErrorIs(t, h.run(t, "put", "products", `{"category":"books"}`), dynatable.ErrValidation)
	assert.ErrorIs(t, h.run(t, "patch", "products", "p1", `{"views":null}`), dynatable.ErrValidation)
	assert.Zero(t, h.client.Requests("PutItem"))
}
