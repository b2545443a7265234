package apikeys_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nisimpson/dynatable"
	"github.com/nisimpson/dynatable/apikeys"
	"github.com/nisimpson/dynatable/dynamock"
	itemassert "github.com/nisimpson/dynatable/dynamock/assert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func stamp(t time.Time) string { return t.Format(apikeys.TimeLayout) }

func newService(t *testing.T, opts ...func(*apikeys.Options)) (*apikeys.Service, *dynamock.MemoryClient) {
	t.Helper()
	client := dynamock.NewMemoryClient(apikeys.KeysSchema(), apikeys.LogsSchema())
	opts = append([]func(*apikeys.Options){apikeys.WithClock(func() time.Time { return now })}, opts...)
	svc, err := apikeys.New(client, opts...)
	require.NoError(t, err)
	return svc, client
}

func activeKey(token string, limit int) apikeys.APIKey {
	return apikeys.APIKey{
		Key:          token,
		Limit:        limit,
		UseableSince: stamp(now.Add(-48 * time.Hour)),
		UsableUntil:  stamp(now.Add(48 * time.Hour)),
	}
}

func use(token string, at time.Time) apikeys.APILog {
	return apikeys.APILog{
		Key:        token,
		Datetime:   stamp(at),
		Prompt:     "write about go",
		ResponseMs: 120,
	}
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("counts uses in the past day", func(t *testing.T) {
		svc, _ := newService(t)
		require.NoError(t, svc.Issue(ctx, activeKey("k1", 3)))

		for _, at := range []time.Time{now.Add(-time.Hour), now.Add(-23 * time.Hour), now.Add(-25 * time.Hour)} {
			_, err := svc.RecordUse(ctx, use("k1", at))
			require.NoError(t, err)
		}
		_, err := svc.RecordUse(ctx, use("other", now.Add(-time.Minute)))
		require.NoError(t, err)

		remaining, err := svc.Remaining(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
	})

	t.Run("never negative", func(t *testing.T) {
		svc, _ := newService(t)
		require.NoError(t, svc.Issue(ctx, activeKey("k1", 1)))
		for range 3 {
			_, err := svc.RecordUse(ctx, use("k1", now.Add(-time.Minute)))
			require.NoError(t, err)
		}

		remaining, err := svc.Remaining(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)

		_, err = svc.Authorize(ctx, "k1")
		assert.ErrorIs(t, err, apikeys.ErrExhausted)
	})

	t.Run("unknown key", func(t *testing.T) {
		svc, client := newService(t)
		_, err := svc.Remaining(ctx, "missing")
		assert.ErrorIs(t, err, apikeys.ErrInvalidKey)
		assert.Equal(t, 0, client.Requests("Query"))
	})

	t.Run("empty token sends nothing", func(t *testing.T) {
		svc, client := newService(t)
		_, err := svc.Remaining(ctx, "")
		assert.ErrorIs(t, err, apikeys.ErrInvalidKey)
		assert.Equal(t, 0, client.Requests("GetItem"))
	})

	t.Run("outside validity window", func(t *testing.T) {
		svc, _ := newService(t)
		expired := activeKey("old", 5)
		expired.UsableUntil = stamp(now.Add(-time.Hour))
		pending := activeKey("new", 5)
		pending.UseableSince = stamp(now.Add(time.Hour))
		require.NoError(t, svc.Issue(ctx, expired))
		require.NoError(t, svc.Issue(ctx, pending))

		_, err := svc.Remaining(ctx, "old")
		assert.ErrorIs(t, err, apikeys.ErrInvalidKey)
		_, err = svc.Remaining(ctx, "new")
		assert.ErrorIs(t, err, apikeys.ErrInvalidKey)
	})

	t.Run("revoked", func(t *testing.T) {
		svc, _ := newService(t)
		require.NoError(t, svc.Issue(ctx, activeKey("k1", 5)))
		require.NoError(t, svc.Revoke(ctx, "k1"))

		_, err := svc.Remaining(ctx, "k1")
		assert.ErrorIs(t, err, apikeys.ErrInvalidKey)
	})
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate", func(t *testing.T) {
		svc, _ := newService(t)
		require.NoError(t, svc.Issue(ctx, activeKey("k1", 5)))
		err := svc.Issue(ctx, activeKey("k1", 10))
		assert.ErrorIs(t, err, dynatable.ErrConditionFailed)
	})

	t.Run("invalid", func(t *testing.T) {
		svc, client := newService(t)
		key := activeKey("k1", -1)
		key.UsableUntil = "tomorrow"
		err := svc.Issue(ctx, key)
		assert.ErrorIs(t, err, dynatable.ErrValidation)
		assert.Equal(t, 0, client.Requests("PutItem"))
	})
}

func TestRecordUse(t *testing.T) {
	ctx := context.Background()

	t.Run("fills id and datetime", func(t *testing.T) {
		svc, client := newService(t)
		entry := use("k1", now)
		entry.Datetime = ""
		entry.IP = "203.0.113.7"

		stored, err := svc.RecordUse(ctx, entry)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, stamp(now), stored.Datetime)

		items := client.Items(apikeys.LogsTable)
		itemassert.Items(t, items).HasCount(1)
		itemassert.Item(t, items[0]).
			HasAttribute("id", stored.ID).
			HasAttribute("ip", "203.0.113.7").
			HasNumber("responseMs", 120).
			Lacks("browser")
	})

	t.Run("validation", func(t *testing.T) {
		svc, client := newService(t)
		entry := use("", now)
		entry.IP = "not-an-ip"

		_, err := svc.RecordUse(ctx, entry)
		assert.ErrorIs(t, err, dynatable.ErrValidation)
		assert.Equal(t, 0, client.Requests("PutItem"))
	})

	t.Run("forwarded chain", func(t *testing.T) {
		svc, client := newService(t)
		entry := use("k1", now)
		entry.IP = "203.0.113.7, 198.51.100.2"

		_, err := svc.RecordUse(ctx, entry)
		require.NoError(t, err)
		itemassert.Item(t, client.Items(apikeys.LogsTable)[0]).
			HasAttribute("ip", "203.0.113.7, 198.51.100.2")
	})

	t.Run("forwarded chain with bad client hop", func(t *testing.T) {
		svc, client := newService(t)
		entry := use("k1", now)
		entry.IP = "unknown, 198.51.100.2"

		_, err := svc.RecordUse(ctx, entry)
		assert.ErrorIs(t, err, dynatable.ErrValidation)
		assert.Equal(t, 0, client.Requests("PutItem"))
	})

	t.Run("concurrent", func(t *testing.T) {
		svc, client := newService(t)
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.RecordUse(ctx, use("k1", now))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		itemassert.Items(t, client.Items(apikeys.LogsTable)).HasCount(10)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("empty token", func(t *testing.T) {
		svc, client := newService(t)
		assert.ErrorIs(t, svc.Revoke(ctx, ""), apikeys.ErrInvalidKey)
		assert.Equal(t, 0, client.Requests("DeleteItem"))
	})

	t.Run("backend failure", func(t *testing.T) {
		client := dynamock.NewMockClient(t)
		client.DeleteFunc = func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			return nil, errors.New("connection reset")
		}
		svc, err := apikeys.New(client)
		require.NoError(t, err)

		err = svc.Revoke(ctx, "k1")
		assert.ErrorIs(t, err, dynatable.ErrTransport)
		assert.ErrorContains(t, err, "revoke key: ")
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	svc, _ := newService(t, apikeys.WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	require.NoError(t, svc.Issue(context.Background(), activeKey("k1", 2)))

	_, err := svc.Remaining(context.Background(), "k1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"remaining":2`)
	assert.NotContains(t, buf.String(), "k1")
}

func TestTableNames(t *testing.T) {
	client := dynamock.NewMemoryClient(
		apikeys.KeysSchema().Renamed("keys-test"),
		apikeys.LogsSchema().Renamed("logs-test"),
	)
	svc, err := apikeys.New(client,
		apikeys.WithClock(func() time.Time { return now }),
		apikeys.WithTableNames("keys-test", "logs-test"),
	)
	require.NoError(t, err)

	require.NoError(t, svc.Issue(context.Background(), activeKey("k1", 2)))
	assert.Len(t, client.Items("keys-test"), 1)
}
