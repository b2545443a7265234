package dynatable

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: ErrNotFound}, "item not found"},
		{"with op", &Error{Op: "patch", Kind: ErrNotFound}, "patch: item not found"},
		{"with table", &Error{Op: "patch", Table: "products", Kind: ErrNotFound}, "products: patch: item not found"},
		{"with cause", &Error{Op: "get", Table: "products", Kind: ErrTransport, Err: errors.New("timeout")}, "products: get: transport failure: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWithOp(t *testing.T) {
	t.Run("keeps kind", func(t *testing.T) {
		err := withOp("create", "products", validationErrorf("bad %s", "record"))

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "create", e.Op)
		assert.Equal(t, "products", e.Table)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrTransport)
		assert.Equal(t, "products: create: validation failed: bad record", err.Error())
	})

	t.Run("foreign errors are transport failures", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := withOp("scan", "products", cause)
		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, withOp("scan", "products", nil))
	})
}

func TestClassify(t *testing.T) {
	t.Run("condition failure", func(t *testing.T) {
		cause := &types.ConditionalCheckFailedException{}
		err := classify("patch", "products", cause, ErrNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrTransport)

		var ccfe *types.ConditionalCheckFailedException
		assert.ErrorAs(t, err, &ccfe)
	})

	t.Run("other failures", func(t *testing.T) {
		cause := &types.ProvisionedThroughputExceededException{}
		err := classify("create", "products", cause, ErrConditionFailed)
		assert.ErrorIs(t, err, ErrTransport)
		assert.NotErrorIs(t, err, ErrConditionFailed)

		var throttled *types.ProvisionedThroughputExceededException
		assert.ErrorAs(t, err, &throttled)
	})
}
