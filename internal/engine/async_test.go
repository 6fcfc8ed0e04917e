package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditkit/decisionflow/pkg/schema"
)

func TestAsyncRegistry_CompleteInvokesResumeOnce(t *testing.T) {
	reg := NewAsyncRegistry()

	var calls int
	var got map[string]any
	op := reg.Register("exec-1", "node-1", "manual_approval", func(result map[string]any, opErr *schema.Error) {
		calls++
		got = result
	})

	require.NoError(t, reg.Complete(op.OperationID, map[string]any{"approved": true}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]any{"approved": true}, got)

	// A second completion is an invalid transition and must not fire
	// the callback again.
	err := reg.Complete(op.OperationID, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	status, err := reg.Status(op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, schema.AsyncCompleted, status.Status)
}

func TestAsyncRegistry_FailCarriesError(t *testing.T) {
	reg := NewAsyncRegistry()

	var got *schema.Error
	op := reg.Register("exec-1", "node-1", "", func(_ map[string]any, opErr *schema.Error) {
		got = opErr
	})

	require.NoError(t, reg.Fail(op.OperationID, schema.NewError(schema.ErrCodeNodeExecution, "rejected")))
	require.NotNil(t, got)
	assert.Equal(t, "rejected", got.Message)

	status, err := reg.Status(op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, schema.AsyncFailed, status.Status)
}

func TestAsyncRegistry_FailWithNilErrorSynthesizesOne(t *testing.T) {
	reg := NewAsyncRegistry()

	var got *schema.Error
	op := reg.Register("exec-1", "node-1", "", func(_ map[string]any, opErr *schema.Error) {
		got = opErr
	})

	require.NoError(t, reg.Fail(op.OperationID, nil))
	require.NotNil(t, got)
	assert.Equal(t, schema.ErrCodeNodeExecution, got.Code)
}

func TestAsyncRegistry_Expire(t *testing.T) {
	reg := NewAsyncRegistry()

	var got *schema.Error
	op := reg.Register("exec-1", "node-1", "", func(_ map[string]any, opErr *schema.Error) {
		got = opErr
	})

	require.NoError(t, reg.Expire(op.OperationID))
	require.NotNil(t, got)
	assert.Equal(t, schema.ErrCodeTimeout, got.Code)

	status, err := reg.Status(op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, schema.AsyncTimedOut, status.Status)
}

func TestAsyncRegistry_UnknownOperation(t *testing.T) {
	reg := NewAsyncRegistry()

	require.Error(t, reg.Complete("nope", nil))
	require.Error(t, reg.Fail("nope", nil))
	_, err := reg.Status("nope")
	require.Error(t, err)
}

func TestAsyncRegistry_PendingFiltersByExecution(t *testing.T) {
	reg := NewAsyncRegistry()

	a := reg.Register("exec-a", "n1", "", nil)
	reg.Register("exec-b", "n1", "", nil)
	done := reg.Register("exec-a", "n2", "", nil)
	require.NoError(t, reg.Complete(done.OperationID, nil))

	pending := reg.Pending("exec-a")
	require.Len(t, pending, 1)
	assert.Equal(t, a.OperationID, pending[0].OperationID)
}

func TestAsyncRegistry_CleanupEvictsOnlyStaleTerminal(t *testing.T) {
	reg := NewAsyncRegistry()

	pending := reg.Register("exec-1", "n1", "", nil)
	finished := reg.Register("exec-1", "n2", "", nil)
	require.NoError(t, reg.Complete(finished.OperationID, nil))

	// Cutoff in the past evicts nothing.
	assert.Equal(t, 0, reg.Cleanup(time.Now().Add(-time.Hour)))

	// Cutoff in the future evicts the completed op but never a pending one.
	assert.Equal(t, 1, reg.Cleanup(time.Now().Add(time.Hour)))

	_, err := reg.Status(finished.OperationID)
	require.Error(t, err)
	_, err = reg.Status(pending.OperationID)
	require.NoError(t, err)
}
