package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// AsyncOperation tracks a suspended node execution awaiting an external
// callback. Destroyed on completion, failure, or a cleanup sweep.
type AsyncOperation struct {
	OperationID string                      `json:"operation_id"`
	ExecutionID string                      `json:"execution_id"`
	NodeID      string                      `json:"node_id"`
	Reason      string                      `json:"reason,omitempty"`
	Status      schema.AsyncOperationStatus `json:"status"`
	Result      map[string]any              `json:"result,omitempty"`
	Error       *schema.Error               `json:"error,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`

	// resume re-enters the engine loop at the node following the
	// suspended one. Invoked exactly once, outside the registry lock.
	resume  func(result map[string]any, opErr *schema.Error)
	resumed bool
}

// AsyncRegistry is the shared, mutable set of in-flight async
// operations. Register, Complete, and Fail may be called concurrently
// from independent callback sources (e.g. webhook handlers).
type AsyncRegistry struct {
	mu  sync.Mutex
	ops map[string]*AsyncOperation
}

// NewAsyncRegistry creates an empty registry.
func NewAsyncRegistry() *AsyncRegistry {
	return &AsyncRegistry{
		ops: make(map[string]*AsyncOperation),
	}
}

// Register creates a pending operation and returns its handle.
func (r *AsyncRegistry) Register(executionID, nodeID, reason string, resume func(result map[string]any, opErr *schema.Error)) *AsyncOperation {
	now := time.Now().UTC()
	op := &AsyncOperation{
		OperationID: uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Reason:      reason,
		Status:      schema.AsyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		resume:      resume,
	}

	r.mu.Lock()
	r.ops[op.OperationID] = op
	r.mu.Unlock()

	return op
}

// Complete resolves a pending operation with a result and invokes its
// resume callback.
func (r *AsyncRegistry) Complete(operationID string, result map[string]any) error {
	return r.finish(operationID, schema.AsyncCompleted, result, nil)
}

// Fail resolves a pending operation with an error and invokes its
// resume callback.
func (r *AsyncRegistry) Fail(operationID string, opErr *schema.Error) error {
	if opErr == nil {
		opErr = schema.NewError(schema.ErrCodeNodeExecution, "async operation failed")
	}
	return r.finish(operationID, schema.AsyncFailed, nil, opErr)
}

// Expire marks a pending operation timed out and invokes its resume
// callback with a timeout error.
func (r *AsyncRegistry) Expire(operationID string) error {
	return r.finish(operationID, schema.AsyncTimedOut, nil,
		schema.NewError(schema.ErrCodeTimeout, "async operation timed out"))
}

func (r *AsyncRegistry) finish(operationID string, status schema.AsyncOperationStatus, result map[string]any, opErr *schema.Error) error {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "async operation %q not found", operationID)
	}
	if op.Status != schema.AsyncPending {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"async operation %q already %s", operationID, op.Status)
	}

	op.Status = status
	op.Result = result
	op.Error = opErr
	op.UpdatedAt = time.Now().UTC()

	resume := op.resume
	alreadyResumed := op.resumed
	op.resumed = true
	r.mu.Unlock()

	if resume != nil && !alreadyResumed {
		resume(result, opErr)
	}
	return nil
}

// Status returns a snapshot of an operation.
func (r *AsyncRegistry) Status(operationID string) (*AsyncOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[operationID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "async operation %q not found", operationID)
	}
	snapshot := *op
	snapshot.resume = nil
	return &snapshot, nil
}

// Pending returns the pending operations for an execution, oldest first.
func (r *AsyncRegistry) Pending(executionID string) []*AsyncOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*AsyncOperation
	for _, op := range r.ops {
		if op.ExecutionID == executionID && op.Status == schema.AsyncPending {
			snapshot := *op
			snapshot.resume = nil
			pending = append(pending, &snapshot)
		}
	}
	return pending
}

// Cleanup evicts terminal operations last updated before the cutoff and
// returns how many were removed. Pending operations are never evicted.
func (r *AsyncRegistry) Cleanup(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, op := range r.ops {
		if op.Status == schema.AsyncPending {
			continue
		}
		if op.UpdatedAt.Before(olderThan) {
			delete(r.ops, id)
			removed++
		}
	}
	return removed
}
