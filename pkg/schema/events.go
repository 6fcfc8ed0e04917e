package schema

// Event type constants for the audit event log.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionSucceeded = "execution_succeeded"
	EventExecutionFailed    = "execution_failed"
	EventExecutionTimedOut  = "execution_timed_out"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventConnectorResolved  = "connector_resolved"
	EventConditionEvaluated = "condition_evaluated"
	EventConditionWarning   = "condition_warning"
	EventErrorHandlerTaken  = "error_handler_taken"
	EventRuleSetEvaluated   = "rule_set_evaluated"
	EventDecisionReached    = "decision_reached"
	EventVariableConflict   = "variable_conflict"

	EventAsyncRegistered = "async_registered"
	EventAsyncCompleted  = "async_completed"
	EventAsyncFailed     = "async_failed"
	EventAsyncTimedOut   = "async_timed_out"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ValidExecutionTransitions maps each status to the statuses it may move to.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusFailed, StatusTimedOut, StatusCancelled},
}

// AsyncOperationStatus represents the lifecycle state of a suspended
// node operation awaiting an external callback.
type AsyncOperationStatus string

const (
	AsyncPending   AsyncOperationStatus = "pending"
	AsyncCompleted AsyncOperationStatus = "completed"
	AsyncFailed    AsyncOperationStatus = "failed"
	AsyncTimedOut  AsyncOperationStatus = "timeout"
)
