package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditkit/decisionflow/internal/actions"
	"github.com/creditkit/decisionflow/internal/datasource"
	"github.com/creditkit/decisionflow/internal/expressions"
	"github.com/creditkit/decisionflow/internal/rules"
	"github.com/creditkit/decisionflow/internal/store"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// memStore is an in-memory Store for engine tests. Methods the engine
// does not touch fall through to the embedded nil interface and panic,
// which is what we want: an unexpected call is a bug.
type memStore struct {
	store.Store

	mu         sync.Mutex
	workflows  map[string]*store.WorkflowRecord
	executions map[string]*store.ExecutionRecord
	events     map[string][]*store.Event
}

func newMemStore() *memStore {
	return &memStore{
		workflows:  make(map[string]*store.WorkflowRecord),
		executions: make(map[string]*store.ExecutionRecord),
		events:     make(map[string][]*store.Event),
	}
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*store.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (m *memStore) CreateExecution(_ context.Context, rec *store.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.executions[rec.ID] = &cp
	return nil
}

func (m *memStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.ExecutionPath != nil {
		rec.ExecutionPath = update.ExecutionPath
	}
	if update.Output != nil {
		rec.Output = update.Output
	}
	if update.Decision != nil {
		rec.Decision = update.Decision
	}
	if update.Errors != nil {
		rec.Errors = update.Errors
	}
	if update.DurationMs != nil {
		rec.DurationMs = *update.DurationMs
	}
	if update.CompletedAt != nil {
		rec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*store.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) ListExecutions(_ context.Context, workflowID string) ([]*store.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ExecutionRecord
	for _, rec := range m.executions {
		if rec.WorkflowID == workflowID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Sequence = int64(len(m.events[event.ExecutionID]) + 1)
	cp := *event
	m.events[event.ExecutionID] = append(m.events[event.ExecutionID], &cp)
	return nil
}

func (m *memStore) GetEvents(_ context.Context, executionID string, since int64) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, ev := range m.events[executionID] {
		if ev.Sequence > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) executionStatus(t *testing.T, id string) schema.ExecutionStatus {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	require.True(t, ok)
	return rec.Status
}

func (m *memStore) eventTypes(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, ev := range m.events[id] {
		types = append(types, ev.Type)
	}
	return types
}

func (m *memStore) nodesStarted(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []string
	for _, ev := range m.events[id] {
		if ev.Type == schema.EventNodeStarted {
			nodes = append(nodes, ev.NodeID)
		}
	}
	return nodes
}

// --- harness ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutors(t *testing.T, extra ...actions.Action) *ExecutorSet {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg))
	for _, a := range extra {
		require.NoError(t, reg.Register(a))
	}

	sources := datasource.NewRegistry()
	require.NoError(t, datasource.RegisterMocks(sources))

	return NewExecutorSet(cel, expressions.NewExprEngine(), expressions.NewGoJQEngine(),
		rules.NewEvaluator(), reg, sources)
}

func newTestEngine(t *testing.T, def schema.WorkflowDefinition, cfg Config, extra ...actions.Action) (*Engine, *memStore) {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	st := newMemStore()
	st.workflows[def.ID] = &store.WorkflowRecord{ID: def.ID, Definition: def}

	eng := New(st, newTestExecutors(t, extra...), NewConnectorResolver(cel),
		NewAsyncRegistry(), nil, testLogger(), cfg)
	return eng, st
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func node(t *testing.T, id string, nt schema.NodeType, data any) schema.WorkflowNode {
	t.Helper()
	n := schema.WorkflowNode{ID: id, Type: nt}
	if data != nil {
		n.Data = mustJSON(t, data)
	}
	return n
}

func conn(source, target string, ct schema.ConnectorType) schema.WorkflowConnection {
	return schema.WorkflowConnection{Source: source, Target: target, ConnectorType: ct}
}

// slowAction sleeps without watching the context, so the run loop's
// deadline check has to catch the overrun.
type slowAction struct{ d time.Duration }

func (a *slowAction) Name() string     { return "slow" }
func (a *slowAction) Describe() string { return "sleeps" }
func (a *slowAction) Execute(context.Context, actions.Input) (map[string]any, error) {
	time.Sleep(a.d)
	return map[string]any{"slept": true}, nil
}

// --- executions ---

func loanWorkflow(t *testing.T) schema.WorkflowDefinition {
	t.Helper()
	return schema.WorkflowDefinition{
		ID: "loan",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "rules", schema.NodeTypeRuleSet, map[string]any{"template": "standard_loan"}),
			node(t, "approve_end", schema.NodeTypeEnd, map[string]any{"outcome": "approved"}),
			node(t, "decline_end", schema.NodeTypeEnd, map[string]any{"outcome": "declined"}),
			node(t, "review_end", schema.NodeTypeEnd, map[string]any{"outcome": "review"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "rules", schema.ConnectorSuccess),
			conn("rules", "approve_end", schema.ConnectorApproved),
			conn("rules", "decline_end", schema.ConnectorDeclined),
			conn("rules", "review_end", schema.ConnectorReview),
		},
	}
}

func TestExecute_ApprovedPath(t *testing.T) {
	eng, st := newTestEngine(t, loanWorkflow(t), Config{})

	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{
			"credit_score":   float64(780),
			"debt_to_income": 0.25,
			"annual_income":  float64(95000),
		},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	assert.Equal(t, []string{"start", "rules", "approve_end"}, res.ExecutionPath)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "approved", res.Decision["outcome"])
	assert.Empty(t, res.Errors)

	assert.Equal(t, schema.StatusSucceeded, st.executionStatus(t, res.ExecutionID))

	types := st.eventTypes(res.ExecutionID)
	assert.Equal(t, schema.EventExecutionStarted, types[0])
	assert.Contains(t, types, schema.EventRuleSetEvaluated)
	assert.Contains(t, types, schema.EventExecutionSucceeded)
	assert.Contains(t, types, schema.EventDecisionReached)
}

func TestExecute_DeclinedPath(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{
			"credit_score":   float64(540),
			"debt_to_income": 0.2,
			"annual_income":  float64(90000),
		},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	assert.Equal(t, []string{"start", "rules", "decline_end"}, res.ExecutionPath)
	assert.Equal(t, "declined", res.Decision["outcome"])
}

func TestExecute_ConditionRouting(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "cond",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "check", schema.NodeTypeCondition, map[string]any{
				"expression": `variables.applicant.credit_score >= 700.0`,
			}),
			node(t, "high", schema.NodeTypeEnd, map[string]any{"outcome": "high"}),
			node(t, "low", schema.NodeTypeEnd, map[string]any{"outcome": "low"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "check", schema.ConnectorSuccess),
			conn("check", "high", schema.ConnectorTrue),
			conn("check", "low", schema.ConnectorFalse),
		},
	}
	eng, _ := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "cond", map[string]any{
		"applicant": map[string]any{"credit_score": float64(640)},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "check", "low"}, res.ExecutionPath)
	assert.Equal(t, "low", res.Decision["outcome"])
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})
	_, err := eng.Execute(context.Background(), "ghost", nil, Options{})
	require.Error(t, err)
}

func TestExecute_NoStartNode(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID:    "broken",
		Nodes: []schema.WorkflowNode{node(t, "end", schema.NodeTypeEnd, nil)},
	}
	eng, _ := newTestEngine(t, def, Config{})
	_, err := eng.Execute(context.Background(), "broken", nil, Options{})
	require.Error(t, err)

	se, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNoStartNode, se.Code)
}

func TestExecute_IterationCap(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "cycle",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "bump", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"stage": "looping"}},
			}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "bump", schema.ConnectorSuccess),
			conn("bump", "bump", schema.ConnectorDefault),
		},
	}
	eng, st := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "cycle", nil, Options{MaxIterations: 10})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusFailed, res.Status)
	assert.Len(t, res.ExecutionPath, 10)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, schema.ErrCodeMaxIterations, res.Errors[len(res.Errors)-1].Code)
	assert.Equal(t, schema.StatusFailed, st.executionStatus(t, res.ExecutionID))
}

func TestExecute_ErrorHandlerRecovers(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "recover",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "broken", schema.NodeTypeAction, map[string]any{"action": "does_not_exist"}),
			node(t, "fallback", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"recovered": true}},
			}),
			node(t, "end", schema.NodeTypeEnd, map[string]any{"outcome": "manual_review"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "broken", schema.ConnectorSuccess),
			{Source: "broken", Target: "fallback", ConnectorType: schema.ConnectorError},
			conn("fallback", "end", schema.ConnectorDefault),
		},
	}
	eng, st := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "recover", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	assert.Equal(t, []string{"start", "broken", "fallback", "end"}, res.ExecutionPath)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken", res.Errors[0].NodeID)

	// The handler path sees the failure through last_error.
	finals, ok := res.Output["final_variables"].(map[string]any)
	require.True(t, ok)
	lastErr, ok := finals["last_error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "broken", lastErr["node_id"])

	types := st.eventTypes(res.ExecutionID)
	assert.Contains(t, types, schema.EventNodeFailed)
	assert.Contains(t, types, schema.EventErrorHandlerTaken)
}

func TestExecute_UnhandledFailureFatal(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "fatal",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "broken", schema.NodeTypeAction, map[string]any{"action": "does_not_exist"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "broken", schema.ConnectorSuccess),
		},
	}
	eng, st := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "fatal", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, res.Status)
	assert.Contains(t, st.eventTypes(res.ExecutionID), schema.EventExecutionFailed)
}

func TestExecute_DeadEndSucceedsWithWarning(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "deadend",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "orphan", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"done": true}},
			}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "orphan", schema.ConnectorSuccess),
		},
	}
	eng, _ := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "deadend", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "no outgoing connection matched")

	finals, ok := res.Output["final_variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, finals["done"])
}

func TestExecute_UnknownTargetNode(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "dangling",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "ghost", schema.ConnectorSuccess),
		},
	}
	eng, _ := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "dangling", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, schema.ErrCodeInvalidTransition, res.Errors[len(res.Errors)-1].Code)
}

func TestExecute_Timeout(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "timeout",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "slow", schema.NodeTypeAction, map[string]any{"action": "slow"}),
			node(t, "end", schema.NodeTypeEnd, nil),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "slow", schema.ConnectorSuccess),
			conn("slow", "end", schema.ConnectorDefault),
		},
	}
	eng, st := newTestEngine(t, def, Config{}, &slowAction{d: 100 * time.Millisecond})

	res, err := eng.Execute(context.Background(), "timeout", nil, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusTimedOut, res.Status)
	assert.NotContains(t, res.ExecutionPath, "end")
	assert.Equal(t, schema.StatusTimedOut, st.executionStatus(t, res.ExecutionID))
}

func TestExecute_ParallelBranchesMerge(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "parallel",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "fork", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"forked": true}},
			}),
			node(t, "left", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"left_done": true}},
			}),
			node(t, "right", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"right_done": true}},
			}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "fork", schema.ConnectorSuccess),
			conn("fork", "left", schema.ConnectorDefault),
			conn("fork", "right", schema.ConnectorDefault),
		},
	}
	eng, _ := newTestEngine(t, def, Config{ParallelBranches: true})

	res, err := eng.Execute(context.Background(), "parallel", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	finals, ok := res.Output["final_variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, finals["left_done"])
	assert.Equal(t, true, finals["right_done"])
	assert.Contains(t, res.ExecutionPath, "left")
	assert.Contains(t, res.ExecutionPath, "right")
}

func TestExecute_ParallelBranchesConflictWarning(t *testing.T) {
	branchAction := func(value string) map[string]any {
		return map[string]any{
			"action": "update_data",
			"params": map[string]any{"set": map[string]any{"winner": value}},
		}
	}
	def := schema.WorkflowDefinition{
		ID: "conflict",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "fork", schema.NodeTypeAction, branchAction("none")),
			node(t, "left", schema.NodeTypeAction, branchAction("left")),
			node(t, "right", schema.NodeTypeAction, branchAction("right")),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "fork", schema.ConnectorSuccess),
			conn("fork", "left", schema.ConnectorDefault),
			conn("fork", "right", schema.ConnectorDefault),
		},
	}
	eng, _ := newTestEngine(t, def, Config{ParallelBranches: true})

	res, err := eng.Execute(context.Background(), "conflict", nil, Options{})
	require.NoError(t, err)

	var conflictWarned bool
	for _, w := range res.Warnings {
		if w == fmt.Sprintf("variable %q written by multiple parallel branches, last writer wins", "winner") {
			conflictWarned = true
		}
	}
	assert.True(t, conflictWarned, "expected a variable conflict warning, got %v", res.Warnings)
}

func TestExecute_AsyncSuspendAndComplete(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "manual",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "approval", schema.NodeTypeAction, map[string]any{
				"action":       "send_notification",
				"async":        true,
				"async_reason": "manual_approval",
			}),
			node(t, "end", schema.NodeTypeEnd, map[string]any{"outcome": "approved"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "approval", schema.ConnectorSuccess),
			conn("approval", "end", schema.ConnectorSuccess),
		},
	}
	eng, st := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "manual", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusPaused, res.Status)
	require.NotEmpty(t, res.OperationID)

	op, err := eng.Async().Status(res.OperationID)
	require.NoError(t, err)
	assert.Equal(t, "manual_approval", op.Reason)
	assert.Equal(t, schema.AsyncPending, op.Status)

	require.NoError(t, eng.CompleteAsync(res.OperationID, map[string]any{
		"approved_by": "underwriter-7",
	}))

	require.Eventually(t, func() bool {
		return st.executionStatus(t, res.ExecutionID) == schema.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := eng.Execution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "approval", "end"}, rec.ExecutionPath)

	types := st.eventTypes(res.ExecutionID)
	assert.Contains(t, types, schema.EventAsyncRegistered)
	assert.Contains(t, types, schema.EventExecutionResumed)
	assert.Contains(t, types, schema.EventExecutionSucceeded)
}

func TestExecute_AsyncFailRoutesThroughHandlers(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "manual_fail",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "approval", schema.NodeTypeAction, map[string]any{
				"action": "send_notification",
				"async":  true,
			}),
			node(t, "end", schema.NodeTypeEnd, nil),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "approval", schema.ConnectorSuccess),
			conn("approval", "end", schema.ConnectorSuccess),
		},
	}
	eng, st := newTestEngine(t, def, Config{})

	res, err := eng.Execute(context.Background(), "manual_fail", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, schema.StatusPaused, res.Status)

	require.NoError(t, eng.FailAsync(res.OperationID,
		schema.NewError(schema.ErrCodeNodeExecution, "approval rejected")))

	require.Eventually(t, func() bool {
		return st.executionStatus(t, res.ExecutionID) == schema.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_AsyncForbiddenInBranch(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "branch_async",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "fork", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"forked": true}},
			}),
			node(t, "wait", schema.NodeTypeAction, map[string]any{
				"action": "send_notification",
				"async":  true,
			}),
			node(t, "plain", schema.NodeTypeAction, map[string]any{
				"action": "update_data",
				"params": map[string]any{"set": map[string]any{"plain": true}},
			}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "fork", schema.ConnectorSuccess),
			conn("fork", "wait", schema.ConnectorDefault),
			conn("fork", "plain", schema.ConnectorDefault),
		},
	}
	eng, _ := newTestEngine(t, def, Config{ParallelBranches: true})

	res, err := eng.Execute(context.Background(), "branch_async", nil, Options{})
	require.NoError(t, err)

	// The async node has no error handler, so its branch fails the run.
	assert.Equal(t, schema.StatusFailed, res.Status)
	assert.Empty(t, res.OperationID)
}

func TestPauseResumeCancel_UnknownExecution(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

	require.Error(t, eng.Pause(context.Background(), "nope"))
	require.Error(t, eng.Resume(context.Background(), "nope"))
	require.Error(t, eng.Cancel(context.Background(), "nope"))
}

func TestRunScheduled_FailureReported(t *testing.T) {
	def := schema.WorkflowDefinition{
		ID: "sched",
		Nodes: []schema.WorkflowNode{
			node(t, "start", schema.NodeTypeStart, nil),
			node(t, "broken", schema.NodeTypeAction, map[string]any{"action": "does_not_exist"}),
		},
		Connections: []schema.WorkflowConnection{
			conn("start", "broken", schema.ConnectorSuccess),
		},
	}
	eng, _ := newTestEngine(t, def, Config{})

	err := eng.RunScheduled(context.Background(), "sched", nil)
	require.Error(t, err)

	se, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeWorkflowExecution, se.Code)
}

func TestHistoryAndEvents(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{"credit_score": float64(660), "debt_to_income": 0.3, "annual_income": float64(60000)},
	}, Options{})
	require.NoError(t, err)

	history, err := eng.History(context.Background(), "loan")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.ExecutionID, history[0].ID)

	events, err := eng.Events(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestExecute_ReferenceApplicants(t *testing.T) {
	cases := []struct {
		name      string
		applicant map[string]any
		endNode   string
		outcome   string
	}{
		{
			name: "prime applicant approved",
			applicant: map[string]any{
				"credit_score": float64(780), "debt_to_income": 0.25, "annual_income": float64(85000),
			},
			endNode: "approve_end",
			outcome: "approved",
		},
		{
			name: "subprime applicant declined",
			applicant: map[string]any{
				"credit_score": float64(580), "debt_to_income": 0.55, "annual_income": float64(35000),
			},
			endNode: "decline_end",
			outcome: "declined",
		},
		{
			name: "mid-band applicant goes to review",
			applicant: map[string]any{
				"credit_score": float64(680), "debt_to_income": 0.35, "annual_income": float64(55000),
			},
			endNode: "review_end",
			outcome: "review",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

			res, err := eng.Execute(context.Background(), "loan",
				map[string]any{"applicant": tc.applicant}, Options{})
			require.NoError(t, err)

			assert.Equal(t, schema.StatusSucceeded, res.Status)
			assert.Equal(t, []string{"start", "rules", tc.endNode}, res.ExecutionPath)
			require.NotNil(t, res.Decision)
			assert.Equal(t, tc.outcome, res.Decision["outcome"])
		})
	}
}

func TestExecute_VariableOverrides(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

	// The input applicant would be declined; the override replaces it
	// with a prime profile and must win.
	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{
			"credit_score":   float64(540),
			"debt_to_income": 0.6,
			"annual_income":  float64(20000),
		},
	}, Options{
		VariableOverrides: map[string]any{
			"applicant": map[string]any{
				"credit_score":   float64(780),
				"debt_to_income": 0.25,
				"annual_income":  float64(95000),
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusSucceeded, res.Status)
	assert.Equal(t, []string{"start", "rules", "approve_end"}, res.ExecutionPath)
	assert.Equal(t, "approved", res.Decision["outcome"])
}

func TestExecute_AsyncMode(t *testing.T) {
	eng, st := newTestEngine(t, loanWorkflow(t), Config{})

	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{
			"credit_score":   float64(780),
			"debt_to_income": 0.25,
			"annual_income":  float64(95000),
		},
	}, Options{Mode: ModeAsync})
	require.NoError(t, err)

	// The call returns before the run finishes.
	assert.Equal(t, schema.StatusRunning, res.Status)
	require.NotEmpty(t, res.ExecutionID)
	assert.Empty(t, res.ExecutionPath)

	require.Eventually(t, func() bool {
		return st.executionStatus(t, res.ExecutionID) == schema.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := eng.Execution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "rules", "approve_end"}, rec.ExecutionPath)
}

func TestExecute_StepMode(t *testing.T) {
	eng, st := newTestEngine(t, loanWorkflow(t), Config{})

	res, err := eng.Execute(context.Background(), "loan", map[string]any{
		"applicant": map[string]any{
			"credit_score":   float64(780),
			"debt_to_income": 0.25,
			"annual_income":  float64(95000),
		},
	}, Options{Mode: ModeStep})
	require.NoError(t, err)

	assert.Equal(t, schema.StatusPaused, res.Status)
	assert.Equal(t, schema.StatusPaused, st.executionStatus(t, res.ExecutionID))
	assert.Empty(t, st.nodesStarted(res.ExecutionID))

	// Each Resume advances the run by exactly one node.
	for i, nodeID := range []string{"start", "rules", "approve_end"} {
		require.NoError(t, eng.Resume(context.Background(), res.ExecutionID))
		require.Eventually(t, func() bool {
			started := st.nodesStarted(res.ExecutionID)
			return len(started) == i+1 && started[i] == nodeID
		}, 2*time.Second, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		for _, ty := range st.eventTypes(res.ExecutionID) {
			if ty == schema.EventExecutionSucceeded {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := eng.Execution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "rules", "approve_end"}, rec.ExecutionPath)
}

func TestExecute_UnknownMode(t *testing.T) {
	eng, _ := newTestEngine(t, loanWorkflow(t), Config{})

	_, err := eng.Execute(context.Background(), "loan", nil, Options{Mode: "warp"})
	require.Error(t, err)
	se, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
}

func TestRunState_CancelHandoff(t *testing.T) {
	rs := &runState{}
	var first, second bool

	rs.setCancel(func() { first = true })
	require.False(t, first)

	// Installing a replacement releases the superseded context.
	rs.setCancel(func() { second = true })
	assert.True(t, first)
	assert.False(t, second)

	rs.cancelRun()
	assert.True(t, second)
}
