package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/creditkit/decisionflow/internal/logging"
	"github.com/creditkit/decisionflow/internal/store"
	"github.com/creditkit/decisionflow/internal/streaming"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// DefaultMaxIterations caps the number of node visits in a single
// execution. Cycles are legal in workflow graphs; the cap is what keeps
// a bad loop from running forever.
const DefaultMaxIterations = 500

// Config holds engine-wide settings.
type Config struct {
	// MaxIterations is the default node-visit cap per execution.
	// Zero means DefaultMaxIterations.
	MaxIterations int

	// DefaultTimeout bounds executions that do not set their own.
	// Zero means no deadline.
	DefaultTimeout time.Duration

	// ParallelBranches fans out when multiple connections pass during
	// resolution instead of following only the highest-priority one.
	ParallelBranches bool
}

// ExecutionMode selects how Execute hands control back to the caller.
type ExecutionMode string

const (
	// ModeSync blocks until the execution reaches a terminal status or
	// suspends on an async operation. The zero value.
	ModeSync ExecutionMode = "sync"

	// ModeAsync returns as soon as the execution record exists; the run
	// proceeds in the background and is observed via Execution or the
	// event stream.
	ModeAsync ExecutionMode = "async"

	// ModeStep parks the execution before every node; each Resume call
	// advances it by exactly one node.
	ModeStep ExecutionMode = "step"
)

// Options tune a single invocation.
type Options struct {
	// Timeout overrides Config.DefaultTimeout for this execution.
	Timeout time.Duration

	// MaxIterations overrides Config.MaxIterations for this execution.
	MaxIterations int

	// VariableOverrides are merged into the variables after the start
	// node seeds them, winning over both initial variables and input.
	VariableOverrides map[string]any

	// Mode defaults to ModeSync.
	Mode ExecutionMode
}

// ExecutionResult is the public outcome of a workflow execution.
type ExecutionResult struct {
	ExecutionID   string                 `json:"execution_id"`
	WorkflowID    string                 `json:"workflow_id"`
	Status        schema.ExecutionStatus `json:"status"`
	Output        map[string]any         `json:"output,omitempty"`
	Decision      map[string]any         `json:"decision,omitempty"`
	ExecutionPath []string               `json:"execution_path"`
	Errors        []ExecutionError       `json:"errors,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`

	// OperationID is set when the execution paused on an async
	// operation; resolve it via CompleteAsync or FailAsync.
	OperationID string `json:"operation_id,omitempty"`
}

// Engine orchestrates workflow executions: it walks the graph from the
// start node, dispatches each node to its executor, resolves connectors,
// routes failures through error handlers, and records everything in the
// execution history and audit log.
type Engine struct {
	store     store.Store
	executors *ExecutorSet
	resolver  *ConnectorResolver
	async     *AsyncRegistry
	audit     *auditor
	logger    *slog.Logger
	cfg       Config

	mu     sync.Mutex
	active map[string]*runState
}

// runState is the engine's per-execution control block: cancellation,
// the shared iteration budget, and the pause gate.
type runState struct {
	executionID string
	iterations  atomic.Int64
	maxIter     int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	paused   bool
	stepping bool
	resumeCh chan struct{}
}

// setCancel installs the cancel func for the run's current context and
// releases the superseded one, so a resume does not leak the timeout
// timer of the context it replaces.
func (rs *runState) setCancel(cancel context.CancelFunc) {
	rs.mu.Lock()
	prev := rs.cancel
	rs.cancel = cancel
	rs.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (rs *runState) cancelRun() {
	rs.mu.Lock()
	cancel := rs.cancel
	rs.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (rs *runState) pause() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.paused {
		rs.paused = true
		rs.resumeCh = make(chan struct{})
	}
}

func (rs *runState) unpause() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.paused {
		rs.paused = false
		close(rs.resumeCh)
	}
}

// armStep re-closes the pause gate in step mode so the run parks again
// at the next node boundary; each Resume then advances exactly one node.
func (rs *runState) armStep() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.stepping && !rs.paused {
		rs.paused = true
		rs.resumeCh = make(chan struct{})
	}
}

// await blocks while the run is paused. Returns the context error if the
// run is cancelled or times out while parked.
func (rs *runState) await(ctx context.Context) error {
	for {
		rs.mu.Lock()
		paused, ch := rs.paused, rs.resumeCh
		rs.mu.Unlock()
		if !paused {
			return ctx.Err()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// New creates an engine. hub may be nil to disable live event streaming.
func New(st store.Store, executors *ExecutorSet, resolver *ConnectorResolver, async *AsyncRegistry, hub streaming.EventHub, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Engine{
		store:     st,
		executors: executors,
		resolver:  resolver,
		async:     async,
		audit:     newAuditor(st, hub, logger),
		logger:    logger,
		cfg:       cfg,
		active:    make(map[string]*runState),
	}
}

// Async exposes the async operation registry, e.g. for webhook handlers.
func (e *Engine) Async() *AsyncRegistry { return e.async }

// loopResult is the internal outcome of walking the graph.
type loopResult struct {
	Status    schema.ExecutionStatus
	Output    map[string]any
	Decision  map[string]any
	FatalErr  *schema.Error
	Operation *AsyncOperation
	Terminal  bool
}

// Execute runs the workflow identified by workflowID with the given
// input and blocks until the execution reaches a terminal status or
// suspends on an async operation.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any, opts Options) (*ExecutionResult, error) {
	switch opts.Mode {
	case ModeSync, ModeAsync, ModeStep, "":
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown execution mode %q", opts.Mode)
	}

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	start, err := findStartNode(&wf.Definition)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	ec := newExecutionContext(executionID, workflowID, input)
	ec.VariableOverrides = deepCopyMap(opts.VariableOverrides)
	ctx = logging.WithIDs(ctx, executionID, workflowID, "")
	if opts.Mode == ModeAsync || opts.Mode == ModeStep {
		// Background runs outlive the caller's request context.
		ctx = context.WithoutCancel(ctx)
	}

	cancel := func() {}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	maxIter := int64(opts.MaxIterations)
	if maxIter <= 0 {
		maxIter = int64(e.cfg.MaxIterations)
	}
	rs := &runState{executionID: executionID, cancel: cancel, maxIter: maxIter}

	e.mu.Lock()
	e.active[executionID] = rs
	e.mu.Unlock()

	inputJSON, _ := json.Marshal(input)
	rec := &store.ExecutionRecord{
		ID:         executionID,
		WorkflowID: workflowID,
		Status:     schema.StatusRunning,
		Input:      inputJSON,
		StartedAt:  ec.StartedAt,
	}
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		e.dropRun(rs)
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution started", "workflow_id", workflowID, "mode", string(opts.Mode))
	e.audit.emit(ctx, executionID, workflowID, "", schema.EventExecutionStarted,
		map[string]any{"start_node": start.ID})

	switch opts.Mode {
	case ModeAsync, ModeStep:
		status := schema.StatusRunning
		if opts.Mode == ModeStep {
			rs.stepping = true
			rs.pause()
			status = schema.StatusPaused
			if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{Status: &status}); err != nil {
				e.logger.ErrorContext(ctx, "failed to persist paused status", "error", err)
			}
		}
		go func() {
			res := e.run(ctx, wf, ec, rs, start.ID, false)
			e.finalize(ctx, ec, rs, res)
		}()
		return &ExecutionResult{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			Status:      status,
		}, nil
	default:
		res := e.run(ctx, wf, ec, rs, start.ID, false)
		return e.finalize(ctx, ec, rs, res), nil
	}
}

// run walks the graph from nodeID until a terminal node, a fatal error,
// a suspension, or a cancellation. inBranch disables suspension: async
// actions inside a parallel branch fail instead of parking the whole
// execution.
func (e *Engine) run(ctx context.Context, wf *store.WorkflowRecord, ec *ExecutionContext, rs *runState, nodeID string, inBranch bool) *loopResult {
	nodes := nodeIndex(&wf.Definition)

	for {
		if err := rs.await(ctx); err != nil {
			return e.interrupted(err)
		}
		rs.armStep()
		if rs.iterations.Add(1) > rs.maxIter {
			return &loopResult{
				Status: schema.StatusFailed,
				FatalErr: schema.NewErrorf(schema.ErrCodeMaxIterations,
					"execution exceeded %d node visits; check the workflow for unbounded cycles", rs.maxIter),
			}
		}

		node, ok := nodes[nodeID]
		if !ok {
			return &loopResult{
				Status: schema.StatusFailed,
				FatalErr: schema.NewErrorf(schema.ErrCodeInvalidTransition,
					"connection targets unknown node %q", nodeID),
			}
		}

		ec.ExecutionPath = append(ec.ExecutionPath, node.ID)
		nodeCtx := logging.WithNodeID(ctx, node.ID)
		e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventNodeStarted,
			map[string]any{"node_type": string(node.Type)})

		warningsBefore := len(ec.Warnings)
		result := e.executors.Execute(nodeCtx, node, ec)
		for _, w := range ec.Warnings[warningsBefore:] {
			e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventConditionWarning,
				map[string]any{"warning": w})
		}

		if !result.Success {
			next, recovered := e.handleFailure(nodeCtx, wf, ec, node, result)
			if !recovered {
				return &loopResult{Status: schema.StatusFailed, FatalErr: result.Error}
			}
			nodeID = next
			continue
		}

		if result.Suspend != nil {
			if inBranch {
				err := schema.NewError(schema.ErrCodeNodeExecution,
					"async suspension is not supported inside a parallel branch").WithNode(node.ID)
				next, recovered := e.handleFailure(nodeCtx, wf, ec, node, failureResult(node.ID, err))
				if !recovered {
					return &loopResult{Status: schema.StatusFailed, FatalErr: err}
				}
				nodeID = next
				continue
			}
			return e.suspend(nodeCtx, wf, ec, rs, node, result.Suspend)
		}

		ec.MergeOutput(result.Output)

		if result.Decision != nil {
			e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventRuleSetEvaluated,
				map[string]any{
					"decision":      string(result.Decision.Decision),
					"score":         result.Decision.Score,
					"matched_rules": result.Decision.MatchedRules,
				})
		}

		e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventNodeCompleted,
			map[string]any{"duration_ms": result.DurationMs, "connector": string(result.NextConnector)})

		if result.Terminal {
			decision, _ := result.Output["decision"].(map[string]any)
			return &loopResult{
				Status:   schema.StatusSucceeded,
				Output:   result.Output,
				Decision: decision,
				Terminal: true,
			}
		}

		if e.cfg.ParallelBranches {
			all := e.resolver.ResolveAll(nodeCtx, wf.Definition.Connections, ec, node.ID, result)
			if len(all) > 1 {
				return e.runBranches(nodeCtx, wf, ec, rs, all)
			}
		}

		resolution := e.resolver.Resolve(nodeCtx, wf.Definition.Connections, ec, node.ID, result)
		ec.Warnings = append(ec.Warnings, resolution.Warnings...)
		for _, w := range resolution.Warnings {
			e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventConditionWarning,
				map[string]any{"warning": w})
		}

		if resolution.TargetNodeID == "" {
			// Dead end short of an explicit end node. The execution
			// still succeeds with whatever state it accumulated.
			ec.Warnings = append(ec.Warnings, fmt.Sprintf(
				"node %s: no outgoing connection matched, execution ended early", node.ID))
			return &loopResult{
				Status: schema.StatusSucceeded,
				Output: map[string]any{"final_variables": deepCopyMap(ec.Variables)},
			}
		}

		e.audit.emit(nodeCtx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventConnectorResolved,
			map[string]any{"target": resolution.TargetNodeID, "connector": string(resolution.ConnectorType)})

		nodeID = resolution.TargetNodeID
	}
}

// handleFailure records a node failure and looks for an error-handler
// connection. Returns the handler target when the failure is routable.
func (e *Engine) handleFailure(ctx context.Context, wf *store.WorkflowRecord, ec *ExecutionContext, node *schema.WorkflowNode, result *NodeExecutionResult) (string, bool) {
	ec.RecordError(node.ID, result.Error)
	e.logger.WarnContext(ctx, "node failed", "node_type", string(node.Type), "error", result.Error)
	e.audit.emit(ctx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventNodeFailed,
		map[string]any{"error": result.Error.Error(), "code": result.Error.Code})

	target, ok := e.resolver.ResolveErrorHandler(wf.Definition.Connections, node.ID)
	if !ok {
		return "", false
	}

	ec.Variables["last_error"] = map[string]any{
		"node_id": node.ID,
		"code":    result.Error.Code,
		"message": result.Error.Message,
	}
	e.audit.emit(ctx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventErrorHandlerTaken,
		map[string]any{"target": target})
	return target, true
}

// suspend parks the execution on an async operation. The resume callback
// re-enters the loop on the operation's completion path.
func (e *Engine) suspend(ctx context.Context, wf *store.WorkflowRecord, ec *ExecutionContext, rs *runState, node *schema.WorkflowNode, req *SuspendRequest) *loopResult {
	resume := func(result map[string]any, opErr *schema.Error) {
		go e.resumeAfterAsync(wf, ec, rs, node, req, result, opErr)
	}
	op := e.async.Register(ec.ExecutionID, node.ID, req.Reason, resume)

	e.audit.emit(ctx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventAsyncRegistered,
		map[string]any{"operation_id": op.OperationID, "reason": req.Reason})
	e.logger.InfoContext(ctx, "execution suspended on async operation",
		"operation_id", op.OperationID, "reason", req.Reason)

	return &loopResult{Status: schema.StatusPaused, Operation: op}
}

// resumeAfterAsync continues a suspended execution once its async
// operation resolves. Runs on its own goroutine with a fresh context.
func (e *Engine) resumeAfterAsync(wf *store.WorkflowRecord, ec *ExecutionContext, rs *runState, node *schema.WorkflowNode, req *SuspendRequest, result map[string]any, opErr *schema.Error) {
	ctx := logging.WithIDs(context.Background(), ec.ExecutionID, ec.WorkflowID, node.ID)
	cancel := func() {}
	if e.cfg.DefaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	rs.setCancel(cancel)

	running := schema.StatusRunning
	if err := e.store.UpdateExecution(ctx, ec.ExecutionID, store.ExecutionUpdate{Status: &running}); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark execution running", "error", err)
	}
	e.audit.emit(ctx, ec.ExecutionID, ec.WorkflowID, node.ID, schema.EventExecutionResumed,
		map[string]any{"node_id": node.ID})

	if opErr != nil {
		res := &loopResult{Status: schema.StatusFailed, FatalErr: opErr}
		synthetic := failureResult(node.ID, opErr)
		if next, recovered := e.handleFailure(ctx, wf, ec, node, synthetic); recovered {
			res = e.run(ctx, wf, ec, rs, next, false)
		}
		e.finalize(ctx, ec, rs, res)
		return
	}

	ec.MergeOutput(result)
	synthetic := &NodeExecutionResult{
		Success:       true,
		Output:        result,
		NextConnector: connectorOrDefault(req.OnComplete),
	}
	resolution := e.resolver.Resolve(ctx, wf.Definition.Connections, ec, node.ID, synthetic)
	ec.Warnings = append(ec.Warnings, resolution.Warnings...)

	var res *loopResult
	if resolution.TargetNodeID == "" {
		res = &loopResult{
			Status: schema.StatusSucceeded,
			Output: map[string]any{"final_variables": deepCopyMap(ec.Variables)},
		}
	} else {
		res = e.run(ctx, wf, ec, rs, resolution.TargetNodeID, false)
	}
	e.finalize(ctx, ec, rs, res)
}

// branchOutcome pairs a branch's final state with its context.
type branchOutcome struct {
	res *loopResult
	ec  *ExecutionContext
}

// runBranches fans out sibling branches, waits for all of them, and
// merges their variables back into the parent with last-writer-wins
// semantics. Conflicting writes are recorded as warnings.
func (e *Engine) runBranches(ctx context.Context, wf *store.WorkflowRecord, ec *ExecutionContext, rs *runState, resolutions []Resolution) *loopResult {
	base := deepCopyMap(ec.Variables)
	outcomes := make([]branchOutcome, len(resolutions))

	var wg sync.WaitGroup
	for i, resolution := range resolutions {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			branch := ec.branchCopy()
			outcomes[i] = branchOutcome{
				res: e.run(ctx, wf, branch, rs, target, true),
				ec:  branch,
			}
		}(i, resolution.TargetNodeID)
	}
	wg.Wait()

	writers := make(map[string]int)
	final := &loopResult{Status: schema.StatusSucceeded}
	for _, outcome := range outcomes {
		ec.ExecutionPath = append(ec.ExecutionPath, outcome.ec.ExecutionPath...)
		ec.Errors = append(ec.Errors, outcome.ec.Errors...)
		ec.Warnings = append(ec.Warnings, outcome.ec.Warnings...)

		for k, v := range outcome.ec.Variables {
			if sameValue(base[k], v) {
				continue
			}
			writers[k]++
			if writers[k] > 1 {
				warning := fmt.Sprintf("variable %q written by multiple parallel branches, last writer wins", k)
				ec.Warnings = append(ec.Warnings, warning)
				e.audit.emit(ctx, ec.ExecutionID, ec.WorkflowID, "", schema.EventVariableConflict,
					map[string]any{"variable": k})
			}
			ec.Variables[k] = v
		}

		if outcome.res.FatalErr != nil && final.FatalErr == nil {
			final.Status = schema.StatusFailed
			final.FatalErr = outcome.res.FatalErr
		}
		if outcome.res.Terminal && !final.Terminal {
			final.Terminal = true
			final.Output = outcome.res.Output
			final.Decision = outcome.res.Decision
		}
	}

	if final.Status == schema.StatusSucceeded && final.Output == nil {
		final.Output = map[string]any{"final_variables": deepCopyMap(ec.Variables)}
	}
	return final
}

// interrupted maps a context error to the corresponding terminal status.
func (e *Engine) interrupted(err error) *loopResult {
	if err == context.DeadlineExceeded {
		return &loopResult{
			Status:   schema.StatusTimedOut,
			FatalErr: schema.NewError(schema.ErrCodeTimeout, "execution deadline exceeded"),
		}
	}
	return &loopResult{
		Status:   schema.StatusCancelled,
		FatalErr: schema.NewError(schema.ErrCodeCancelled, "execution cancelled"),
	}
}

// finalize persists the final state of an execution and builds the
// public result. For paused executions only the status is persisted; the
// resume path finalizes for real later.
func (e *Engine) finalize(ctx context.Context, ec *ExecutionContext, rs *runState, res *loopResult) *ExecutionResult {
	durationMs := time.Since(ec.StartedAt).Milliseconds()

	out := &ExecutionResult{
		ExecutionID:   ec.ExecutionID,
		WorkflowID:    ec.WorkflowID,
		Status:        res.Status,
		Output:        res.Output,
		Decision:      res.Decision,
		ExecutionPath: ec.ExecutionPath,
		Errors:        ec.Errors,
		Warnings:      ec.Warnings,
		DurationMs:    durationMs,
	}
	if res.Operation != nil {
		out.OperationID = res.Operation.OperationID
	}
	if res.FatalErr != nil {
		ec.RecordError(res.FatalErr.NodeID, res.FatalErr)
		out.Errors = ec.Errors
	}

	update := store.ExecutionUpdate{
		Status:        &res.Status,
		ExecutionPath: ec.ExecutionPath,
	}
	if res.Status.Terminal() {
		now := time.Now().UTC()
		update.CompletedAt = &now
		update.DurationMs = &durationMs
		if res.Output != nil {
			update.Output, _ = json.Marshal(res.Output)
		}
		if res.Decision != nil {
			update.Decision, _ = json.Marshal(res.Decision)
		}
		if len(ec.Errors) > 0 {
			update.Errors, _ = json.Marshal(ec.Errors)
		}
	}
	// Persist with a context that survives cancellation and timeouts.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelPersist()
	if err := e.store.UpdateExecution(persistCtx, ec.ExecutionID, update); err != nil {
		e.logger.ErrorContext(persistCtx, "failed to persist execution state", "error", err)
	}

	switch res.Status {
	case schema.StatusSucceeded:
		e.logger.InfoContext(persistCtx, "execution succeeded", "duration_ms", durationMs)
		e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventExecutionSucceeded,
			map[string]any{"duration_ms": durationMs})
		if res.Decision != nil {
			e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventDecisionReached, res.Decision)
		}
	case schema.StatusFailed:
		e.logger.ErrorContext(persistCtx, "execution failed", "error", res.FatalErr)
		e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventExecutionFailed,
			map[string]any{"error": errString(res.FatalErr)})
	case schema.StatusTimedOut:
		e.logger.WarnContext(persistCtx, "execution timed out", "duration_ms", durationMs)
		e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventExecutionTimedOut, nil)
	case schema.StatusCancelled:
		e.logger.InfoContext(persistCtx, "execution cancelled")
		e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventExecutionCancelled, nil)
	case schema.StatusPaused:
		e.audit.emit(persistCtx, ec.ExecutionID, ec.WorkflowID, "", schema.EventExecutionPaused,
			map[string]any{"operation_id": out.OperationID})
	}

	if res.Status.Terminal() {
		e.dropRun(rs)
	}
	return out
}

func (e *Engine) dropRun(rs *runState) {
	rs.cancelRun()
	e.mu.Lock()
	delete(e.active, rs.executionID)
	e.mu.Unlock()
}

// Pause parks a running execution at its next iteration boundary.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	rs, err := e.runFor(executionID)
	if err != nil {
		return err
	}
	rs.pause()

	paused := schema.StatusPaused
	if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{Status: &paused}); err != nil {
		return err
	}
	e.audit.emit(ctx, executionID, "", "", schema.EventExecutionPaused, nil)
	return nil
}

// Resume unparks a paused execution.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	rs, err := e.runFor(executionID)
	if err != nil {
		return err
	}
	rs.unpause()

	running := schema.StatusRunning
	if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{Status: &running}); err != nil {
		return err
	}
	e.audit.emit(ctx, executionID, "", "", schema.EventExecutionResumed, nil)
	return nil
}

// Cancel aborts a running or paused execution.
func (e *Engine) Cancel(_ context.Context, executionID string) error {
	rs, err := e.runFor(executionID)
	if err != nil {
		return err
	}
	rs.cancelRun()
	rs.unpause()
	return nil
}

func (e *Engine) runFor(executionID string) (*runState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.active[executionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no active execution %q", executionID)
	}
	return rs, nil
}

// CompleteAsync resolves a pending async operation with a result; the
// suspended execution resumes on its completion connector.
func (e *Engine) CompleteAsync(operationID string, result map[string]any) error {
	return e.async.Complete(operationID, result)
}

// FailAsync resolves a pending async operation with an error; the
// suspended execution routes the failure through its error handlers.
func (e *Engine) FailAsync(operationID string, opErr *schema.Error) error {
	return e.async.Fail(operationID, opErr)
}

// RunScheduled runs a workflow on behalf of the scheduler. Non-success
// terminal statuses are reported as errors so the job records them.
func (e *Engine) RunScheduled(ctx context.Context, workflowID string, input map[string]any) error {
	res, err := e.Execute(ctx, workflowID, input, Options{})
	if err != nil {
		return err
	}
	if res.Status == schema.StatusFailed || res.Status == schema.StatusTimedOut {
		return schema.NewErrorf(schema.ErrCodeWorkflowExecution,
			"scheduled execution %s finished %s", res.ExecutionID, res.Status)
	}
	return nil
}

// Execution returns one execution record from the history.
func (e *Engine) Execution(ctx context.Context, executionID string) (*store.ExecutionRecord, error) {
	return e.store.GetExecution(ctx, executionID)
}

// History lists the execution records for a workflow, newest first.
func (e *Engine) History(ctx context.Context, workflowID string) ([]*store.ExecutionRecord, error) {
	return e.store.ListExecutions(ctx, workflowID)
}

// Events returns the audit trail for an execution, in sequence order.
func (e *Engine) Events(ctx context.Context, executionID string) ([]*store.Event, error) {
	return e.store.GetEvents(ctx, executionID, 0)
}

// findStartNode returns the unique start node of a workflow.
func findStartNode(def *schema.WorkflowDefinition) (*schema.WorkflowNode, error) {
	var start *schema.WorkflowNode
	for i := range def.Nodes {
		if def.Nodes[i].Type != schema.NodeTypeStart {
			continue
		}
		if start != nil {
			return nil, schema.NewErrorf(schema.ErrCodeMultipleStartNodes,
				"workflow %q has multiple start nodes", def.ID)
		}
		start = &def.Nodes[i]
	}
	if start == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNoStartNode,
			"workflow %q has no start node", def.ID)
	}
	return start, nil
}

func nodeIndex(def *schema.WorkflowDefinition) map[string]*schema.WorkflowNode {
	nodes := make(map[string]*schema.WorkflowNode, len(def.Nodes))
	for i := range def.Nodes {
		nodes[def.Nodes[i].ID] = &def.Nodes[i]
	}
	return nodes
}

func errString(err *schema.Error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sameValue compares two variable values by their JSON form. Good enough
// for conflict detection on JSON-shaped data.
func sameValue(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
