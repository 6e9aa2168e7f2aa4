package execution

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/common/ratelimit"
)

// Metrics accumulates per-run counters surfaced in the execution log record.
type Metrics struct {
	BlockCount   int     `json:"blockCount"`
	SuccessCount int     `json:"successCount"`
	ErrorCount   int     `json:"errorCount"`
	SkippedCount int     `json:"skippedCount"`
	TotalCost    float64 `json:"totalCost"`
	TotalTokens  int     `json:"totalTokens"`
}

// Context is the mutable per-run state. It is owned by the driving
// goroutine; parallel branches operate on clones and merge back at the
// join under the executor's single-writer discipline.
type Context struct {
	ExecutionID string
	WorkflowID  string
	Workflow    *serializer.Workflow
	Trigger     ratelimit.TriggerType
	Input       any

	BlockStates map[string]any
	BlockLogs   []*LogEntry
	TraceSpans  []*TraceSpan

	StartedAt time.Time
	EndedAt   time.Time

	// Read-only after initialization.
	EnvironmentVariables map[string]string
	SelectedOutputs      []string

	RouterDecisions    map[string]string
	ConditionDecisions map[string]string

	LoopIterations  map[string]int
	LoopItems       map[string]any
	LoopResults     map[string][]any
	LoopCollections map[string][]any

	ExecutedBlocks     map[string]bool
	ActivePath         map[string]bool
	CompletedLoops     map[string]bool
	CompletedParallels map[string]bool

	// Branch-local parallel state, keyed by subflow id. Populated only on
	// branch clones and on contexts nested under a running branch.
	ParallelIndex map[string]int
	ParallelItems map[string]any
	BranchOf      string

	// Embedded-workflow cycle guard.
	WorkflowStack []string

	Metrics Metrics

	Terminated     bool
	TerminalOutput any
}

// Opts configures a new run context.
type Opts struct {
	ExecutionID          string
	WorkflowID           string
	Trigger              ratelimit.TriggerType
	Input                any
	EnvironmentVariables map[string]string
	SelectedOutputs      []string
	WorkflowStack        []string
}

// NewContext creates a run context for a serialized workflow.
func NewContext(wf *serializer.Workflow, opts Opts) *Context {
	execID := opts.ExecutionID
	if execID == "" {
		execID = uuid.NewString()
	}
	env := opts.EnvironmentVariables
	if env == nil {
		env = map[string]string{}
	}
	return &Context{
		ExecutionID:          execID,
		WorkflowID:           opts.WorkflowID,
		Workflow:             wf,
		Trigger:              opts.Trigger,
		Input:                opts.Input,
		BlockStates:          make(map[string]any),
		StartedAt:            time.Now(),
		EnvironmentVariables: env,
		SelectedOutputs:      opts.SelectedOutputs,
		RouterDecisions:      make(map[string]string),
		ConditionDecisions:   make(map[string]string),
		LoopIterations:       make(map[string]int),
		LoopItems:            make(map[string]any),
		LoopResults:          make(map[string][]any),
		LoopCollections:      make(map[string][]any),
		ExecutedBlocks:       make(map[string]bool),
		ActivePath:           make(map[string]bool),
		CompletedLoops:       make(map[string]bool),
		CompletedParallels:   make(map[string]bool),
		ParallelIndex:        make(map[string]int),
		ParallelItems:        make(map[string]any),
		WorkflowStack:        opts.WorkflowStack,
	}
}

// SetBlockState records a block's output.
func (c *Context) SetBlockState(blockID string, output any) {
	c.BlockStates[blockID] = output
}

// BlockState returns a block's recorded output.
func (c *Context) BlockState(blockID string) (any, bool) {
	v, ok := c.BlockStates[blockID]
	return v, ok
}

// MarkExecuted adds a block to the executed set.
func (c *Context) MarkExecuted(blockID string) {
	c.ExecutedBlocks[blockID] = true
}

// Executed reports whether a block has run at least once this run.
func (c *Context) Executed(blockID string) bool {
	return c.ExecutedBlocks[blockID]
}

// Activate adds a block to the active execution path.
func (c *Context) Activate(blockID string) {
	c.ActivePath[blockID] = true
}

// Deactivate removes a block from the active execution path.
func (c *Context) Deactivate(blockID string) {
	delete(c.ActivePath, blockID)
}

// IsActive reports whether a block is on the active execution path.
func (c *Context) IsActive(blockID string) bool {
	return c.ActivePath[blockID]
}

// ActiveBlocks returns the active frontier in deterministic order.
func (c *Context) ActiveBlocks() []string {
	ids := make([]string, 0, len(c.ActivePath))
	for id := range c.ActivePath {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordRouterDecision stores the chosen target; once written a decision
// is stable until the enclosing loop iteration resets the block.
func (c *Context) RecordRouterDecision(routerID, targetID string) {
	c.RouterDecisions[routerID] = targetID
}

// RecordConditionDecision stores the chosen branch label.
func (c *Context) RecordConditionDecision(conditionID, branch string) {
	c.ConditionDecisions[conditionID] = branch
}

// AppendLog appends one block log entry.
func (c *Context) AppendLog(entry *LogEntry) {
	c.BlockLogs = append(c.BlockLogs, entry)
}

// AddSpan records one top-level trace span.
func (c *Context) AddSpan(span *TraceSpan) {
	c.TraceSpans = append(c.TraceSpans, span)
}

// ResetSubflowState clears per-iteration state for the given inner blocks
// so resolvers see fresh outputs on the next tick. Executed marks and
// decisions recorded by inner routers and conditions are cleared with
// them, re-arming the members' edges for the iteration.
func (c *Context) ResetSubflowState(nodes []string) {
	for _, id := range nodes {
		delete(c.BlockStates, id)
		delete(c.ActivePath, id)
		delete(c.ExecutedBlocks, id)
		delete(c.RouterDecisions, id)
		delete(c.ConditionDecisions, id)
	}
}

// PushWorkflow guards against embedded-workflow cycles. Returns false when
// the id is already on the stack.
func (c *Context) PushWorkflow(workflowID string) bool {
	for _, id := range c.WorkflowStack {
		if id == workflowID {
			return false
		}
	}
	c.WorkflowStack = append(c.WorkflowStack, workflowID)
	return true
}

// CloneForBranch builds the shallow branch context for one parallel branch:
// copies of blockStates for the enclosed nodes only, a separate loop scope,
// and branch-local item and index.
func (c *Context) CloneForBranch(parallelID string, index int, item any, nodes []string) *Context {
	branch := NewContext(c.Workflow, Opts{
		ExecutionID:          c.ExecutionID,
		WorkflowID:           c.WorkflowID,
		Trigger:              c.Trigger,
		Input:                c.Input,
		EnvironmentVariables: c.EnvironmentVariables,
		SelectedOutputs:      c.SelectedOutputs,
		WorkflowStack:        c.WorkflowStack,
	})
	branch.BranchOf = parallelID
	branch.StartedAt = c.StartedAt

	// Upstream outputs stay readable from the branch; enclosed node states
	// are branch-local from here on.
	for id, state := range c.BlockStates {
		branch.BlockStates[id] = state
	}
	for _, id := range nodes {
		delete(branch.BlockStates, id)
	}

	for id, idx := range c.ParallelIndex {
		branch.ParallelIndex[id] = idx
	}
	for id, it := range c.ParallelItems {
		branch.ParallelItems[id] = it
	}
	branch.ParallelIndex[parallelID] = index
	branch.ParallelItems[parallelID] = item

	return branch
}

// MergeBranch folds a finished branch back into the parent under the
// single-writer join: logs and spans append in branch order, executed
// blocks union, metrics accumulate.
func (c *Context) MergeBranch(branch *Context) {
	c.BlockLogs = append(c.BlockLogs, branch.BlockLogs...)
	c.TraceSpans = append(c.TraceSpans, branch.TraceSpans...)
	for id := range branch.ExecutedBlocks {
		c.ExecutedBlocks[id] = true
	}
	c.Metrics.BlockCount += branch.Metrics.BlockCount
	c.Metrics.SuccessCount += branch.Metrics.SuccessCount
	c.Metrics.ErrorCount += branch.Metrics.ErrorCount
	c.Metrics.SkippedCount += branch.Metrics.SkippedCount
	c.Metrics.TotalCost += branch.Metrics.TotalCost
	c.Metrics.TotalTokens += branch.Metrics.TotalTokens
}

// Duration returns the run's elapsed wall-clock time.
func (c *Context) Duration() time.Duration {
	end := c.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.StartedAt)
}
