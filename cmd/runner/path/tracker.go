package path

import (
	"strings"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Tracker decides which outgoing edges of a completed block are live and
// propagates activation through the graph.
type Tracker struct {
	wf     *serializer.Workflow
	logger Logger
}

// NewTracker creates a path tracker for one workflow.
func NewTracker(wf *serializer.Workflow, logger Logger) *Tracker {
	return &Tracker{wf: wf, logger: logger}
}

// ShouldSkipConnection is the selective-activation guard. An edge is
// skipped when:
//   - its handle is subflow scaffolding and the target block is not the
//     corresponding container kind;
//   - its handle is a condition branch and the chosen branch differs.
//
// Regular edges are never skipped, including edges targeting loop or
// parallel containers.
func (t *Tracker) ShouldSkipConnection(conn serializer.Connection, ctx *execution.Context) bool {
	target := t.wf.Block(conn.Target)
	if target == nil {
		return true
	}

	switch conn.SourceHandle {
	case serializer.HandleLoopStart, serializer.HandleLoopEnd:
		return target.Kind != serializer.KindLoop
	case serializer.HandleParallelStart, serializer.HandleParallelEnd:
		return target.Kind != serializer.KindParallel
	}

	if strings.HasPrefix(conn.SourceHandle, serializer.ConditionHandlePrefix) {
		branch, ok := ctx.ConditionDecisions[conn.Source]
		if !ok {
			return true
		}
		return conn.SourceHandle != conditionHandle(conn.Source, branch)
	}

	return false
}

func conditionHandle(conditionID, branch string) string {
	return serializer.ConditionHandlePrefix + conditionID + "-" + branch
}

// UpdatePaths runs after a block completes: it enumerates the block's
// outgoing edges, applies the liveness rules, and activates live targets.
// Scaffold edges are driven by the loop and parallel managers, never here.
func (t *Tracker) UpdatePaths(ctx *execution.Context, blockID string) {
	block := t.wf.Block(blockID)
	if block == nil {
		return
	}

	for _, conn := range t.wf.Outgoing(blockID) {
		if isScaffoldHandle(conn.SourceHandle) {
			continue
		}
		if t.ShouldSkipConnection(conn, ctx) {
			continue
		}

		switch block.Kind {
		case serializer.KindRouter:
			if ctx.RouterDecisions[blockID] != conn.Target {
				continue
			}
		case serializer.KindResponse:
			// Terminal; no outgoing edges are followed.
			continue
		}

		if t.logger != nil {
			t.logger.Debug("activating path", "from", blockID, "to", conn.Target)
		}
		ctx.Activate(conn.Target)
	}
}

// ActivateScaffold activates the targets of a subflow container's start or
// end edges. Called by the loop and parallel managers on tick and on
// completion.
func (t *Tracker) ActivateScaffold(ctx *execution.Context, containerID, handle string) {
	for _, conn := range t.wf.Outgoing(containerID) {
		if conn.SourceHandle != handle {
			continue
		}
		ctx.Activate(conn.Target)
	}
}

// ScaffoldTargets returns the target ids of a container's edges with the
// given scaffold handle.
func (t *Tracker) ScaffoldTargets(containerID, handle string) []string {
	var out []string
	for _, conn := range t.wf.Outgoing(containerID) {
		if conn.SourceHandle == handle {
			out = append(out, conn.Target)
		}
	}
	return out
}

// IsEligible reports whether an active block may run now: at least one
// predecessor has made it live and no required predecessor is still
// pending. A predecessor is not required when a recorded router or
// condition decision excludes it, or when it is reachable only through
// subflow scaffolding.
func (t *Tracker) IsEligible(ctx *execution.Context, blockID string) bool {
	if !ctx.IsActive(blockID) {
		return false
	}

	for _, conn := range t.wf.Incoming(blockID) {
		if isScaffoldHandle(conn.SourceHandle) {
			continue
		}
		// Join edges from a container's own members activate re-entry;
		// they are not required for the container's first tick. Once an
		// iteration is in flight the join waits for every member that can
		// still run, so terminals at different depths all land in the
		// same iteration.
		if t.wf.SubflowFor(conn.Source) == blockID {
			if t.iterationInFlight(ctx, blockID) && t.pending(ctx, conn.Source) {
				return false
			}
			continue
		}
		pred := conn.Source
		if ctx.Executed(pred) {
			continue
		}
		if t.excludedByDecision(ctx, pred) {
			continue
		}
		if !ctx.IsActive(pred) && !t.pending(ctx, pred) {
			continue
		}
		return false
	}
	return true
}

// excludedByDecision reports whether every non-scaffold path into a block
// has been closed off by a recorded router or condition decision.
func (t *Tracker) excludedByDecision(ctx *execution.Context, blockID string) bool {
	incoming := t.wf.Incoming(blockID)
	if len(incoming) == 0 {
		return false
	}
	excluded := false
	for _, conn := range incoming {
		if isScaffoldHandle(conn.SourceHandle) {
			continue
		}
		src := t.wf.Block(conn.Source)
		if src == nil {
			continue
		}
		switch {
		case src.Kind == serializer.KindRouter && ctx.Executed(conn.Source):
			if ctx.RouterDecisions[conn.Source] != blockID {
				excluded = true
				continue
			}
			return false
		case strings.HasPrefix(conn.SourceHandle, serializer.ConditionHandlePrefix) && ctx.Executed(conn.Source):
			branch := ctx.ConditionDecisions[conn.Source]
			if conn.SourceHandle != conditionHandle(conn.Source, branch) {
				excluded = true
				continue
			}
			return false
		default:
			// An open regular path keeps the block reachable.
			return false
		}
	}
	return excluded
}

// iterationInFlight reports whether a loop container has started an
// iteration that has not yet resolved back through its join.
func (t *Tracker) iterationInFlight(ctx *execution.Context, containerID string) bool {
	block := t.wf.Block(containerID)
	if block == nil || block.Kind != serializer.KindLoop {
		return false
	}
	return ctx.LoopIterations[containerID] > 0 && !ctx.CompletedLoops[containerID]
}

// pending reports whether a block could still become active this run.
func (t *Tracker) pending(ctx *execution.Context, blockID string) bool {
	if ctx.IsActive(blockID) {
		return true
	}
	if ctx.Executed(blockID) {
		return false
	}
	return !t.excludedByDecision(ctx, blockID)
}

func isScaffoldHandle(handle string) bool {
	switch handle {
	case serializer.HandleLoopStart, serializer.HandleLoopEnd,
		serializer.HandleParallelStart, serializer.HandleParallelEnd:
		return true
	}
	return false
}
