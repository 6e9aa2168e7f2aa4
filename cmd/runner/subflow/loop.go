package subflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/path"
	"github.com/simstudio/runner/cmd/runner/resolver"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// LoopHandler drives loop containers. The loop block re-enters the active
// path once per iteration: it binds the current item, activates the inner
// subgraph through the start scaffold, and on exhaustion activates the end
// scaffold instead.
type LoopHandler struct {
	tracker   *path.Tracker
	resolver  *resolver.Resolver
	evaluator *condition.Evaluator
	logger    Logger
}

// NewLoopHandler creates a loop manager.
func NewLoopHandler(tracker *path.Tracker, res *resolver.Resolver, evaluator *condition.Evaluator, logger Logger) *LoopHandler {
	return &LoopHandler{
		tracker:   tracker,
		resolver:  res,
		evaluator: evaluator,
		logger:    logger,
	}
}

func (h *LoopHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindLoop
}

func (h *LoopHandler) Execute(_ context.Context, run *execution.Context, block *serializer.Block, _ map[string]any) (any, error) {
	loop := run.Workflow.Loops[block.ID]
	if loop == nil {
		return nil, execution.NewError(execution.KindValidationFailed,
			"loop block has no loop definition").WithBlock(block.ID, block.Name)
	}

	iter := run.LoopIterations[loop.ID]

	if iter > 0 {
		// An iteration just finished: collect its terminal outputs before
		// anything is reset.
		h.collectResults(run, loop)
	}

	max, err := h.maxIterations(run, block, loop)
	if err != nil {
		return nil, err
	}

	done := iter >= max
	if !done && loop.LoopType == serializer.LoopTypeWhile {
		proceed, err := h.whileCondition(run, block, loop)
		if err != nil {
			return nil, err
		}
		done = !proceed
	}

	if done {
		run.CompletedLoops[loop.ID] = true
		delete(run.LoopItems, loop.ID)
		h.tracker.ActivateScaffold(run, block.ID, serializer.HandleLoopEnd)
		return &execution.LoopTick{CurrentIteration: iter, MaxIterations: max, Completed: true}, nil
	}

	// Fresh inner state for the next tick.
	run.ResetSubflowState(loop.Nodes)
	run.LoopItems[loop.ID] = currentItem(run, loop, iter)
	run.LoopIterations[loop.ID] = iter + 1

	h.tracker.ActivateScaffold(run, block.ID, serializer.HandleLoopStart)

	return &execution.LoopTick{CurrentIteration: iter, MaxIterations: max, Completed: false}, nil
}

// maxIterations derives the iteration bound. For forEach the bound comes
// from the resolved collection, never from the declared iterations field.
func (h *LoopHandler) maxIterations(run *execution.Context, block *serializer.Block, loop *serializer.LoopDef) (int, error) {
	switch loop.LoopType {
	case serializer.LoopTypeForEach:
		collection, err := h.collection(run, block, loop)
		if err != nil {
			return 0, err
		}
		return len(collection), nil
	case serializer.LoopTypeWhile:
		if loop.Iterations > 0 {
			return loop.Iterations, nil
		}
		// Safety bound against runaway conditions.
		return 1000, nil
	default:
		return loop.Iterations, nil
	}
}

// collection resolves forEachItems once per run and caches it on the run
// context so the iteration count never drifts from the collection. Object
// collections become [key, value] pairs in sorted key order.
func (h *LoopHandler) collection(run *execution.Context, block *serializer.Block, loop *serializer.LoopDef) ([]any, error) {
	if cached, ok := run.LoopCollections[loop.ID]; ok {
		return cached, nil
	}

	if loop.ForEachItems == nil {
		return nil, execution.NewError(execution.KindForEachMissingCollection,
			"forEach loop declares no collection").WithBlock(block.ID, block.Name)
	}

	resolved, err := h.resolver.Resolve(run, block, loop.ForEachItems)
	if err != nil {
		return nil, fmt.Errorf("resolve forEach collection: %w", err)
	}

	var items []any
	switch v := resolved.(type) {
	case []any:
		items = v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, []any{k, v[k]})
		}
	case nil:
		return nil, execution.NewError(execution.KindForEachMissingCollection,
			"forEach collection resolved to nothing").WithBlock(block.ID, block.Name)
	default:
		return nil, execution.NewError(execution.KindForEachMissingCollection,
			"forEach collection must be an array or object, got %T", resolved).
			WithBlock(block.ID, block.Name)
	}

	if len(items) == 0 {
		return nil, execution.NewError(execution.KindForEachEmpty,
			"forEach collection is empty").WithBlock(block.ID, block.Name)
	}

	run.LoopCollections[loop.ID] = items
	return items, nil
}

func currentItem(run *execution.Context, loop *serializer.LoopDef, iter int) any {
	if loop.LoopType == serializer.LoopTypeForEach {
		items := run.LoopCollections[loop.ID]
		if iter < len(items) {
			return items[iter]
		}
		return nil
	}
	return iter
}

func (h *LoopHandler) whileCondition(run *execution.Context, block *serializer.Block, loop *serializer.LoopDef) (bool, error) {
	if loop.Condition == "" {
		return false, execution.NewError(execution.KindValidationFailed,
			"while loop declares no condition").WithBlock(block.ID, block.Name)
	}

	idx := run.LoopIterations[loop.ID]
	scope := map[string]any{
		"index":   idx,
		"results": run.LoopResults[loop.ID],
	}
	ok, err := h.evaluator.Evaluate(loop.Condition, run.Input, scope)
	if err != nil {
		return false, execution.WrapError(execution.KindValidationFailed, err,
			"while condition failed").WithBlock(block.ID, block.Name)
	}
	return ok, nil
}

// collectResults appends the just-finished iteration's terminal outputs to
// loop.<id>.results. Terminal blocks are the inner blocks wired back into
// the loop container's join.
func (h *LoopHandler) collectResults(run *execution.Context, loop *serializer.LoopDef) {
	inner := make(map[string]bool, len(loop.Nodes))
	for _, n := range loop.Nodes {
		inner[n] = true
	}

	var terminals []string
	for _, conn := range run.Workflow.Incoming(loop.ID) {
		if inner[conn.Source] {
			terminals = append(terminals, conn.Source)
		}
	}

	switch len(terminals) {
	case 0:
	case 1:
		if state, ok := run.BlockState(terminals[0]); ok {
			run.LoopResults[loop.ID] = append(run.LoopResults[loop.ID], state)
		}
	default:
		combined := make(map[string]any, len(terminals))
		for _, id := range terminals {
			if state, ok := run.BlockState(id); ok {
				combined[id] = state
			}
		}
		run.LoopResults[loop.ID] = append(run.LoopResults[loop.ID], combined)
	}
}
