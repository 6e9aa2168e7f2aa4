package blocks

import (
	"context"

	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// ConditionHandler evaluates branch expressions in declaration order;
// the first truthy branch wins, an `else` branch catches the rest.
type ConditionHandler struct {
	evaluator *condition.Evaluator
	logger    Logger
}

// NewConditionHandler creates a condition block handler.
func NewConditionHandler(evaluator *condition.Evaluator, logger Logger) *ConditionHandler {
	return &ConditionHandler{evaluator: evaluator, logger: logger}
}

func (h *ConditionHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindCondition
}

func (h *ConditionHandler) Execute(_ context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	branches, ok := inputs["conditions"].([]any)
	if !ok || len(branches) == 0 {
		return nil, execution.NewError(execution.KindValidationFailed,
			"condition block declares no branches").WithBlock(block.ID, block.Name)
	}

	input := inputs["input"]
	scope := loopScope(run, block)

	var elseBranch string
	for _, raw := range branches {
		branch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := branch["id"].(string)
		expr, _ := branch["expression"].(string)

		if label == "else" || expr == "" {
			if elseBranch == "" {
				elseBranch = label
			}
			continue
		}

		truthy, err := h.evaluator.Evaluate(expr, input, scope)
		if err != nil {
			return nil, execution.WrapError(execution.KindValidationFailed, err,
				"branch %q expression failed", label).WithBlock(block.ID, block.Name)
		}
		if truthy {
			run.RecordConditionDecision(block.ID, label)
			return &execution.ConditionDecision{Branch: label, ConditionID: block.ID}, nil
		}
	}

	if elseBranch != "" {
		run.RecordConditionDecision(block.ID, elseBranch)
		return &execution.ConditionDecision{Branch: elseBranch, ConditionID: block.ID}, nil
	}

	return nil, execution.NewError(execution.KindConditionUnsatisfied,
		"no branch matched and no else branch is declared").WithBlock(block.ID, block.Name)
}

// loopScope exposes the enclosing loop's item and index to expressions.
func loopScope(run *execution.Context, block *serializer.Block) map[string]any {
	loop := run.Workflow.LoopFor(block.ID)
	if loop == nil {
		return nil
	}
	idx := run.LoopIterations[loop.ID] - 1
	if idx < 0 {
		idx = 0
	}
	return map[string]any{
		"item":  run.LoopItems[loop.ID],
		"index": idx,
	}
}
