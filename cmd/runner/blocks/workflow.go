package blocks

import (
	"context"
	"fmt"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// WorkflowRunner executes an embedded workflow by id. Implemented by the
// executor and injected here to keep the dependency one-directional.
type WorkflowRunner interface {
	RunEmbedded(ctx context.Context, workflowID string, input any, parent *execution.Context) (any, error)
}

// WorkflowHandler executes another workflow inline, returning its terminal
// output. Cycles are prevented by the id stack on the run context.
type WorkflowHandler struct {
	runner WorkflowRunner
	logger Logger
}

// NewWorkflowHandler creates a workflow-embed handler.
func NewWorkflowHandler(runner WorkflowRunner, logger Logger) *WorkflowHandler {
	return &WorkflowHandler{runner: runner, logger: logger}
}

func (h *WorkflowHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindWorkflow
}

func (h *WorkflowHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	workflowID, _ := inputs["workflowId"].(string)
	if workflowID == "" {
		return nil, execution.NewError(execution.KindValidationFailed,
			"workflow block has no workflowId").WithBlock(block.ID, block.Name)
	}

	if !run.PushWorkflow(workflowID) {
		return nil, execution.NewError(execution.KindValidationFailed,
			"workflow %s is already on the execution stack", workflowID).
			WithBlock(block.ID, block.Name)
	}

	if h.logger != nil {
		h.logger.Info("executing embedded workflow",
			"workflow_id", workflowID, "parent", run.WorkflowID)
	}

	output, err := h.runner.RunEmbedded(ctx, workflowID, inputs["input"], run)
	if err != nil {
		return nil, fmt.Errorf("embedded workflow %s: %w", workflowID, err)
	}

	return map[string]any{"result": output, "workflowId": workflowID}, nil
}
