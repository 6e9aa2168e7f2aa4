package blocks

import (
	"context"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// StarterHandler returns the run's initial input unchanged.
type StarterHandler struct{}

// NewStarterHandler creates a starter handler.
func NewStarterHandler() *StarterHandler {
	return &StarterHandler{}
}

func (h *StarterHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindStarter
}

func (h *StarterHandler) Execute(_ context.Context, run *execution.Context, _ *serializer.Block, _ map[string]any) (any, error) {
	if run.Input == nil {
		return map[string]any{}, nil
	}
	return run.Input, nil
}
