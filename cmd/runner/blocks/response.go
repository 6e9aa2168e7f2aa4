package blocks

import (
	"context"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// ResponseHandler terminates the workflow with the provided value. The
// path tracker never follows a response block's outgoing edges.
type ResponseHandler struct{}

// NewResponseHandler creates a response block handler.
func NewResponseHandler() *ResponseHandler {
	return &ResponseHandler{}
}

func (h *ResponseHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindResponse
}

func (h *ResponseHandler) Execute(_ context.Context, run *execution.Context, _ *serializer.Block, inputs map[string]any) (any, error) {
	value := inputs["data"]
	if value == nil {
		value = inputs["value"]
	}

	run.Terminated = true
	run.TerminalOutput = value

	return map[string]any{"data": value}, nil
}
