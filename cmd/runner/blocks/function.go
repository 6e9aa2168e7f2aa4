package blocks

import (
	"context"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/sandbox"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// FunctionHandler runs untrusted block code in the JS sandbox. Sandbox
// errors surface verbatim; limits are the sandbox's concern.
type FunctionHandler struct {
	sandbox *sandbox.Sandbox
}

// NewFunctionHandler creates a function block handler.
func NewFunctionHandler(sb *sandbox.Sandbox) *FunctionHandler {
	return &FunctionHandler{sandbox: sb}
}

func (h *FunctionHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindFunction
}

func (h *FunctionHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	code, _ := inputs["code"].(string)
	if code == "" {
		return nil, execution.NewError(execution.KindValidationFailed, "function block has no code").
			WithBlock(block.ID, block.Name)
	}

	// The caller's current data object: the declared input param when
	// present, the remaining resolved params otherwise.
	input, ok := inputs["input"]
	if !ok {
		data := make(map[string]any, len(inputs))
		for k, v := range inputs {
			if k != "code" {
				data[k] = v
			}
		}
		input = data
	}

	// Sandbox errors surface verbatim.
	result, err := h.sandbox.Execute(ctx, code, input)
	if err != nil {
		return nil, err
	}

	return map[string]any{"result": result}, nil
}
