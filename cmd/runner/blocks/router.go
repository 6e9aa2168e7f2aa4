package blocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// RouterHandler asks a model to pick one downstream block. The response
// is matched against candidate ids only, case-insensitive and exact.
type RouterHandler struct {
	providers *providers.Registry
	logger    Logger
}

// NewRouterHandler creates a router block handler.
func NewRouterHandler(registry *providers.Registry, logger Logger) *RouterHandler {
	return &RouterHandler{providers: registry, logger: logger}
}

func (h *RouterHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindRouter
}

func (h *RouterHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	candidates := h.candidates(run, block)
	if len(candidates) == 0 {
		return nil, execution.NewError(execution.KindInvalidRoutingDecision,
			"router has no downstream candidates").WithBlock(block.ID, block.Name)
	}

	prompt, _ := inputs["prompt"].(string)
	model, _ := inputs["model"].(string)

	provider, err := h.providers.ForModel(model)
	if err != nil {
		return nil, err
	}

	req := &providers.Request{
		Model:        model,
		SystemPrompt: routingSystemPrompt(candidates),
		Messages:     []providers.Message{{Role: "user", Content: prompt}},
		WorkflowID:   run.WorkflowID,
	}
	if key, ok := inputs["apiKey"].(string); ok {
		req.APIKey = key
	}

	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	chosen := strings.ToLower(strings.TrimSpace(resp.Content))
	var selected *serializer.Block
	for _, c := range candidates {
		if strings.ToLower(c.ID) == chosen {
			selected = c
			break
		}
	}
	if selected == nil {
		return nil, execution.NewError(execution.KindInvalidRoutingDecision,
			"model answered %q, which is not a downstream block id", resp.Content).
			WithBlock(block.ID, block.Name)
	}

	run.RecordRouterDecision(block.ID, selected.ID)
	run.Metrics.TotalTokens += resp.Tokens.Total
	run.Metrics.TotalCost += resp.Cost

	return &execution.RouterDecision{
		Prompt: prompt,
		Model:  resp.Model,
		Tokens: resp.Tokens,
		SelectedPath: execution.SelectedPath{
			BlockID:    selected.ID,
			BlockType:  string(selected.Kind),
			BlockTitle: selected.Name,
		},
	}, nil
}

// candidates lists the router's direct downstream blocks.
func (h *RouterHandler) candidates(run *execution.Context, block *serializer.Block) []*serializer.Block {
	var out []*serializer.Block
	for _, conn := range run.Workflow.Outgoing(block.ID) {
		if target := run.Workflow.Block(conn.Target); target != nil {
			out = append(out, target)
		}
	}
	return out
}

// routingSystemPrompt describes every candidate so the model can choose.
// Agent candidates contribute their own system prompts as descriptions.
func routingSystemPrompt(candidates []*serializer.Block) string {
	var b strings.Builder
	b.WriteString("You are a routing assistant. Choose exactly one destination for the user's request.\n")
	b.WriteString("Respond with only the id of the chosen destination, nothing else.\n\nDestinations:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id: %s\n  title: %s\n  type: %s\n", c.ID, c.Name, c.Kind)
		if c.Kind == serializer.KindAgent {
			if sp, ok := c.Config.Params["systemPrompt"].(string); ok && sp != "" {
				fmt.Fprintf(&b, "  description: %s\n", sp)
			}
		}
	}
	return b.String()
}
