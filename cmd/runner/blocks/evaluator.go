package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// EvaluatorHandler scores content against a declared metric set using a
// language model and returns the structured scores.
type EvaluatorHandler struct {
	providers *providers.Registry
	logger    Logger
}

// NewEvaluatorHandler creates an evaluator block handler.
func NewEvaluatorHandler(registry *providers.Registry, logger Logger) *EvaluatorHandler {
	return &EvaluatorHandler{providers: registry, logger: logger}
}

func (h *EvaluatorHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindEvaluator
}

func (h *EvaluatorHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	content, _ := inputs["content"].(string)
	if content == "" {
		return nil, execution.NewError(execution.KindValidationFailed,
			"evaluator has no content to score").WithBlock(block.ID, block.Name)
	}

	metrics, ok := inputs["metrics"].([]any)
	if !ok || len(metrics) == 0 {
		return nil, execution.NewError(execution.KindValidationFailed,
			"evaluator declares no metrics").WithBlock(block.ID, block.Name)
	}

	model, _ := inputs["model"].(string)
	provider, err := h.providers.ForModel(model)
	if err != nil {
		return nil, err
	}

	req := &providers.Request{
		Model:          model,
		SystemPrompt:   scoringSystemPrompt(metrics),
		Messages:       []providers.Message{{Role: "user", Content: content}},
		ResponseFormat: "json",
		WorkflowID:     run.WorkflowID,
	}
	if key, ok := inputs["apiKey"].(string); ok {
		req.APIKey = key
	}

	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	run.Metrics.TotalTokens += resp.Tokens.Total
	run.Metrics.TotalCost += resp.Cost

	var scores map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &scores); err != nil {
		return nil, execution.WrapError(execution.KindProviderError, err,
			"model %s returned unparseable scores", model).WithBlock(block.ID, block.Name)
	}

	return map[string]any{
		"scores": scores,
		"model":  resp.Model,
		"tokens": resp.Tokens,
	}, nil
}

func scoringSystemPrompt(metrics []any) string {
	var b strings.Builder
	b.WriteString("You are an evaluator. Score the user's content on each metric below.\n")
	b.WriteString("Respond with a JSON object mapping metric name to numeric score.\n\nMetrics:\n")
	for _, raw := range metrics {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		fmt.Fprintf(&b, "- %s: %s", name, desc)
		if rng, ok := m["range"].(map[string]any); ok {
			fmt.Fprintf(&b, " (range %v to %v)", rng["min"], rng["max"])
		}
		b.WriteString("\n")
	}
	return b.String()
}
