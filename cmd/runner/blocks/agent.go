package blocks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/cmd/runner/streaming"
)

// StreamSink receives content chunks from streaming agent blocks. The
// HTTP boundary implements it to forward SSE frames; a nil sink disables
// streaming for the run.
type StreamSink interface {
	OnChunk(blockID string, chunk []byte) error
}

// AgentHandler composes messages, selects a provider from the model, and
// forwards the request, streaming when configured.
type AgentHandler struct {
	providers *providers.Registry
	processor *streaming.Processor
	sink      StreamSink
	logger    Logger
}

// NewAgentHandler creates an agent block handler.
func NewAgentHandler(registry *providers.Registry, processor *streaming.Processor, sink StreamSink, logger Logger) *AgentHandler {
	return &AgentHandler{providers: registry, processor: processor, sink: sink, logger: logger}
}

func (h *AgentHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindAgent
}

func (h *AgentHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	req := buildRequest(run, inputs)

	provider, err := h.providers.ForModel(req.Model)
	if err != nil {
		return nil, err
	}

	if req.Stream && h.sink != nil {
		return h.executeStreaming(ctx, run, block, provider, req)
	}

	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	run.Metrics.TotalTokens += resp.Tokens.Total
	run.Metrics.TotalCost += resp.Cost

	return &execution.AgentResponse{
		Content: resp.Content,
		Model:   resp.Model,
		Tokens:  resp.Tokens,
		Cost:    resp.Cost,
	}, nil
}

func (h *AgentHandler) executeStreaming(ctx context.Context, run *execution.Context, block *serializer.Block, provider providers.Provider, req *providers.Request) (any, error) {
	se, err := provider.ExecuteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	stream := h.processor.Transform(se.Stream, block.ID, run.SelectedOutputs)
	defer stream.Close()

	buf := make([]byte, 4096)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if sinkErr := h.sink.OnChunk(block.ID, buf[:n]); sinkErr != nil {
				return nil, fmt.Errorf("forward stream chunk: %w", sinkErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	// Metadata is complete once the stream is drained.
	se.Execution.BlockID = block.ID
	run.Metrics.TotalTokens += se.Execution.Tokens.Total
	run.Metrics.TotalCost += se.Execution.Cost

	return &execution.AgentResponse{
		Content: se.Execution.Content,
		Model:   se.Execution.Model,
		Tokens:  se.Execution.Tokens,
		Cost:    se.Execution.Cost,
	}, nil
}

// buildRequest maps resolved agent params onto a provider request.
func buildRequest(run *execution.Context, inputs map[string]any) *providers.Request {
	req := &providers.Request{
		WorkflowID: run.WorkflowID,
	}
	req.Model, _ = inputs["model"].(string)
	req.SystemPrompt, _ = inputs["systemPrompt"].(string)
	req.Context, _ = inputs["context"].(string)
	req.APIKey, _ = inputs["apiKey"].(string)
	req.ResponseFormat, _ = inputs["responseFormat"].(string)

	if prompt, ok := inputs["userPrompt"].(string); ok && prompt != "" {
		req.Messages = append(req.Messages, providers.Message{Role: "user", Content: prompt})
	}
	if msgs, ok := inputs["messages"].([]any); ok {
		for _, m := range msgs {
			entry, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := entry["role"].(string)
			content, _ := entry["content"].(string)
			req.Messages = append(req.Messages, providers.Message{Role: role, Content: content})
		}
	}

	if t, ok := inputs["temperature"].(float64); ok {
		req.Temperature = t
	}
	if mt, ok := inputs["maxTokens"].(float64); ok {
		req.MaxTokens = int(mt)
	}
	req.Stream, _ = inputs["stream"].(bool)

	if toolDefs, ok := inputs["tools"].([]any); ok {
		for _, td := range toolDefs {
			entry, ok := td.(map[string]any)
			if !ok {
				continue
			}
			def := providers.ToolDef{}
			def.Name, _ = entry["name"].(string)
			def.Description, _ = entry["description"].(string)
			if params, ok := entry["parameters"].(map[string]any); ok {
				def.Parameters = params
			}
			req.Tools = append(req.Tools, def)
		}
	}

	return req
}

// SanitizeASCII strips non-ASCII characters from content destined for
// out-of-band HTTP headers so the value stays legal on the wire.
func SanitizeASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r < 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
