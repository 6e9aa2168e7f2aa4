package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/simstudio/runner/cmd/runner/execution"
)

// OpenAIProvider serves any OpenAI-compatible chat completion endpoint.
type OpenAIProvider struct {
	defaultKey string
	baseURL    string
	logger     Logger
}

// NewOpenAIProvider creates a provider. baseURL may be empty for the
// public API; defaultKey is used when the request carries no key of its
// own.
func NewOpenAIProvider(defaultKey, baseURL string, logger Logger) *OpenAIProvider {
	return &OpenAIProvider{defaultKey: defaultKey, baseURL: baseURL, logger: logger}
}

func (p *OpenAIProvider) client(req *Request) *openai.Client {
	key := req.APIKey
	if key == "" {
		key = p.defaultKey
	}
	cfg := openai.DefaultConfig(key)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) chatRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Context,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.ResponseFormat == "json" {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Execute performs a blocking chat completion.
func (p *OpenAIProvider) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.client(req).CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return nil, wrapProviderError(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, execution.NewError(execution.KindProviderError, "model %s returned no choices", req.Model)
	}

	tokens := execution.TokenUsage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Tokens:  tokens,
		Cost:    estimateCost(resp.Model, tokens),
	}, nil
}

// ExecuteStream performs a streaming chat completion. Content deltas flow
// through the returned pipe as raw bytes; metadata fills in while the
// stream drains and is complete once the reader sees EOF.
func (p *OpenAIProvider) ExecuteStream(ctx context.Context, req *Request) (*StreamingExecution, error) {
	chatReq := p.chatRequest(req)
	chatReq.Stream = true

	stream, err := p.client(req).CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapProviderError(req.Model, err)
	}

	meta := &ExecutionMetadata{Model: req.Model}
	pr, pw := io.Pipe()

	go func() {
		defer stream.Close()
		var content []byte
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				meta.Content = string(content)
				meta.Tokens.Completion = approximateTokens(meta.Content)
				meta.Tokens.Total = meta.Tokens.Prompt + meta.Tokens.Completion
				meta.Cost = estimateCost(req.Model, meta.Tokens)
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(wrapProviderError(req.Model, err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			content = append(content, delta...)
			if _, err := pw.Write([]byte(delta)); err != nil {
				return
			}
		}
	}()

	return &StreamingExecution{Stream: pr, Execution: meta}, nil
}

func wrapProviderError(model string, err error) *execution.Error {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		return execution.WrapError(execution.KindProviderError, err, "model %s failed with status %d", model, apiErr.HTTPStatusCode).
			WithField("status", apiErr.HTTPStatusCode).
			WithField("model", model)
	}
	return execution.WrapError(execution.KindProviderError, err, "model %s request failed", model).
		WithField("model", model)
}

// approximateTokens is the usual chars/4 heuristic, used only for streams
// where the API reports no usage.
func approximateTokens(content string) int {
	return (len(content) + 3) / 4
}

// perMillionUSD holds rough prompt/completion pricing for cost accounting.
var perMillionUSD = map[string][2]float64{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
}

func estimateCost(model string, tokens execution.TokenUsage) float64 {
	rates, ok := perMillionUSD[model]
	if !ok {
		return 0
	}
	return float64(tokens.Prompt)*rates[0]/1e6 + float64(tokens.Completion)*rates[1]/1e6
}
