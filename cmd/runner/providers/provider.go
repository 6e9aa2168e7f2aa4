package providers

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/simstudio/runner/cmd/runner/execution"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef declares a tool an agent exposes to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request carries everything a provider needs for one model call.
type Request struct {
	Model          string
	SystemPrompt   string
	Context        string
	Messages       []Message
	Tools          []ToolDef
	Temperature    float64
	MaxTokens      int
	APIKey         string
	ResponseFormat string
	WorkflowID     string
	Stream         bool
}

// Response is a completed, non-streaming model call.
type Response struct {
	Content string               `json:"content"`
	Model   string               `json:"model"`
	Tokens  execution.TokenUsage `json:"tokens"`
	Cost    float64              `json:"cost"`
}

// ExecutionMetadata is the side channel accompanying a stream; it is the
// payload serialized into the X-Execution-Data header at the boundary.
type ExecutionMetadata struct {
	BlockID string               `json:"blockId"`
	Model   string               `json:"model"`
	Tokens  execution.TokenUsage `json:"tokens"`
	Cost    float64              `json:"cost"`
	Content string               `json:"content,omitempty"`
}

// StreamingExecution pairs the content byte stream with its metadata.
// Metadata fields fill in as the stream drains; readers must not touch
// them until the stream is done.
type StreamingExecution struct {
	Stream    io.ReadCloser
	Execution *ExecutionMetadata
}

// Provider executes model calls.
type Provider interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	ExecuteStream(ctx context.Context, req *Request) (*StreamingExecution, error)
}

// Registry selects a provider from the requested model. Read-only during
// a run.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs a provider under a name. The first registration also
// becomes the fallback.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if r.fallback == "" {
		r.fallback = name
	}
}

// ForModel picks the provider responsible for a model id.
func (r *Registry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := providerNameFor(model)
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if p, ok := r.providers[r.fallback]; ok {
		return p, nil
	}
	return nil, execution.NewError(execution.KindProviderError, "no provider registered for model %q", model)
}

func providerNameFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "openai"
	default:
		return "openai"
	}
}
