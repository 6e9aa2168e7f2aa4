package tools

import (
	"context"
	"sync"

	"github.com/simstudio/runner/cmd/runner/execution"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestSpec describes how a tool builds its outbound HTTP request.
// Static fields and function fields are alternatives; functions win when
// both are set.
type RequestSpec struct {
	URL       string
	URLFn     func(params map[string]any) string
	Method    string
	MethodFn  func(params map[string]any) string
	Headers   map[string]string
	HeadersFn func(params map[string]any) map[string]string
	Body      any
	BodyFn    func(params map[string]any) any
}

// ToolSpec declares one tool the registry can execute.
type ToolSpec struct {
	Name              string
	Params            map[string]string
	Request           RequestSpec
	TransformResponse func(status int, headers map[string]string, body []byte) (any, error)
	TransformError    func(status int, body []byte) string
}

// Result is the outcome of one tool execution.
type Result struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output"`
	Error   string         `json:"error,omitempty"`
}

// Executor runs a tool spec against resolved parameters.
type Executor interface {
	Execute(ctx context.Context, spec *ToolSpec, params map[string]any) (*Result, error)
}

// Registry holds tool specs keyed by id. Read-only during a run.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*ToolSpec
	executor Executor
	logger   Logger
}

// NewRegistry creates a tool registry backed by the given executor.
func NewRegistry(executor Executor, logger Logger) *Registry {
	return &Registry{
		tools:    make(map[string]*ToolSpec),
		executor: executor,
		logger:   logger,
	}
}

// Register adds or replaces a tool spec.
func (r *Registry) Register(toolID string, spec *ToolSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolID] = spec
}

// GetTool returns the spec for a tool id, or nil when unknown.
func (r *Registry) GetTool(toolID string) *ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[toolID]
}

// ExecuteTool looks up and runs a tool. Unknown ids fail with ToolNotFound.
func (r *Registry) ExecuteTool(ctx context.Context, toolID string, params map[string]any) (*Result, error) {
	spec := r.GetTool(toolID)
	if spec == nil {
		return nil, execution.NewError(execution.KindToolNotFound, "tool %q is not registered", toolID)
	}
	return r.executor.Execute(ctx, spec, params)
}
