package blocks

import (
	"context"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// Logger interface for logging.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Handler executes one family of block kinds. Handlers are stateless; all
// mutation goes through the run context.
type Handler interface {
	CanHandle(block *serializer.Block) bool
	Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error)
}

// Registry dispatches blocks to their handlers. Registration order decides
// lookup order; the registry is read-only during a run.
type Registry struct {
	handlers []Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a handler.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// HandlerFor returns the handler for a block, or UnknownBlockKind.
func (r *Registry) HandlerFor(block *serializer.Block) (Handler, error) {
	for _, h := range r.handlers {
		if h.CanHandle(block) {
			return h, nil
		}
	}
	return nil, execution.NewError(execution.KindUnknownBlockKind,
		"no handler for block kind %q", block.Kind).WithBlock(block.ID, block.Name)
}
