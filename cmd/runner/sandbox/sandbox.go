package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Sandbox executes untrusted function-block code in an isolated JS
// runtime. Each execution gets a fresh VM; nothing leaks between blocks.
type Sandbox struct {
	timeout time.Duration
	logger  Logger
}

// New creates a sandbox with the given per-execution timeout.
func New(timeout time.Duration, logger Logger) *Sandbox {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sandbox{timeout: timeout, logger: logger}
}

// Execute runs the code with `input` bound as a global and returns the
// script's completion value. The VM is interrupted on timeout or when ctx
// is cancelled; sandbox errors surface verbatim.
func (s *Sandbox) Execute(ctx context.Context, code string, input any) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("bind sandbox input: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt(execCtx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunString(wrap(code))
	close(done)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("sandbox timed out after %s", s.timeout)
		}
		return nil, err
	}

	exported := value.Export()
	if s.logger != nil {
		s.logger.Debug("sandbox execution finished", "result_type", fmt.Sprintf("%T", exported))
	}
	return exported, nil
}

// wrap turns block code into an IIFE so `return` works at the top level.
func wrap(code string) string {
	return "(function() {\n" + code + "\n})()"
}
