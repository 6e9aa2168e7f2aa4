package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/simstudio/runner/cmd/runner/blocks"
	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/path"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/resolver"
	"github.com/simstudio/runner/cmd/runner/sandbox"
	"github.com/simstudio/runner/cmd/runner/security"
	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/cmd/runner/streaming"
	"github.com/simstudio/runner/cmd/runner/subflow"
	"github.com/simstudio/runner/cmd/runner/tools"
	"github.com/simstudio/runner/common/config"
	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/ratelimit"
	"github.com/simstudio/runner/common/redis"
	"github.com/simstudio/runner/common/repository"
)

// Opts bundles the long-lived collaborators an Executor needs.
type Opts struct {
	Workflows *repository.WorkflowRepository
	EnvVars   *repository.EnvVarRepository
	Logs      *repository.ExecutionLogRepository
	Redis     *redis.Client
	Providers *providers.Registry
	Tools     *tools.Registry
	Sandbox   *sandbox.Sandbox
	Evaluator *condition.Evaluator
	Config    *config.Config
	Logger    *logger.Logger
}

// Executor drives workflow runs: it loads and serializes the workflow,
// builds the per-run engine, runs the dispatch loop, and persists the
// execution log.
type Executor struct {
	workflows *repository.WorkflowRepository
	envvars   *repository.EnvVarRepository
	logs      *repository.ExecutionLogRepository
	events    *EventPublisher
	providers *providers.Registry
	tools     *tools.Registry
	sandbox   *sandbox.Sandbox
	evaluator *condition.Evaluator
	validator *security.URLValidator
	cfg       *config.Config
	log       *logger.Logger
}

// New creates an executor.
func New(opts Opts) *Executor {
	return &Executor{
		workflows: opts.Workflows,
		envvars:   opts.EnvVars,
		logs:      opts.Logs,
		events:    NewEventPublisher(opts.Redis, opts.Logger),
		providers: opts.Providers,
		tools:     opts.Tools,
		sandbox:   opts.Sandbox,
		evaluator: opts.Evaluator,
		validator: security.NewURLValidator(),
		cfg:       opts.Config,
		log:       opts.Logger,
	}
}

// RunRequest describes one execution start.
type RunRequest struct {
	WorkflowID      string
	UserID          string
	Input           any
	Trigger         ratelimit.TriggerType
	SelectedOutputs []string
	Sink            blocks.StreamSink
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	ExecutionID string
	Output      any
	Logs        []*execution.LogEntry
	TraceSpans  []*execution.TraceSpan
	Metrics     execution.Metrics
	StartedAt   time.Time
	EndedAt     time.Time
}

// Run executes a workflow to completion, failure, or cancellation. The
// run result is returned alongside the error so callers can persist and
// surface partial logs on failure.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	record, err := e.workflows.LoadWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	wf, err := serializer.Serialize(record.State)
	if err != nil {
		return nil, execution.WrapError(execution.KindValidationFailed, err, "serialize workflow %s", req.WorkflowID)
	}

	env := map[string]string{}
	if e.envvars != nil && req.UserID != "" {
		env, err = e.envvars.LoadEnvironmentVariables(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
	}

	run := execution.NewContext(wf, execution.Opts{
		ExecutionID:          uuid.NewString(),
		WorkflowID:           req.WorkflowID,
		Trigger:              req.Trigger,
		Input:                req.Input,
		EnvironmentVariables: env,
		SelectedOutputs:      req.SelectedOutputs,
	})

	return e.runContext(ctx, run, req.Sink)
}

// runContext drives an already-built run context. Shared by Run and the
// embedded-workflow path.
func (e *Executor) runContext(ctx context.Context, run *execution.Context, sink blocks.StreamSink) (*RunResult, error) {
	if e.cfg != nil && e.cfg.Execution.MaxRunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Execution.MaxRunDuration)
		defer cancel()
	}

	eng := e.newEngine(run.Workflow, sink)

	log := e.log.WithExecutionID(run.ExecutionID).WithWorkflowID(run.WorkflowID)
	log.Info("run starting", "trigger", string(run.Trigger))
	e.events.RunStarted(ctx, run)

	starter := run.Workflow.Starter()
	run.Activate(starter.ID)

	runErr := eng.dispatch(ctx, run)
	run.EndedAt = time.Now()

	result := &RunResult{
		ExecutionID: run.ExecutionID,
		Output:      e.terminalOutput(run),
		Logs:        run.BlockLogs,
		TraceSpans:  run.TraceSpans,
		Metrics:     run.Metrics,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
	}

	if runErr != nil {
		runErr = classifyTermination(ctx, runErr)
		log.Error("run failed", "error", runErr, "blocks", run.Metrics.BlockCount)
		e.events.RunFailed(ctx, run, runErr)
	} else {
		log.Info("run complete",
			"blocks", run.Metrics.BlockCount,
			"duration_ms", run.Duration().Milliseconds(),
		)
		e.events.RunCompleted(ctx, run)
	}

	e.persistLogs(run, runErr)
	return result, runErr
}

// RunEmbedded executes another workflow inline for a workflow block. The
// child run shares the parent's trigger, environment, and cycle stack.
func (e *Executor) RunEmbedded(ctx context.Context, workflowID string, input any, parent *execution.Context) (any, error) {
	if e.cfg != nil && len(parent.WorkflowStack) > e.cfg.Execution.MaxSubflowDepth {
		return nil, execution.NewError(execution.KindValidationFailed,
			"embedded workflow depth exceeds %d", e.cfg.Execution.MaxSubflowDepth)
	}

	record, err := e.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf, err := serializer.Serialize(record.State)
	if err != nil {
		return nil, execution.WrapError(execution.KindValidationFailed, err, "serialize workflow %s", workflowID)
	}

	child := execution.NewContext(wf, execution.Opts{
		WorkflowID:           workflowID,
		Trigger:              parent.Trigger,
		Input:                input,
		EnvironmentVariables: parent.EnvironmentVariables,
		WorkflowStack:        parent.WorkflowStack,
	})

	result, err := e.runContext(ctx, child, nil)
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// terminalOutput picks the run's final value: a response block's value
// when one terminated the run, otherwise the output of the last block
// executed.
func (e *Executor) terminalOutput(run *execution.Context) any {
	if run.Terminated {
		return run.TerminalOutput
	}
	for i := len(run.BlockLogs) - 1; i >= 0; i-- {
		if run.BlockLogs[i].Success {
			return run.BlockLogs[i].Output
		}
	}
	return nil
}

func (e *Executor) persistLogs(run *execution.Context, runErr error) {
	if e.logs == nil {
		return
	}

	level := "info"
	if runErr != nil {
		level = "error"
	}
	spans, err := json.Marshal(run.TraceSpans)
	if err != nil {
		spans = nil
	}

	// Persistence happens on a fresh context: a cancelled run still gets
	// its logs written.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &repository.ExecutionLogRecord{
		ExecutionID:     run.ExecutionID,
		WorkflowID:      run.WorkflowID,
		Level:           level,
		Trigger:         string(run.Trigger),
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
		TotalDurationMS: run.EndedAt.Sub(run.StartedAt).Milliseconds(),
		BlockCount:      run.Metrics.BlockCount,
		SuccessCount:    run.Metrics.SuccessCount,
		ErrorCount:      run.Metrics.ErrorCount,
		SkippedCount:    run.Metrics.SkippedCount,
		TotalCost:       run.Metrics.TotalCost,
		TotalTokens:     run.Metrics.TotalTokens,
		TraceSpans:      spans,
	}
	if err := e.logs.SaveExecutionLogs(persistCtx, rec); err != nil {
		e.log.Error("failed to persist execution logs", "execution_id", run.ExecutionID, "error", err)
	}
}

// classifyTermination maps context errors onto the engine taxonomy.
func classifyTermination(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return execution.WrapError(execution.KindDeadlineExceeded, err, "run deadline exceeded")
	case errors.Is(ctx.Err(), context.Canceled):
		return execution.WrapError(execution.KindCancelled, err, "run cancelled")
	default:
		return err
	}
}

// newEngine assembles the per-run machinery: the tracker and resolver are
// bound to one workflow graph, and the handler registry wires them into
// the block handlers.
func (e *Executor) newEngine(wf *serializer.Workflow, sink blocks.StreamSink) *engine {
	tracker := path.NewTracker(wf, e.log)
	res := resolver.NewResolver(wf, e.log)
	processor := streaming.NewProcessor(e.log)

	eng := &engine{
		exec:     e,
		wf:       wf,
		tracker:  tracker,
		resolver: res,
	}

	registry := blocks.NewRegistry()
	registry.Register(blocks.NewStarterHandler())
	registry.Register(blocks.NewAgentHandler(e.providers, processor, sink, e.log))
	registry.Register(blocks.NewAPIHandler(e.tools, e.validator, e.log))
	registry.Register(blocks.NewFunctionHandler(e.sandbox))
	registry.Register(blocks.NewRouterHandler(e.providers, e.log))
	registry.Register(blocks.NewConditionHandler(e.evaluator, e.log))
	registry.Register(blocks.NewEvaluatorHandler(e.providers, e.log))
	registry.Register(blocks.NewResponseHandler())
	registry.Register(blocks.NewWorkflowHandler(e, e.log))
	registry.Register(subflow.NewLoopHandler(tracker, res, e.evaluator, e.log))
	registry.Register(subflow.NewParallelHandler(tracker, res, eng, e.maxParallelism(), e.log))

	eng.registry = registry
	return eng
}

func (e *Executor) maxParallelism() int {
	if e.cfg == nil {
		return 0
	}
	return e.cfg.Execution.MaxParallelism
}
