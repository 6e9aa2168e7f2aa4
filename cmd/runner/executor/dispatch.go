package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/simstudio/runner/cmd/runner/blocks"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/path"
	"github.com/simstudio/runner/cmd/runner/resolver"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// engine is the per-run machinery: one workflow graph, its tracker and
// resolver, and the handler registry wired against them.
type engine struct {
	exec     *Executor
	wf       *serializer.Workflow
	tracker  *path.Tracker
	resolver *resolver.Resolver
	registry *blocks.Registry
}

// dispatch advances the active frontier until the run terminates, the
// frontier quiesces, or a block fails. Blocks within one context run
// strictly sequentially; concurrency happens only at parallel fan-out.
func (eng *engine) dispatch(ctx context.Context, run *execution.Context) error {
	for {
		if run.Terminated {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var eligible []string
		for _, id := range run.ActiveBlocks() {
			if eng.tracker.IsEligible(run, id) {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) == 0 {
			return nil
		}

		for _, id := range eligible {
			if run.Terminated {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := eng.executeBlock(ctx, run, id); err != nil {
				return err
			}
		}
	}
}

// ExecuteBranch runs a parallel branch's dispatch loop to quiescence.
func (eng *engine) ExecuteBranch(ctx context.Context, branch *execution.Context) error {
	return eng.dispatch(ctx, branch)
}

func (eng *engine) executeBlock(ctx context.Context, run *execution.Context, blockID string) error {
	block := eng.wf.Block(blockID)
	run.Deactivate(blockID)

	// Inside a branch, the enclosing container re-activates through join
	// edges; only the parent context may run it.
	if run.BranchOf != "" && blockID == run.BranchOf {
		return nil
	}

	// Disabled blocks are structurally present but skipped: consumers see
	// a pass-through null output.
	if !block.Enabled {
		run.SetBlockState(blockID, nil)
		run.MarkExecuted(blockID)
		run.Metrics.SkippedCount++
		eng.tracker.UpdatePaths(run, blockID)
		return nil
	}

	inputs, err := eng.resolver.ResolveParams(run, block)
	if err != nil {
		return eng.recordFailure(ctx, run, block, time.Now(), nil, err)
	}

	handler, err := eng.registry.HandlerFor(block)
	if err != nil {
		return eng.recordFailure(ctx, run, block, time.Now(), nil, err)
	}

	started := time.Now()
	span := execution.NewSpan(block.ID, block.Name, string(block.Kind), inputs)

	output, err := handler.Execute(ctx, run, block, inputs)
	if err != nil {
		span.End("error", nil)
		run.AddSpan(span)
		return eng.recordFailure(ctx, run, block, started, span, err)
	}

	span.End("success", output)
	run.AddSpan(span)

	run.SetBlockState(blockID, output)
	run.MarkExecuted(blockID)
	run.Metrics.BlockCount++
	run.Metrics.SuccessCount++

	ended := time.Now()
	run.AppendLog(&execution.LogEntry{
		ID:         uuid.NewString(),
		BlockID:    block.ID,
		BlockName:  block.Name,
		BlockType:  string(block.Kind),
		StartedAt:  started,
		EndedAt:    ended,
		DurationMS: ended.Sub(started).Milliseconds(),
		Success:    true,
		Output:     output,
	})

	eng.exec.events.BlockExecuted(ctx, run, block, true)
	eng.tracker.UpdatePaths(run, blockID)
	return nil
}

// recordFailure attaches block identity to the error, writes the failure
// log entry, and hands the error to the caller. Inside a parallel branch
// the error travels up to the join; otherwise it terminates the run.
func (eng *engine) recordFailure(ctx context.Context, run *execution.Context, block *serializer.Block, started time.Time, span *execution.TraceSpan, err error) error {
	var engErr *execution.Error
	if errors.As(err, &engErr) {
		engErr.WithBlock(block.ID, block.Name)
	} else {
		err = execution.WrapError(execution.KindProviderError, err, "block execution failed").
			WithBlock(block.ID, block.Name)
	}

	run.Metrics.BlockCount++
	run.Metrics.ErrorCount++

	ended := time.Now()
	run.AppendLog(&execution.LogEntry{
		ID:         uuid.NewString(),
		BlockID:    block.ID,
		BlockName:  block.Name,
		BlockType:  string(block.Kind),
		StartedAt:  started,
		EndedAt:    ended,
		DurationMS: ended.Sub(started).Milliseconds(),
		Success:    false,
		Error:      err.Error(),
	})

	eng.exec.events.BlockExecuted(ctx, run, block, false)
	return err
}
