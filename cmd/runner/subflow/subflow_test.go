package subflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/path"
	"github.com/simstudio/runner/cmd/runner/resolver"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

func buildWorkflow(t *testing.T, state string) *serializer.Workflow {
	t.Helper()
	wf, err := serializer.Serialize([]byte(state))
	if err != nil {
		t.Fatalf("build workflow: %v", err)
	}
	return wf
}

func newRun(wf *serializer.Workflow) *execution.Context {
	return execution.NewContext(wf, execution.Opts{ExecutionID: "exec-1"})
}

func newLoopHandler(wf *serializer.Workflow) *LoopHandler {
	return NewLoopHandler(
		path.NewTracker(wf, nil),
		resolver.NewResolver(wf, nil),
		condition.NewEvaluator(),
		nil,
	)
}

func loopWorkflow(t *testing.T, loopDef string) *serializer.Workflow {
	return buildWorkflow(t, fmt.Sprintf(`{
		"blocks": {
			"start": {"kind": "starter", "enabled": true},
			"loop1": {"kind": "loop", "enabled": true},
			"inner": {"kind": "function", "enabled": true},
			"after": {"kind": "function", "enabled": true}
		},
		"connections": [
			{"source": "start", "target": "loop1"},
			{"source": "loop1", "target": "inner", "sourceHandle": "loop-start-source"},
			{"source": "inner", "target": "loop1"},
			{"source": "loop1", "target": "after", "sourceHandle": "loop-end-source"}
		],
		"loops": {"loop1": %s}
	}`, loopDef))
}

func TestLoop_ForIteratesAndCompletes(t *testing.T) {
	wf := loopWorkflow(t, `{"nodes": ["inner"], "loopType": "for", "iterations": 2}`)
	h := newLoopHandler(wf)
	run := newRun(wf)
	block := wf.Block("loop1")

	// First tick activates the inner subgraph with index 0.
	out, err := h.Execute(context.Background(), run, block, nil)
	if err != nil {
		t.Fatalf("tick 1 failed: %v", err)
	}
	tick := out.(*execution.LoopTick)
	if tick.Completed || tick.CurrentIteration != 0 || tick.MaxIterations != 2 {
		t.Fatalf("tick 1 = %+v", tick)
	}
	if !run.IsActive("inner") {
		t.Errorf("inner node not activated")
	}
	if run.LoopItems["loop1"] != 0 {
		t.Errorf("for loop item = %v, want index 0", run.LoopItems["loop1"])
	}

	// Simulate the iteration finishing.
	run.Deactivate("inner")
	run.SetBlockState("inner", map[string]any{"n": 1})
	run.MarkExecuted("inner")

	out, err = h.Execute(context.Background(), run, block, nil)
	if err != nil {
		t.Fatalf("tick 2 failed: %v", err)
	}
	if out.(*execution.LoopTick).Completed {
		t.Fatalf("loop completed after one of two iterations")
	}
	if _, ok := run.BlockState("inner"); ok {
		t.Errorf("inner state not reset between iterations")
	}
	if len(run.LoopResults["loop1"]) != 1 {
		t.Errorf("iteration result not collected: %v", run.LoopResults["loop1"])
	}

	run.Deactivate("inner")
	run.SetBlockState("inner", map[string]any{"n": 2})
	run.MarkExecuted("inner")

	out, err = h.Execute(context.Background(), run, block, nil)
	if err != nil {
		t.Fatalf("tick 3 failed: %v", err)
	}
	tick = out.(*execution.LoopTick)
	if !tick.Completed {
		t.Fatalf("loop not completed: %+v", tick)
	}
	if !run.CompletedLoops["loop1"] {
		t.Errorf("loop not marked completed")
	}
	if !run.IsActive("after") {
		t.Errorf("end scaffold target not activated")
	}
	if _, ok := run.LoopItems["loop1"]; ok {
		t.Errorf("loop item not cleared on completion")
	}
	if len(run.LoopResults["loop1"]) != 2 {
		t.Errorf("results = %v, want 2 entries", run.LoopResults["loop1"])
	}
}

func TestLoop_ForEachObjectYieldsSortedPairs(t *testing.T) {
	wf := loopWorkflow(t, `{
		"nodes": ["inner"], "loopType": "forEach",
		"forEachItems": {"b": 2, "a": 1}
	}`)
	h := newLoopHandler(wf)
	run := newRun(wf)
	block := wf.Block("loop1")

	out, err := h.Execute(context.Background(), run, block, nil)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if out.(*execution.LoopTick).MaxIterations != 2 {
		t.Fatalf("forEach bound = %+v", out)
	}

	pair := run.LoopItems["loop1"].([]any)
	if pair[0] != "a" || pair[1] != float64(1) {
		t.Errorf("first pair = %v, want [a 1]", pair)
	}
}

func TestLoop_ForEachCollectionErrors(t *testing.T) {
	tests := []struct {
		name string
		def  string
		kind execution.Kind
	}{
		{"missing collection", `{"nodes": ["inner"], "loopType": "forEach"}`, execution.KindForEachMissingCollection},
		{"empty collection", `{"nodes": ["inner"], "loopType": "forEach", "forEachItems": []}`, execution.KindForEachEmpty},
		{"scalar collection", `{"nodes": ["inner"], "loopType": "forEach", "forEachItems": 5}`, execution.KindForEachMissingCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := loopWorkflow(t, tt.def)
			h := newLoopHandler(wf)
			run := newRun(wf)

			_, err := h.Execute(context.Background(), run, wf.Block("loop1"), nil)
			if execution.KindOf(err) != tt.kind {
				t.Errorf("error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestLoop_WhileStopsWhenConditionFalsifies(t *testing.T) {
	wf := loopWorkflow(t, `{
		"nodes": ["inner"], "loopType": "while",
		"condition": "loop.index < 2"
	}`)
	h := newLoopHandler(wf)
	run := newRun(wf)
	block := wf.Block("loop1")

	for i := 0; i < 2; i++ {
		out, err := h.Execute(context.Background(), run, block, nil)
		if err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		if out.(*execution.LoopTick).Completed {
			t.Fatalf("while loop completed early at tick %d", i)
		}
		run.Deactivate("inner")
		run.SetBlockState("inner", i)
		run.MarkExecuted("inner")
	}

	out, err := h.Execute(context.Background(), run, block, nil)
	if err != nil {
		t.Fatalf("final tick failed: %v", err)
	}
	if !out.(*execution.LoopTick).Completed {
		t.Errorf("while loop did not stop when the condition falsified")
	}
}

// fakeBranchExecutor stands in for the dispatch loop: it records the state
// of the branch's inner block from its parallel scope.
type fakeBranchExecutor struct {
	parallelID string
	node       string
	failOn     map[int]error
}

func (f *fakeBranchExecutor) ExecuteBranch(_ context.Context, branch *execution.Context) error {
	index := branch.ParallelIndex[f.parallelID]
	if err, ok := f.failOn[index]; ok {
		return err
	}
	branch.SetBlockState(f.node, map[string]any{
		"index": index,
		"item":  branch.ParallelItems[f.parallelID],
	})
	branch.MarkExecuted(f.node)
	branch.Metrics.BlockCount++
	branch.Metrics.SuccessCount++
	return nil
}

func parallelWorkflow(t *testing.T, parallelDef string) *serializer.Workflow {
	return buildWorkflow(t, fmt.Sprintf(`{
		"blocks": {
			"start": {"kind": "starter", "enabled": true},
			"par1":  {"kind": "parallel", "enabled": true},
			"inner": {"kind": "function", "enabled": true},
			"after": {"kind": "function", "enabled": true}
		},
		"connections": [
			{"source": "start", "target": "par1"},
			{"source": "par1", "target": "inner", "sourceHandle": "parallel-start-source"},
			{"source": "inner", "target": "par1"},
			{"source": "par1", "target": "after", "sourceHandle": "parallel-end-source"}
		],
		"parallels": {"par1": %s}
	}`, parallelDef))
}

func newParallelHandler(wf *serializer.Workflow, branches BranchExecutor) *ParallelHandler {
	return NewParallelHandler(
		path.NewTracker(wf, nil),
		resolver.NewResolver(wf, nil),
		branches,
		4,
		nil,
	)
}

func TestParallel_CountFanOutAggregatesInOrder(t *testing.T) {
	wf := parallelWorkflow(t, `{"nodes": ["inner"], "parallelType": "count", "count": 3}`)
	h := newParallelHandler(wf, &fakeBranchExecutor{parallelID: "par1", node: "inner"})
	run := newRun(wf)

	out, err := h.Execute(context.Background(), run, wf.Block("par1"), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	tick := out.(*execution.ParallelTick)
	if !tick.Completed || len(tick.Aggregated) != 3 {
		t.Fatalf("tick = %+v", tick)
	}
	for i, v := range tick.Aggregated {
		state := v.(map[string]any)
		if state["index"] != i {
			t.Errorf("aggregate[%d] has index %v; branch order lost", i, state["index"])
		}
	}
	if !run.CompletedParallels["par1"] {
		t.Errorf("parallel not marked completed")
	}
	if !run.IsActive("after") {
		t.Errorf("end scaffold target not activated")
	}
	if run.Metrics.BlockCount != 3 {
		t.Errorf("branch metrics not merged: %+v", run.Metrics)
	}
}

func TestParallel_CollectionDistribution(t *testing.T) {
	wf := parallelWorkflow(t, `{
		"nodes": ["inner"], "parallelType": "collection",
		"distribution": ["x", "y"]
	}`)
	h := newParallelHandler(wf, &fakeBranchExecutor{parallelID: "par1", node: "inner"})
	run := newRun(wf)

	out, err := h.Execute(context.Background(), run, wf.Block("par1"), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	tick := out.(*execution.ParallelTick)
	if len(tick.Aggregated) != 2 {
		t.Fatalf("aggregated = %v", tick.Aggregated)
	}
	if tick.Aggregated[0].(map[string]any)["item"] != "x" {
		t.Errorf("branch 0 item = %v, want x", tick.Aggregated[0])
	}
	if tick.Aggregated[1].(map[string]any)["item"] != "y" {
		t.Errorf("branch 1 item = %v, want y", tick.Aggregated[1])
	}
}

func TestParallel_ZeroBranchesCompletesImmediately(t *testing.T) {
	wf := parallelWorkflow(t, `{"nodes": ["inner"], "parallelType": "count", "count": 0}`)
	h := newParallelHandler(wf, &fakeBranchExecutor{parallelID: "par1", node: "inner"})
	run := newRun(wf)

	out, err := h.Execute(context.Background(), run, wf.Block("par1"), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	tick := out.(*execution.ParallelTick)
	if !tick.Completed || len(tick.Aggregated) != 0 {
		t.Errorf("tick = %+v, want completed with empty aggregate", tick)
	}
	if !run.IsActive("after") {
		t.Errorf("end scaffold not activated for empty parallel")
	}
}

func TestParallel_BranchFailuresAggregate(t *testing.T) {
	wf := parallelWorkflow(t, `{"nodes": ["inner"], "parallelType": "count", "count": 3}`)
	h := newParallelHandler(wf, &fakeBranchExecutor{
		parallelID: "par1",
		node:       "inner",
		failOn: map[int]error{
			0: errors.New("branch zero boom"),
			2: errors.New("branch two boom"),
		},
	})
	run := newRun(wf)

	_, err := h.Execute(context.Background(), run, wf.Block("par1"), nil)
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	if execution.KindOf(err) != execution.KindAggregate {
		t.Errorf("error kind = %v", execution.KindOf(err))
	}

	var agg *execution.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("not an aggregate error: %T", err)
	}
	if len(agg.Errors) != 2 {
		t.Errorf("aggregate holds %d errors, want 2", len(agg.Errors))
	}
	if run.CompletedParallels["par1"] {
		t.Errorf("failed parallel marked completed")
	}
	if run.IsActive("after") {
		t.Errorf("end scaffold activated despite failure")
	}
}

func TestParallel_BranchStatesStayIsolated(t *testing.T) {
	wf := parallelWorkflow(t, `{"nodes": ["inner"], "parallelType": "count", "count": 2}`)
	h := newParallelHandler(wf, &fakeBranchExecutor{parallelID: "par1", node: "inner"})
	run := newRun(wf)
	run.SetBlockState("start", map[string]any{"seed": true})

	if _, err := h.Execute(context.Background(), run, wf.Block("par1"), nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The parent's view of the inner node must not hold any single
	// branch's state after the join.
	if _, ok := run.BlockState("inner"); ok {
		t.Errorf("branch-local state leaked into the parent context")
	}
}
