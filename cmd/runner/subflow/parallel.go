package subflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/path"
	"github.com/simstudio/runner/cmd/runner/resolver"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// BranchExecutor runs one branch's dispatch loop to quiescence. Implemented
// by the executor and injected here to keep the dependency one-directional.
type BranchExecutor interface {
	ExecuteBranch(ctx context.Context, branch *execution.Context) error
}

// ParallelHandler fans a parallel container out into concurrent branches
// and joins them. The join waits for every branch; any branch failure
// fails the parallel with an aggregate of all branch errors.
type ParallelHandler struct {
	tracker        *path.Tracker
	resolver       *resolver.Resolver
	branches       BranchExecutor
	maxParallelism int
	logger         Logger
}

// NewParallelHandler creates a parallel manager. maxParallelism caps the
// number of branches running at once; zero means no cap.
func NewParallelHandler(tracker *path.Tracker, res *resolver.Resolver, branches BranchExecutor, maxParallelism int, logger Logger) *ParallelHandler {
	return &ParallelHandler{
		tracker:        tracker,
		resolver:       res,
		branches:       branches,
		maxParallelism: maxParallelism,
		logger:         logger,
	}
}

func (h *ParallelHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindParallel
}

func (h *ParallelHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, _ map[string]any) (any, error) {
	parallel := run.Workflow.Parallels[block.ID]
	if parallel == nil {
		return nil, execution.NewError(execution.KindValidationFailed,
			"parallel block has no parallel definition").WithBlock(block.ID, block.Name)
	}

	items, err := h.branchItems(run, block, parallel)
	if err != nil {
		return nil, err
	}

	branchCount := len(items)
	if branchCount == 0 {
		// Zero branches complete immediately with an empty aggregate.
		run.CompletedParallels[parallel.ID] = true
		h.tracker.ActivateScaffold(run, block.ID, serializer.HandleParallelEnd)
		return &execution.ParallelTick{Aggregated: []any{}, Completed: true}, nil
	}

	starts := h.tracker.ScaffoldTargets(block.ID, serializer.HandleParallelStart)
	if len(starts) == 0 {
		return nil, execution.NewError(execution.KindValidationFailed,
			"parallel block has no start scaffold").WithBlock(block.ID, block.Name)
	}

	type branchResult struct {
		index  int
		branch *execution.Context
		output any
		err    error
	}

	results := make([]branchResult, branchCount)

	var sem chan struct{}
	if h.maxParallelism > 0 {
		sem = make(chan struct{}, h.maxParallelism)
	}

	var wg sync.WaitGroup
	for i := 0; i < branchCount; i++ {
		wg.Add(1)
		go func(index int, item any) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			branch := run.CloneForBranch(parallel.ID, index, item, parallel.Nodes)
			for _, id := range starts {
				branch.Activate(id)
			}

			err := h.branches.ExecuteBranch(ctx, branch)
			results[index] = branchResult{
				index:  index,
				branch: branch,
				output: h.branchOutput(branch, parallel),
				err:    err,
			}
		}(i, items[i])
	}
	wg.Wait()

	// Single-writer join: merge everything back on the driving goroutine.
	aggregated := make([]any, branchCount)
	var branchErrors []error
	for _, r := range results {
		run.MergeBranch(r.branch)
		aggregated[r.index] = r.output
		if r.err != nil {
			branchErrors = append(branchErrors, fmt.Errorf("branch %d: %w", r.index, r.err))
		}
	}

	if len(branchErrors) > 0 {
		return nil, execution.NewAggregate(branchErrors).WithBlock(block.ID, block.Name)
	}

	run.CompletedParallels[parallel.ID] = true
	h.tracker.ActivateScaffold(run, block.ID, serializer.HandleParallelEnd)

	return &execution.ParallelTick{Aggregated: aggregated, Completed: true}, nil
}

// branchItems determines the branch count and per-branch items. Count
// parallels get nil items; collection parallels distribute the resolved
// collection, one element per branch.
func (h *ParallelHandler) branchItems(run *execution.Context, block *serializer.Block, parallel *serializer.ParallelDef) ([]any, error) {
	switch parallel.ParallelType {
	case serializer.ParallelTypeCollection:
		resolved, err := h.resolver.Resolve(run, block, parallel.Distribution)
		if err != nil {
			return nil, fmt.Errorf("resolve parallel distribution: %w", err)
		}
		switch v := resolved.(type) {
		case []any:
			return v, nil
		case map[string]any:
			items := make([]any, 0, len(v))
			for _, key := range sortedKeys(v) {
				items = append(items, []any{key, v[key]})
			}
			return items, nil
		case nil:
			return nil, execution.NewError(execution.KindValidationFailed,
				"parallel distribution resolved to nothing").WithBlock(block.ID, block.Name)
		default:
			return nil, execution.NewError(execution.KindValidationFailed,
				"parallel distribution must be an array or object, got %T", resolved).
				WithBlock(block.ID, block.Name)
		}
	default:
		items := make([]any, parallel.Count)
		for i := range items {
			items[i] = i
		}
		return items, nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// branchOutput extracts one branch's terminal outputs: the states of inner
// blocks wired back into the container's join.
func (h *ParallelHandler) branchOutput(branch *execution.Context, parallel *serializer.ParallelDef) any {
	inner := make(map[string]bool, len(parallel.Nodes))
	for _, n := range parallel.Nodes {
		inner[n] = true
	}

	var terminals []string
	for _, conn := range branch.Workflow.Incoming(parallel.ID) {
		if inner[conn.Source] {
			terminals = append(terminals, conn.Source)
		}
	}

	switch len(terminals) {
	case 0:
		return nil
	case 1:
		state, _ := branch.BlockState(terminals[0])
		return state
	default:
		combined := make(map[string]any, len(terminals))
		for _, id := range terminals {
			if state, ok := branch.BlockState(id); ok {
				combined[id] = state
			}
		}
		return combined
	}
}
