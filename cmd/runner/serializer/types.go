package serializer

// BlockKind identifies the handler family for a block.
type BlockKind string

const (
	KindStarter   BlockKind = "starter"
	KindAgent     BlockKind = "agent"
	KindAPI       BlockKind = "api"
	KindFunction  BlockKind = "function"
	KindRouter    BlockKind = "router"
	KindCondition BlockKind = "condition"
	KindEvaluator BlockKind = "evaluator"
	KindResponse  BlockKind = "response"
	KindLoop      BlockKind = "loop"
	KindParallel  BlockKind = "parallel"
	KindWorkflow  BlockKind = "workflow"
)

// knownKinds is the closed set of kinds the engine dispatches on.
var knownKinds = map[BlockKind]bool{
	KindStarter:   true,
	KindAgent:     true,
	KindAPI:       true,
	KindFunction:  true,
	KindRouter:    true,
	KindCondition: true,
	KindEvaluator: true,
	KindResponse:  true,
	KindLoop:      true,
	KindParallel:  true,
	KindWorkflow:  true,
}

// Position is carried for logging only; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BlockConfig holds the tool binding and raw parameters of a block.
// Params may contain unresolved template references.
type BlockConfig struct {
	Tool   string         `json:"tool,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Block is a node in the execution graph.
type Block struct {
	ID       string            `json:"id"`
	Kind     BlockKind         `json:"kind"`
	Name     string            `json:"name"`
	Position Position          `json:"position"`
	Config   BlockConfig       `json:"config"`
	Inputs   map[string]string `json:"inputs,omitempty"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
	Enabled  bool              `json:"enabled"`
}

// Source handles that carry subflow scaffolding or branch selection.
const (
	HandleLoopStart       = "loop-start-source"
	HandleLoopEnd         = "loop-end-source"
	HandleParallelStart   = "parallel-start-source"
	HandleParallelEnd     = "parallel-end-source"
	ConditionHandlePrefix = "condition-"
)

// Connection is a directed edge between two blocks.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Loop types.
const (
	LoopTypeFor     = "for"
	LoopTypeForEach = "forEach"
	LoopTypeWhile   = "while"
)

// LoopDef describes an iterative subflow.
type LoopDef struct {
	ID           string   `json:"id"`
	Nodes        []string `json:"nodes"`
	Iterations   int      `json:"iterations"`
	LoopType     string   `json:"loopType"`
	ForEachItems any      `json:"forEachItems,omitempty"`
	Condition    string   `json:"condition,omitempty"`
}

// Parallel types.
const (
	ParallelTypeCount      = "count"
	ParallelTypeCollection = "collection"
)

// ParallelDef describes a fan-out subflow.
type ParallelDef struct {
	ID           string   `json:"id"`
	Nodes        []string `json:"nodes"`
	ParallelType string   `json:"parallelType"`
	Count        int      `json:"count"`
	Distribution any      `json:"distribution,omitempty"`
}

// Workflow is the immutable execution graph produced by Serialize.
type Workflow struct {
	Version     string                  `json:"version"`
	Blocks      map[string]*Block       `json:"blocks"`
	Connections []Connection            `json:"connections"`
	Loops       map[string]*LoopDef     `json:"loops"`
	Parallels   map[string]*ParallelDef `json:"parallels"`

	// BlockOrder lists block ids sorted lexicographically. Iteration over
	// Blocks goes through this slice so runs are deterministic.
	BlockOrder []string `json:"-"`

	outgoing map[string][]Connection
	incoming map[string][]Connection
	memberOf map[string]string // block id -> enclosing subflow id
}

// Block returns the block with the given id, or nil.
func (w *Workflow) Block(id string) *Block {
	return w.Blocks[id]
}

// Outgoing returns the edges leaving a block, in declaration order.
func (w *Workflow) Outgoing(blockID string) []Connection {
	return w.outgoing[blockID]
}

// Incoming returns the edges entering a block, in declaration order.
func (w *Workflow) Incoming(blockID string) []Connection {
	return w.incoming[blockID]
}

// SubflowFor returns the id of the loop or parallel enclosing a block,
// or "" when the block sits at the top level.
func (w *Workflow) SubflowFor(blockID string) string {
	return w.memberOf[blockID]
}

// LoopFor returns the loop definition enclosing a block, if any.
func (w *Workflow) LoopFor(blockID string) *LoopDef {
	if s := w.memberOf[blockID]; s != "" {
		return w.Loops[s]
	}
	return nil
}

// ParallelFor returns the parallel definition enclosing a block, if any.
func (w *Workflow) ParallelFor(blockID string) *ParallelDef {
	if s := w.memberOf[blockID]; s != "" {
		return w.Parallels[s]
	}
	return nil
}

// Starter returns the workflow's starter block.
func (w *Workflow) Starter() *Block {
	for _, id := range w.BlockOrder {
		if w.Blocks[id].Kind == KindStarter {
			return w.Blocks[id]
		}
	}
	return nil
}
