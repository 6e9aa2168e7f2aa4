package execution

// Block outputs are JSON-like values stored in the context's blockStates.
// Plain tool/function/evaluator results stay as map[string]any; control
// blocks use the typed variants below so downstream code can switch on
// the concrete type instead of sniffing map keys.

// AgentResponse is the output of an agent block.
type AgentResponse struct {
	Content   string         `json:"content"`
	Model     string         `json:"model"`
	Tokens    TokenUsage     `json:"tokens"`
	ToolCalls []ToolCall     `json:"toolCalls,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// TokenUsage accounts prompt and completion tokens for one model call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ToolCall records one tool invocation an agent made mid-response.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SelectedPath identifies the downstream block a router chose.
type SelectedPath struct {
	BlockID    string `json:"blockId"`
	BlockType  string `json:"blockType"`
	BlockTitle string `json:"blockTitle"`
}

// RouterDecision is the output of a router block.
type RouterDecision struct {
	Prompt       string       `json:"prompt"`
	Model        string       `json:"model"`
	Tokens       TokenUsage   `json:"tokens"`
	SelectedPath SelectedPath `json:"selectedPath"`
}

// ConditionDecision is the output of a condition block.
type ConditionDecision struct {
	Branch      string `json:"branch"`
	ConditionID string `json:"conditionId"`
}

// LoopTick is the output of a loop block each time it is visited.
type LoopTick struct {
	CurrentIteration int  `json:"currentIteration"`
	MaxIterations    int  `json:"maxIterations"`
	Completed        bool `json:"completed"`
}

// ParallelTick is the output of a parallel block after the join. Aggregated
// results are ordered by branch index.
type ParallelTick struct {
	Aggregated []any `json:"aggregated"`
	Completed  bool  `json:"completed"`
}
