package execution

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is appended for every block completion or failure.
type LogEntry struct {
	ID         string    `json:"id"`
	BlockID    string    `json:"blockId"`
	BlockName  string    `json:"blockName"`
	BlockType  string    `json:"blockType"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	DurationMS int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Output     any       `json:"output,omitempty"`
}

// TraceSpan records one block execution for the persisted trace tree.
// Subflow iterations nest as children of the container's span.
type TraceSpan struct {
	ID        string       `json:"id"`
	BlockID   string       `json:"blockId"`
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Duration  int64        `json:"duration"`
	Status    string       `json:"status"`
	Input     any          `json:"input,omitempty"`
	Output    any          `json:"output,omitempty"`
	Cost      float64      `json:"cost,omitempty"`
	Children  []*TraceSpan `json:"children,omitempty"`
}

// NewSpan starts a trace span for a block.
func NewSpan(blockID, name, blockType string, input any) *TraceSpan {
	return &TraceSpan{
		ID:        uuid.NewString(),
		BlockID:   blockID,
		Name:      name,
		Type:      blockType,
		StartTime: time.Now(),
		Input:     input,
	}
}

// End closes the span with the given status and output.
func (s *TraceSpan) End(status string, output any) {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime).Milliseconds()
	s.Status = status
	s.Output = output
}
