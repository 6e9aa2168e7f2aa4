package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/redis"
)

// execution events channel consumed by the realtime socket sink.
const eventsChannel = "workflow:events"

// EventPublisher emits run lifecycle events to Redis, best effort: a
// publish failure never affects the run.
type EventPublisher struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewEventPublisher creates an event publisher. A nil Redis client
// disables publishing.
func NewEventPublisher(client *redis.Client, log *logger.Logger) *EventPublisher {
	return &EventPublisher{redis: client, log: log}
}

type runEvent struct {
	Event       string    `json:"event"`
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	BlockID     string    `json:"blockId,omitempty"`
	BlockType   string    `json:"blockType,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (p *EventPublisher) publish(ctx context.Context, ev runEvent) {
	if p.redis == nil {
		return
	}
	ev.Timestamp = time.Now()

	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.redis.PublishEvent(ctx, eventsChannel, string(raw)); err != nil {
		p.log.Warn("failed to publish run event", "event", ev.Event, "error", err)
	}
}

// RunStarted announces a new run.
func (p *EventPublisher) RunStarted(ctx context.Context, run *execution.Context) {
	p.publish(ctx, runEvent{
		Event:       "run.started",
		ExecutionID: run.ExecutionID,
		WorkflowID:  run.WorkflowID,
	})
}

// BlockExecuted announces one block completion or failure.
func (p *EventPublisher) BlockExecuted(ctx context.Context, run *execution.Context, block *serializer.Block, success bool) {
	p.publish(ctx, runEvent{
		Event:       "block.executed",
		ExecutionID: run.ExecutionID,
		WorkflowID:  run.WorkflowID,
		BlockID:     block.ID,
		BlockType:   string(block.Kind),
		Success:     &success,
	})
}

// RunCompleted announces a successful run.
func (p *EventPublisher) RunCompleted(ctx context.Context, run *execution.Context) {
	p.publish(ctx, runEvent{
		Event:       "run.completed",
		ExecutionID: run.ExecutionID,
		WorkflowID:  run.WorkflowID,
	})
}

// RunFailed announces a failed run.
func (p *EventPublisher) RunFailed(ctx context.Context, run *execution.Context, err error) {
	p.publish(ctx, runEvent{
		Event:       "run.failed",
		ExecutionID: run.ExecutionID,
		WorkflowID:  run.WorkflowID,
		Error:       err.Error(),
	})
}
