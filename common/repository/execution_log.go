package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionLogRecord is the persisted summary of one workflow run.
// TraceSpans carries the per-block span tree produced by the executor.
type ExecutionLogRecord struct {
	ExecutionID     string          `json:"executionId"`
	WorkflowID      string          `json:"workflowId"`
	Level           string          `json:"level"` // info | error
	Trigger         string          `json:"trigger"`
	StartedAt       time.Time       `json:"startedAt"`
	EndedAt         time.Time       `json:"endedAt"`
	TotalDurationMS int64           `json:"totalDurationMs"`
	BlockCount      int             `json:"blockCount"`
	SuccessCount    int             `json:"successCount"`
	ErrorCount      int             `json:"errorCount"`
	SkippedCount    int             `json:"skippedCount"`
	TotalCost       float64         `json:"totalCost"`
	TotalTokens     int             `json:"totalTokens"`
	TraceSpans      json.RawMessage `json:"traceSpans,omitempty"`
}

// ExecutionLogRepository persists execution summaries.
type ExecutionLogRepository struct {
	db Querier
}

// NewExecutionLogRepository creates an execution log repository.
func NewExecutionLogRepository(db Querier) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// SaveExecutionLogs appends one run's log record. Idempotent by
// execution id: replays of the same record are ignored.
func (r *ExecutionLogRepository) SaveExecutionLogs(ctx context.Context, rec *ExecutionLogRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO execution_logs
		   (execution_id, workflow_id, level, trigger, started_at, ended_at,
		    total_duration_ms, block_count, success_count, error_count,
		    skipped_count, total_cost, total_tokens, trace_spans)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (execution_id) DO NOTHING`,
		rec.ExecutionID, rec.WorkflowID, rec.Level, rec.Trigger,
		rec.StartedAt, rec.EndedAt, rec.TotalDurationMS, rec.BlockCount,
		rec.SuccessCount, rec.ErrorCount, rec.SkippedCount, rec.TotalCost,
		rec.TotalTokens, rec.TraceSpans,
	)
	if err != nil {
		return fmt.Errorf("save execution logs %s: %w", rec.ExecutionID, err)
	}
	return nil
}
