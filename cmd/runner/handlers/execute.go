package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/cmd/runner/blocks"
	"github.com/simstudio/runner/cmd/runner/executor"
	"github.com/simstudio/runner/cmd/runner/middleware"
	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/ratelimit"
)

// ExecuteRequest is the POST /execute body.
type ExecuteRequest struct {
	Input           any      `json:"input"`
	Stream          bool     `json:"stream"`
	SelectedOutputs []string `json:"selectedOutputs"`
}

// ExecuteResponse is the JSON (non-streaming) result shape.
type ExecuteResponse struct {
	ExecutionID string  `json:"executionId"`
	Output      any     `json:"output"`
	DurationMS  int64   `json:"durationMs"`
	BlockCount  int     `json:"blockCount"`
	ErrorCount  int     `json:"errorCount"`
	TotalTokens int     `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
}

// ExecuteHandler starts workflow runs over HTTP.
type ExecuteHandler struct {
	exec *executor.Executor
	log  *logger.Logger
}

// NewExecuteHandler creates an execute handler.
func NewExecuteHandler(exec *executor.Executor, log *logger.Logger) *ExecuteHandler {
	return &ExecuteHandler{exec: exec, log: log}
}

// Execute runs a workflow to completion.
// POST /api/v1/execute/:workflowID
//
// With "stream": true the response is a text/event-stream of
// {chunk, done} frames; otherwise a single JSON result.
func (h *ExecuteHandler) Execute(c echo.Context) error {
	workflowID := c.Param("workflowID")
	userID, _ := c.Get(middleware.ContextUserID).(string)

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
	}

	runReq := executor.RunRequest{
		WorkflowID:      workflowID,
		UserID:          userID,
		Input:           req.Input,
		Trigger:         triggerFor(c),
		SelectedOutputs: req.SelectedOutputs,
	}

	if req.Stream {
		return h.executeStreaming(c, runReq)
	}
	return h.executeJSON(c, runReq)
}

func (h *ExecuteHandler) executeJSON(c echo.Context, req executor.RunRequest) error {
	result, err := h.exec.Run(c.Request().Context(), req)
	if err != nil {
		h.log.Error("workflow run failed",
			"workflow_id", req.WorkflowID, "error", err)
		return c.JSON(statusFor(err), errorBody(err))
	}

	c.Response().Header().Set("X-Execution-Data", executionData(result))
	return c.JSON(http.StatusOK, &ExecuteResponse{
		ExecutionID: result.ExecutionID,
		Output:      result.Output,
		DurationMS:  result.EndedAt.Sub(result.StartedAt).Milliseconds(),
		BlockCount:  result.Metrics.BlockCount,
		ErrorCount:  result.Metrics.ErrorCount,
		TotalTokens: result.Metrics.TotalTokens,
		TotalCost:   result.Metrics.TotalCost,
	})
}

func (h *ExecuteHandler) executeStreaming(c echo.Context, req executor.RunRequest) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	sink := &sseSink{resp: resp}
	req.Sink = sink

	result, err := h.exec.Run(c.Request().Context(), req)
	if err != nil {
		h.log.Error("workflow run failed",
			"workflow_id", req.WorkflowID, "error", err)
		sink.writeFrame(map[string]any{
			"done":  true,
			"error": err.Error(),
		})
		return nil
	}

	// Headers are already on the wire, so terminal metadata rides the
	// final frame instead of X-Execution-Data.
	sink.writeFrame(map[string]any{
		"done":          true,
		"output":        result.Output,
		"executionData": blocks.SanitizeASCII(executionData(result)),
	})
	return nil
}

// triggerFor derives the trigger type: an explicit query parameter wins,
// otherwise API-key auth counts as an API trigger and a session as manual.
func triggerFor(c echo.Context) ratelimit.TriggerType {
	switch t := ratelimit.TriggerType(c.QueryParam("trigger")); t {
	case ratelimit.TriggerManual, ratelimit.TriggerAPI, ratelimit.TriggerWebhook,
		ratelimit.TriggerSchedule, ratelimit.TriggerChat:
		return t
	}
	if mode, _ := c.Get(middleware.ContextAuthMode).(string); mode == middleware.AuthModeAPIKey {
		return ratelimit.TriggerAPI
	}
	return ratelimit.TriggerManual
}

// executionData renders the run metadata carried in X-Execution-Data.
func executionData(result *executor.RunResult) string {
	raw, err := json.Marshal(map[string]any{
		"executionId": result.ExecutionID,
		"durationMs":  result.EndedAt.Sub(result.StartedAt).Milliseconds(),
		"blockCount":  result.Metrics.BlockCount,
		"totalTokens": result.Metrics.TotalTokens,
		"totalCost":   result.Metrics.TotalCost,
	})
	if err != nil {
		return ""
	}
	return blocks.SanitizeASCII(string(raw))
}

// sseSink forwards agent content chunks as server-sent events. Parallel
// branches can stream concurrently, so frame writes are serialized.
type sseSink struct {
	resp *echo.Response
	mu   sync.Mutex
}

func (s *sseSink) OnChunk(blockID string, chunk []byte) error {
	return s.writeFrame(map[string]any{
		"blockId": blockID,
		"chunk":   string(chunk),
	})
}

func (s *sseSink) writeFrame(frame map[string]any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.resp, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}
