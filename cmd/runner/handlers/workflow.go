package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/cmd/runner/middleware"
	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/repository"
)

// WorkflowHandler serves workflow state reads and patch updates.
type WorkflowHandler struct {
	workflows *repository.WorkflowRepository
	log       *logger.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(workflows *repository.WorkflowRepository, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, log: log}
}

// PatchRequest is the PATCH /workflows/:id body. Operations follow RFC
// 6902; Version is the version the caller last read.
type PatchRequest struct {
	Version    int             `json:"version"`
	Operations json.RawMessage `json:"operations"`
}

// GetWorkflow returns the workflow state for its owner.
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	record, err := h.loadOwned(c)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":      record.ID,
		"name":    record.Name,
		"version": record.Version,
		"state":   record.State,
	})
}

// PatchWorkflow applies a JSON Patch to the workflow state. The update
// only lands if nobody has written since the caller's read; a concurrent
// write returns 409 so the caller can re-read and retry.
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	record, err := h.loadOwned(c)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	var req PatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
	}
	if req.Version != record.Version {
		return c.JSON(http.StatusConflict, map[string]any{
			"error":          repository.ErrVersionConflict.Error(),
			"currentVersion": record.Version,
		})
	}

	patch, err := jsonpatch.DecodePatch(req.Operations)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid patch: %v", err),
		})
	}

	patched, err := patch.Apply(record.State)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("patch failed: %v", err),
		})
	}

	if err := h.workflows.UpdateWorkflowState(c.Request().Context(), record.ID, record.Version, patched); err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	h.log.Info("workflow patched",
		"workflow_id", record.ID, "from_version", record.Version)
	return c.JSON(http.StatusOK, map[string]any{
		"id":      record.ID,
		"version": record.Version + 1,
	})
}

// loadOwned loads the workflow and enforces ownership. Workflows owned
// by someone else read as not found rather than forbidden.
func (h *WorkflowHandler) loadOwned(c echo.Context) (*repository.WorkflowRecord, error) {
	id := c.Param("id")
	record, err := h.workflows.LoadWorkflow(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}

	userID, _ := c.Get(middleware.ContextUserID).(string)
	if record.OwnerID != "" && record.OwnerID != userID {
		return nil, fmt.Errorf("workflow %s: %w", id, repository.ErrNotFound)
	}
	return record, nil
}
