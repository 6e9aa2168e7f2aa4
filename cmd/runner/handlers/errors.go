package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/common/repository"
)

// statusClientClosedRequest mirrors the nginx convention for a caller
// that went away before the run finished.
const statusClientClosedRequest = 499

// statusFor maps an engine failure to an HTTP status code.
func statusFor(err error) int {
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, context.Canceled) {
		return statusClientClosedRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusInternalServerError
	}

	switch execution.KindOf(err) {
	case execution.KindValidationFailed, execution.KindMissingEnvVar:
		return http.StatusBadRequest
	case execution.KindRateLimited:
		return http.StatusTooManyRequests
	case execution.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON error payload. Structured fields attached by
// the engine are surfaced as details.
func errorBody(err error) map[string]any {
	body := map[string]any{"error": err.Error()}

	var ee *execution.Error
	if errors.As(err, &ee) {
		if ee.BlockID != "" {
			body["blockId"] = ee.BlockID
		}
		if ee.BlockName != "" {
			body["blockName"] = ee.BlockName
		}
		if len(ee.Fields) > 0 {
			body["details"] = ee.Fields
		}
	}
	return body
}
