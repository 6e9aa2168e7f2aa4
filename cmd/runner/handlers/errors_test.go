package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/common/repository"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", execution.NewError(execution.KindValidationFailed, "bad"), http.StatusBadRequest},
		{"missing env var", execution.NewError(execution.KindMissingEnvVar, "no key"), http.StatusBadRequest},
		{"not found", fmt.Errorf("workflow x: %w", repository.ErrNotFound), http.StatusNotFound},
		{"version conflict", fmt.Errorf("workflow x: %w", repository.ErrVersionConflict), http.StatusConflict},
		{"rate limited", execution.NewError(execution.KindRateLimited, "slow down"), http.StatusTooManyRequests},
		{"cancelled kind", execution.NewError(execution.KindCancelled, "gone"), statusClientClosedRequest},
		{"context cancelled", context.Canceled, statusClientClosedRequest},
		{"provider failure", execution.NewError(execution.KindProviderError, "boom"), http.StatusInternalServerError},
		{"plain error", errors.New("anything"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestErrorBody(t *testing.T) {
	err := execution.NewError(execution.KindProviderError, "request failed").
		WithBlock("block-1", "Fetch").
		WithField("status", 404)

	body := errorBody(err)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, "block-1", body["blockId"])
	assert.Equal(t, "Fetch", body["blockName"])

	details, ok := body["details"].(map[string]any)
	require.True(t, ok, "details missing: %v", body)
	assert.Equal(t, 404, details["status"])
}

func TestErrorBody_PlainError(t *testing.T) {
	body := errorBody(errors.New("oops"))
	assert.Equal(t, "oops", body["error"])
	assert.NotContains(t, body, "details")
	assert.NotContains(t, body, "blockId")
}
