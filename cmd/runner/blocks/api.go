package blocks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/cmd/runner/security"
	"github.com/simstudio/runner/cmd/runner/tools"
)

// APIHandler dispatches api blocks through the tool registry after URL
// validation. An empty URL is a graceful no-op.
type APIHandler struct {
	tools     *tools.Registry
	validator *security.URLValidator
	logger    Logger
}

// NewAPIHandler creates an api block handler.
func NewAPIHandler(toolRegistry *tools.Registry, validator *security.URLValidator, logger Logger) *APIHandler {
	return &APIHandler{tools: toolRegistry, validator: validator, logger: logger}
}

func (h *APIHandler) CanHandle(block *serializer.Block) bool {
	return block.Kind == serializer.KindAPI
}

func (h *APIHandler) Execute(ctx context.Context, run *execution.Context, block *serializer.Block, inputs map[string]any) (any, error) {
	url, _ := inputs["url"].(string)
	url = strings.TrimSpace(url)

	if url == "" {
		return map[string]any{"data": nil, "status": 200, "headers": map[string]any{}}, nil
	}

	if err := h.validator.ValidateFormat(url); err != nil {
		return nil, execution.WrapError(execution.KindValidationFailed, err, "invalid request URL").
			WithBlock(block.ID, block.Name)
	}

	// Body strings carrying JSON literals are pre-parsed; explicit null is
	// treated as absent.
	if body, ok := inputs["body"]; ok {
		if s, isStr := body.(string); isStr {
			trimmed := strings.TrimSpace(s)
			if trimmed == "null" || trimmed == "" {
				delete(inputs, "body")
			}
		}
		if body == nil {
			delete(inputs, "body")
		}
	}

	method, _ := inputs["method"].(string)
	if method == "" {
		method = "GET"
	}

	result, err := h.tools.ExecuteTool(ctx, block.Config.Tool, inputs)
	if err != nil {
		return nil, err
	}

	if !result.Success {
		return nil, h.composeError(block, url, method, result)
	}

	return result.Output, nil
}

// composeError builds the user-facing failure with URL, method, status,
// and a suggestion mapped from the status code or network error.
func (h *APIHandler) composeError(block *serializer.Block, url, method string, result *tools.Result) error {
	status := 0
	statusText := ""
	if result.Output != nil {
		if s, ok := result.Output["status"].(int); ok {
			status = s
		}
		if st, ok := result.Output["statusText"].(string); ok {
			statusText = st
		}
	}

	msg := fmt.Sprintf("%s %s failed", strings.ToUpper(method), url)
	if status != 0 {
		msg = fmt.Sprintf("%s with status %d %s", msg, status, statusText)
	} else if result.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, result.Error)
	}
	if suggestion := suggestionFor(status, result.Error); suggestion != "" {
		msg = msg + " - " + suggestion
	}

	return execution.NewError(execution.KindProviderError, "%s", msg).
		WithBlock(block.ID, block.Name).
		WithField("toolId", block.Config.Tool).
		WithField("status", status).
		WithField("request", map[string]any{"url": url, "method": strings.ToUpper(method)}).
		WithField("timestamp", time.Now().Format(time.RFC3339))
}

func suggestionFor(status int, errText string) string {
	switch {
	case status == 403:
		return "the server rejected the request; check authentication or CORS configuration"
	case status == 404:
		return "the resource was not found; check the URL path"
	case status == 429:
		return "the server is rate limiting requests; retry later"
	case status >= 500:
		return "the server reported an internal error; the problem is on the remote side"
	}
	lower := strings.ToLower(errText)
	if strings.Contains(lower, "failed to fetch") || strings.Contains(lower, "cors") {
		return "the request never reached the server; check the URL and network access"
	}
	return ""
}
