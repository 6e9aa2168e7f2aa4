package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/simstudio/runner/cmd/runner/security"
)

// HTTPExecutor dispatches tool specs as outbound HTTP requests. Every URL
// is run through the security validator before any connection opens.
type HTTPExecutor struct {
	client    *http.Client
	validator *security.URLValidator
	logger    Logger
}

// NewHTTPExecutor creates an HTTP tool executor.
func NewHTTPExecutor(timeout time.Duration, validator *security.URLValidator, logger Logger) *HTTPExecutor {
	return &HTTPExecutor{
		client:    &http.Client{Timeout: timeout},
		validator: validator,
		logger:    logger,
	}
}

// Execute builds the request from the spec and the resolved params, sends
// it, and shapes the response as {data, status, headers}.
func (e *HTTPExecutor) Execute(ctx context.Context, spec *ToolSpec, params map[string]any) (*Result, error) {
	url := spec.Request.URL
	if spec.Request.URLFn != nil {
		url = spec.Request.URLFn(params)
	}
	if err := e.validator.Validate(url); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	method := spec.Request.Method
	if spec.Request.MethodFn != nil {
		method = spec.Request.MethodFn(params)
	}
	if method == "" {
		method = http.MethodGet
	}

	body := spec.Request.Body
	if spec.Request.BodyFn != nil {
		body = spec.Request.BodyFn(params)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	headers := spec.Request.Headers
	if spec.Request.HeadersFn != nil {
		headers = spec.Request.HeadersFn(params)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("read response body: %v", err)}, nil
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := resp.Status
		if spec.TransformError != nil {
			errMsg = spec.TransformError(resp.StatusCode, raw)
		}
		return &Result{
			Success: false,
			Output: map[string]any{
				"data":       decodeBody(raw),
				"status":     resp.StatusCode,
				"statusText": http.StatusText(resp.StatusCode),
				"headers":    respHeaders,
			},
			Error: errMsg,
		}, nil
	}

	var data any
	if spec.TransformResponse != nil {
		data, err = spec.TransformResponse(resp.StatusCode, respHeaders, raw)
		if err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	} else {
		data = decodeBody(raw)
	}

	return &Result{
		Success: true,
		Output: map[string]any{
			"data":    data,
			"status":  resp.StatusCode,
			"headers": respHeaders,
		},
	}, nil
}

// decodeBody parses JSON bodies and falls back to the raw string.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(raw)
}

// RegisterBuiltins installs the generic tools every workflow can use.
func RegisterBuiltins(registry *Registry) {
	registry.Register("http_request", &ToolSpec{
		Name: "HTTP Request",
		Params: map[string]string{
			"url":     "url",
			"method":  "string",
			"headers": "json",
			"body":    "json",
		},
		Request: RequestSpec{
			URLFn: func(params map[string]any) string {
				s, _ := params["url"].(string)
				return s
			},
			MethodFn: func(params map[string]any) string {
				s, _ := params["method"].(string)
				return s
			},
			HeadersFn: func(params map[string]any) map[string]string {
				out := map[string]string{}
				if h, ok := params["headers"].(map[string]any); ok {
					for k, v := range h {
						out[k] = fmt.Sprintf("%v", v)
					}
				}
				return out
			},
			BodyFn: func(params map[string]any) any {
				return params["body"]
			},
		},
	})
}
