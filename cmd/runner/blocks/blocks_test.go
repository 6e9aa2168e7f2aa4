package blocks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/sandbox"
	"github.com/simstudio/runner/cmd/runner/security"
	"github.com/simstudio/runner/cmd/runner/serializer"
	"github.com/simstudio/runner/cmd/runner/tools"
)

// fakeProvider returns canned responses for router and agent tests.
type fakeProvider struct {
	content string
	err     error
	lastReq *providers.Request
}

func (f *fakeProvider) Execute(_ context.Context, req *providers.Request) (*providers.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &providers.Response{
		Content: f.content,
		Model:   req.Model,
		Tokens:  execution.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
		Cost:    0.001,
	}, nil
}

func (f *fakeProvider) ExecuteStream(context.Context, *providers.Request) (*providers.StreamingExecution, error) {
	return nil, errors.New("streaming not supported in fake")
}

// fakeToolExecutor records the call and returns a canned result.
type fakeToolExecutor struct {
	result *tools.Result
	err    error
}

func (f *fakeToolExecutor) Execute(context.Context, *tools.ToolSpec, map[string]any) (*tools.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func buildWorkflow(t *testing.T, state string) *serializer.Workflow {
	t.Helper()
	wf, err := serializer.Serialize([]byte(state))
	if err != nil {
		t.Fatalf("build workflow: %v", err)
	}
	return wf
}

func newRun(wf *serializer.Workflow, input any) *execution.Context {
	return execution.NewContext(wf, execution.Opts{
		ExecutionID: "exec-1",
		Input:       input,
	})
}

func routerWorkflow(t *testing.T) *serializer.Workflow {
	return buildWorkflow(t, `{
		"blocks": {
			"start":   {"kind": "starter", "enabled": true},
			"route":   {"kind": "router", "name": "Route", "enabled": true},
			"support": {"kind": "agent", "name": "Support", "enabled": true},
			"sales":   {"kind": "agent", "name": "Sales", "enabled": true}
		},
		"connections": [
			{"source": "start", "target": "route"},
			{"source": "route", "target": "support"},
			{"source": "route", "target": "sales"}
		]
	}`)
}

func TestStarterHandler(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {"start": {"kind": "starter", "enabled": true}}}`)
	h := NewStarterHandler()

	run := newRun(wf, map[string]any{"q": "hello"})
	out, err := h.Execute(context.Background(), run, wf.Block("start"), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.(map[string]any)["q"] != "hello" {
		t.Errorf("starter did not return the run input: %v", out)
	}

	run = newRun(wf, nil)
	out, err = h.Execute(context.Background(), run, wf.Block("start"), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if m, ok := out.(map[string]any); !ok || len(m) != 0 {
		t.Errorf("nil input should yield empty map, got %v", out)
	}
}

func TestResponseHandler_TerminatesRun(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"resp":  {"kind": "response", "enabled": true}
	}}`)
	h := NewResponseHandler()
	run := newRun(wf, nil)

	out, err := h.Execute(context.Background(), run, wf.Block("resp"), map[string]any{
		"data": map[string]any{"answer": 42},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !run.Terminated {
		t.Errorf("run not terminated")
	}
	if run.TerminalOutput.(map[string]any)["answer"] != 42 {
		t.Errorf("terminal output = %v", run.TerminalOutput)
	}
	if out.(map[string]any)["data"] == nil {
		t.Errorf("response output missing data: %v", out)
	}
}

func TestRouterHandler_MatchesCandidateCaseInsensitive(t *testing.T) {
	wf := routerWorkflow(t)
	registry := providers.NewRegistry()
	fake := &fakeProvider{content: "  SUPPORT  "}
	registry.Register("openai", fake)

	h := NewRouterHandler(registry, nil)
	run := newRun(wf, nil)

	out, err := h.Execute(context.Background(), run, wf.Block("route"), map[string]any{
		"prompt": "my payment failed",
		"model":  "gpt-4o",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	decision := out.(*execution.RouterDecision)
	if decision.SelectedPath.BlockID != "support" {
		t.Errorf("selected %q, want support", decision.SelectedPath.BlockID)
	}
	if run.RouterDecisions["route"] != "support" {
		t.Errorf("decision not recorded: %v", run.RouterDecisions)
	}
	if run.Metrics.TotalTokens != 15 {
		t.Errorf("token usage not accumulated: %d", run.Metrics.TotalTokens)
	}
	if !strings.Contains(fake.lastReq.SystemPrompt, "id: sales") {
		t.Errorf("candidates missing from routing prompt:\n%s", fake.lastReq.SystemPrompt)
	}
}

func TestRouterHandler_RejectsNonCandidateAnswer(t *testing.T) {
	wf := routerWorkflow(t)
	registry := providers.NewRegistry()
	registry.Register("openai", &fakeProvider{content: "Support looks right to me"})

	h := NewRouterHandler(registry, nil)
	run := newRun(wf, nil)

	_, err := h.Execute(context.Background(), run, wf.Block("route"), map[string]any{
		"prompt": "hello", "model": "gpt-4o",
	})
	if execution.KindOf(err) != execution.KindInvalidRoutingDecision {
		t.Errorf("error = %v, want InvalidRoutingDecision", err)
	}
	if len(run.RouterDecisions) != 0 {
		t.Errorf("decision recorded despite invalid answer")
	}
}

func TestConditionHandler_FirstTruthyBranchWins(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"cond":  {"kind": "condition", "enabled": true}
	}}`)
	h := NewConditionHandler(condition.NewEvaluator(), nil)
	run := newRun(wf, nil)

	out, err := h.Execute(context.Background(), run, wf.Block("cond"), map[string]any{
		"input": map[string]any{"score": 80},
		"conditions": []any{
			map[string]any{"id": "low", "expression": "input.score < 50"},
			map[string]any{"id": "high", "expression": "input.score >= 50"},
			map[string]any{"id": "else"},
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.(*execution.ConditionDecision).Branch != "high" {
		t.Errorf("branch = %v", out)
	}
	if run.ConditionDecisions["cond"] != "high" {
		t.Errorf("decision not recorded")
	}
}

func TestConditionHandler_ElseAndUnsatisfied(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"cond":  {"kind": "condition", "enabled": true}
	}}`)
	h := NewConditionHandler(condition.NewEvaluator(), nil)

	run := newRun(wf, nil)
	out, err := h.Execute(context.Background(), run, wf.Block("cond"), map[string]any{
		"input": map[string]any{"score": 10},
		"conditions": []any{
			map[string]any{"id": "high", "expression": "input.score > 50"},
			map[string]any{"id": "else"},
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.(*execution.ConditionDecision).Branch != "else" {
		t.Errorf("else branch not taken: %v", out)
	}

	run = newRun(wf, nil)
	_, err = h.Execute(context.Background(), run, wf.Block("cond"), map[string]any{
		"input": map[string]any{"score": 10},
		"conditions": []any{
			map[string]any{"id": "high", "expression": "input.score > 50"},
		},
	})
	if execution.KindOf(err) != execution.KindConditionUnsatisfied {
		t.Errorf("error = %v, want ConditionUnsatisfied", err)
	}
}

func apiWorkflow(t *testing.T) *serializer.Workflow {
	return buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"fetch": {"kind": "api", "name": "Fetch", "enabled": true}
	}}`)
}

func TestAPIHandler_EmptyURLIsNoOp(t *testing.T) {
	wf := apiWorkflow(t)
	registry := tools.NewRegistry(&fakeToolExecutor{}, nil)
	h := NewAPIHandler(registry, security.NewURLValidator(), nil)
	run := newRun(wf, nil)

	out, err := h.Execute(context.Background(), run, wf.Block("fetch"), map[string]any{"url": "  "})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	m := out.(map[string]any)
	if m["status"] != 200 || m["data"] != nil {
		t.Errorf("empty URL output = %v", m)
	}
}

func TestAPIHandler_MissingProtocolSuggestion(t *testing.T) {
	wf := apiWorkflow(t)
	registry := tools.NewRegistry(&fakeToolExecutor{}, nil)
	h := NewAPIHandler(registry, security.NewURLValidator(), nil)
	run := newRun(wf, nil)

	_, err := h.Execute(context.Background(), run, wf.Block("fetch"), map[string]any{
		"url": "example.com/api",
	})
	if execution.KindOf(err) != execution.KindValidationFailed {
		t.Fatalf("error kind = %v, want ValidationFailed", execution.KindOf(err))
	}
	if !strings.Contains(err.Error(), `try "https://example.com/api"`) {
		t.Errorf("error lacks protocol suggestion: %v", err)
	}
}

func TestAPIHandler_FailureComposesSuggestion(t *testing.T) {
	wf := apiWorkflow(t)
	registry := tools.NewRegistry(&fakeToolExecutor{result: &tools.Result{
		Success: false,
		Output:  map[string]any{"status": 404, "statusText": "Not Found"},
		Error:   "Not Found",
	}}, nil)
	registry.Register("http_request", &tools.ToolSpec{Name: "HTTP Request"})

	h := NewAPIHandler(registry, security.NewURLValidator(), nil)
	run := newRun(wf, nil)

	block := wf.Block("fetch")
	block.Config.Tool = "http_request"
	_, err := h.Execute(context.Background(), run, block, map[string]any{
		"url": "https://example.com/missing", "method": "get",
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	msg := err.Error()
	if !strings.Contains(msg, "GET https://example.com/missing failed with status 404") {
		t.Errorf("message missing method/url/status: %v", msg)
	}
	if !strings.Contains(msg, "check the URL path") {
		t.Errorf("message missing 404 suggestion: %v", msg)
	}

	var ee *execution.Error
	if !errors.As(err, &ee) {
		t.Fatal("not an execution error")
	}
	if ee.Fields["status"] != 404 {
		t.Errorf("status field = %v", ee.Fields["status"])
	}
}

func TestFunctionHandler_RunsCode(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"fn":    {"kind": "function", "enabled": true}
	}}`)
	h := NewFunctionHandler(sandbox.New(5*time.Second, nil))
	run := newRun(wf, nil)

	out, err := h.Execute(context.Background(), run, wf.Block("fn"), map[string]any{
		"code":  "return input.a + input.b",
		"input": map[string]any{"a": 2, "b": 3},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := out.(map[string]any)["result"]
	if n, ok := result.(int64); !ok || n != 5 {
		t.Errorf("result = %T %v, want 5", result, result)
	}
}

func TestFunctionHandler_Validation(t *testing.T) {
	wf := buildWorkflow(t, `{"blocks": {
		"start": {"kind": "starter", "enabled": true},
		"fn":    {"kind": "function", "enabled": true}
	}}`)
	h := NewFunctionHandler(sandbox.New(5*time.Second, nil))
	run := newRun(wf, nil)

	_, err := h.Execute(context.Background(), run, wf.Block("fn"), map[string]any{})
	if execution.KindOf(err) != execution.KindValidationFailed {
		t.Errorf("missing code error = %v", err)
	}

	// Script errors surface as-is, not wrapped as validation failures.
	_, err = h.Execute(context.Background(), run, wf.Block("fn"), map[string]any{
		"code": "throw new Error('boom')",
	})
	if err == nil || execution.KindOf(err) == execution.KindValidationFailed {
		t.Errorf("script error miscategorized: %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("script error message lost: %v", err)
	}
}

func TestSanitizeASCII(t *testing.T) {
	if got := SanitizeASCII("hello"); got != "hello" {
		t.Errorf("plain ASCII changed: %q", got)
	}
	if got := SanitizeASCII("héllo→world\n"); got != "hlloworld" {
		t.Errorf("SanitizeASCII = %q", got)
	}
}
