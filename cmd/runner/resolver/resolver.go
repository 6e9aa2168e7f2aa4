package resolver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/simstudio/runner/cmd/runner/execution"
	"github.com/simstudio/runner/cmd/runner/serializer"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Resolver substitutes template references in block parameters immediately
// before dispatch. It never mutates the block; callers get a fresh map.
type Resolver struct {
	wf     *serializer.Workflow
	logger Logger
}

// NewResolver creates a resolver for one workflow.
func NewResolver(wf *serializer.Workflow, logger Logger) *Resolver {
	return &Resolver{wf: wf, logger: logger}
}

// ResolveParams resolves every parameter of a block against the run
// context and applies type-aware coercion from the block's declared
// input schema.
func (r *Resolver) ResolveParams(ctx *execution.Context, block *serializer.Block) (map[string]any, error) {
	resolved := make(map[string]any, len(block.Config.Params))
	for name, value := range block.Config.Params {
		v, err := r.resolveValue(ctx, block, name, value)
		if err != nil {
			return nil, fmt.Errorf("resolve param %s: %w", name, err)
		}
		resolved[name] = coerce(block, name, v)
	}
	return resolved, nil
}

// Resolve substitutes references inside one value outside a block's param
// map. The loop and parallel managers use it for forEach collections and
// distributions.
func (r *Resolver) Resolve(ctx *execution.Context, block *serializer.Block, value any) (any, error) {
	return r.resolveValue(ctx, block, "", value)
}

func (r *Resolver) resolveValue(ctx *execution.Context, block *serializer.Block, param string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, block, param, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			rv, err := r.resolveValue(ctx, block, param, inner)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			rv, err := r.resolveValue(ctx, block, param, inner)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(ctx *execution.Context, block *serializer.Block, param, s string) (any, error) {
	if !isTemplate(s) {
		return s, nil
	}
	nodes := parseTemplate(s)

	// A lone reference keeps the referenced value's native type.
	if isSingleReference(nodes) {
		return r.evalReference(ctx, block, param, parseReference(nodes[0].text))
	}

	var b strings.Builder
	for _, n := range nodes {
		if n.kind == nodeLiteral {
			b.WriteString(n.text)
			continue
		}
		v, err := r.evalReference(ctx, block, param, parseReference(n.text))
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

func (r *Resolver) evalReference(ctx *execution.Context, block *serializer.Block, param string, ref reference) (any, error) {
	switch ref.root {
	case "env":
		return r.evalEnv(ctx, block, param, ref.rest)
	case "loop":
		return r.evalLoop(ctx, ref.rest)
	case "parallel":
		return r.evalParallel(ctx, ref.rest)
	default:
		return r.evalBlockRef(ctx, block, param, ref)
	}
}

func (r *Resolver) evalEnv(ctx *execution.Context, block *serializer.Block, param, name string) (any, error) {
	if v, ok := ctx.EnvironmentVariables[name]; ok {
		return v, nil
	}
	if _, required := block.Inputs[param]; required {
		return nil, execution.NewError(execution.KindMissingEnvVar,
			"environment variable %s is not set", name).WithBlock(block.ID, block.Name)
	}
	return "", nil
}

// evalLoop resolves loop.<subflowId>.item|index|results, with an optional
// deeper path into the item or results value.
func (r *Resolver) evalLoop(ctx *execution.Context, rest string) (any, error) {
	subflowID, accessor, _ := strings.Cut(rest, ".")
	field, path, _ := strings.Cut(accessor, ".")

	var v any
	switch field {
	case "item":
		v = ctx.LoopItems[subflowID]
	case "index":
		// LoopIterations holds the next index; the current one is behind it.
		idx := ctx.LoopIterations[subflowID] - 1
		if idx < 0 {
			idx = 0
		}
		v = idx
	case "results":
		v = ctx.LoopResults[subflowID]
	default:
		return nil, fmt.Errorf("unknown loop accessor %q", field)
	}
	if path == "" {
		return v, nil
	}
	return lookupPath(v, path), nil
}

// evalParallel resolves parallel.<subflowId>.item|index.
func (r *Resolver) evalParallel(ctx *execution.Context, rest string) (any, error) {
	subflowID, accessor, _ := strings.Cut(rest, ".")
	field, path, _ := strings.Cut(accessor, ".")

	var v any
	switch field {
	case "item":
		v = ctx.ParallelItems[subflowID]
	case "index":
		v = ctx.ParallelIndex[subflowID]
	default:
		return nil, fmt.Errorf("unknown parallel accessor %q", field)
	}
	if path == "" {
		return v, nil
	}
	return lookupPath(v, path), nil
}

// evalBlockRef resolves <blockId>.<path> into the referenced block's
// recorded output. Missing paths resolve to empty string for string
// targets and nil otherwise.
func (r *Resolver) evalBlockRef(ctx *execution.Context, block *serializer.Block, param string, ref reference) (any, error) {
	state, ok := ctx.BlockState(ref.root)
	if !ok {
		if r.logger != nil {
			r.logger.Debug("reference to block with no recorded output", "block_id", ref.root)
		}
		return missingValue(block, param), nil
	}
	if ref.rest == "" {
		return state, nil
	}
	v := lookupPath(state, ref.rest)
	if v == nil {
		return missingValue(block, param), nil
	}
	return v, nil
}

func missingValue(block *serializer.Block, param string) any {
	if block.Inputs[param] == "string" {
		return ""
	}
	return nil
}

// lookupPath extracts a dotted path from a JSON-like value using gjson.
func lookupPath(v any, path string) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// stringify renders a resolved value for interpolation into a string.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

// coerce applies type-aware conversion from the block's declared input
// schema: numeric targets parse numeric strings, JSON targets pre-parse
// object and array literals, URL parameters lose surrounding quotes.
func coerce(block *serializer.Block, param string, v any) any {
	declared := block.Inputs[param]

	if s, ok := v.(string); ok {
		switch declared {
		case "number", "float", "int":
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n
			}
		case "json", "object", "array":
			if parsed, ok := parseJSONLiteral(s); ok {
				return parsed
			}
		case "url":
			return stripQuotes(s)
		}
		if param == "body" {
			if parsed, ok := parseJSONLiteral(s); ok {
				return parsed
			}
		}
		if param == "url" {
			return stripQuotes(s)
		}
	}
	return v
}

func parseJSONLiteral(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return out, true
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
