package serializer

// Defaulter computes a concrete default for a parameter from the other
// stored parameters. Invoked only when the stored value is nil.
type Defaulter func(params map[string]any) any

// paramDefaults maps block kind -> parameter name -> defaulter. Kept small
// on purpose; most parameters default in the handler, not here.
var paramDefaults = map[BlockKind]map[string]Defaulter{
	KindAPI: {
		"method": func(map[string]any) any { return "GET" },
		"headers": func(map[string]any) any { return map[string]any{} },
	},
	KindAgent: {
		"temperature": func(map[string]any) any { return 0.7 },
		"stream":      func(map[string]any) any { return false },
	},
	KindLoop: {
		"iterations": func(map[string]any) any { return 1 },
	},
	KindParallel: {
		"count": func(params map[string]any) any {
			if _, ok := params["distribution"]; ok {
				return nil
			}
			return 1
		},
	},
}

func applyDefaults(b *Block) {
	defaults, ok := paramDefaults[b.Kind]
	if !ok {
		return
	}
	if b.Config.Params == nil {
		b.Config.Params = map[string]any{}
	}
	for name, fn := range defaults {
		if v, exists := b.Config.Params[name]; exists && v != nil {
			continue
		}
		if v := fn(b.Config.Params); v != nil {
			b.Config.Params[name] = v
		}
	}
}

// selectTool binds the tool id for blocks that dispatch through the tool
// registry. Agents carrying a custom-tools list keep an empty tool id and
// bind their tools at runtime.
func selectTool(b *Block) {
	switch b.Kind {
	case KindAPI:
		if b.Config.Tool == "" {
			b.Config.Tool = "http_request"
		}
	case KindAgent:
		if tools, ok := b.Config.Params["tools"].([]any); ok && len(tools) > 0 {
			b.Config.Tool = ""
		}
	}
}
