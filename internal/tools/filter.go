package tools

import "github.com/openclaw/flux/pkg/models"

// FilterInput implements `_filter_tool_input`: keys absent from the
// schema's declared properties are silently dropped, as are keys whose
// observed value type does not satisfy the declared JSON Schema type. The
// tool only ever sees the surviving, type-valid subset — no signal is sent
// back to the model about what was dropped (an Open Question resolved in
// DESIGN.md in favor of the original's silent behavior).
func FilterInput(schema models.ToolSchema, raw map[string]any) map[string]any {
	declared := declaredProperties(schema.InputSchema)
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if !declared[k] {
			continue
		}
		want := propertyType(schema.InputSchema, k)
		if !satisfiesType(v, want) {
			continue
		}
		out[k] = v
	}
	return out
}
