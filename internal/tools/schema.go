package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openclaw/flux/internal/toolsafety"
	"github.com/openclaw/flux/pkg/models"
)

// rawSchema is the shape a tool file's Schema value must marshal to.
type rawSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// parseSchema converts an arbitrary map[string]any (as loaded from a
// plugin's exported Schema symbol) into a models.ToolSchema, validating its
// shape and compiling input_schema as a genuine JSON Schema document (gate
// 6's contract check).
func parseSchema(raw map[string]any) (models.ToolSchema, error) {
	blob, err := json.Marshal(raw)
	if err != nil {
		return models.ToolSchema{}, fmt.Errorf("schema is not JSON-serializable: %w", err)
	}
	var s rawSchema
	if err := json.Unmarshal(blob, &s); err != nil {
		return models.ToolSchema{}, fmt.Errorf("schema has wrong shape: %w", err)
	}
	if err := toolsafety.CheckToolName(s.Name); err != nil {
		return models.ToolSchema{}, err
	}
	if s.InputSchema == nil {
		return models.ToolSchema{}, fmt.Errorf("schema %q missing input_schema", s.Name)
	}
	if err := compileInputSchema(s.Name, s.InputSchema); err != nil {
		return models.ToolSchema{}, err
	}
	return models.ToolSchema{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema}, nil
}

// compileInputSchema rejects an input_schema that isn't a valid JSON Schema
// document, using jsonschema/v5's compiler purely for its validator (we
// never actually validate tool call arguments against it at call time —
// _filter_tool_input does that structurally — this is the load-time
// contract check).
func compileInputSchema(toolName string, inputSchema map[string]any) error {
	blob, err := json.Marshal(inputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: input_schema not serializable: %w", toolName, err)
	}
	url := "mem://tools/" + toolName + "/input_schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(blob))); err != nil {
		return fmt.Errorf("tool %q: invalid input_schema: %w", toolName, err)
	}
	if _, err := compiler.Compile(url); err != nil {
		return fmt.Errorf("tool %q: input_schema failed to compile: %w", toolName, err)
	}
	return nil
}

// propertyType returns the JSON Schema "type" declared for a property name,
// or "" if undeclared.
func propertyType(inputSchema map[string]any, key string) string {
	props, ok := inputSchema["properties"].(map[string]any)
	if !ok {
		return ""
	}
	prop, ok := props[key].(map[string]any)
	if !ok {
		return ""
	}
	t, _ := prop["type"].(string)
	return t
}

// declaredProperties returns the set of keys listed under the schema's
// "properties" object.
func declaredProperties(inputSchema map[string]any) map[string]bool {
	out := map[string]bool{}
	props, ok := inputSchema["properties"].(map[string]any)
	if !ok {
		return out
	}
	for k := range props {
		out[k] = true
	}
	return out
}

// satisfiesType reports whether v's observed Go type is compatible with the
// declared JSON Schema primitive type name.
func satisfiesType(v any, declared string) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		switch n := v.(type) {
		case float64:
			return n == float64(int64(n))
		case json.Number:
			_, err := strconv.ParseInt(n.String(), 10, 64)
			return err == nil
		case int, int64:
			return true
		}
		return false
	case "number":
		switch v.(type) {
		case float64, json.Number, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		// Undeclared/unknown type: accept (the schema doesn't constrain it).
		return true
	}
}
