package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validationSchema is the local (draft 2020-12) counterpart of the provider
// output constraint. The provider schema uses the uppercase OpenAPI type
// names the API expects; this one is what we actually enforce on the bytes
// that came back.
var validationSchema = map[string]any{
	"type":     "object",
	"required": []any{"voting_data", "sticky_notes"},
	"properties": map[string]any{
		"voting_data": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"row_label", "column_label", "dot_count"},
				"properties": map[string]any{
					"row_label":       map[string]any{"type": "string"},
					"column_label":    map[string]any{"type": "string"},
					"dot_count":       map[string]any{"type": "integer"},
					"color_breakdown": map[string]any{"type": "string"},
				},
			},
		},
		"sticky_notes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"text"},
				"properties": map[string]any{
					"text":             map[string]any{"type": "string"},
					"category_context": map[string]any{"type": "string"},
					"confidence":       map[string]any{"type": "integer"},
				},
			},
		},
	},
}

// validateResult checks the decoded extraction payload against the local
// schema before it is trusted as a Result.
func validateResult(data []byte) error {
	b, err := json.Marshal(validationSchema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("result.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
