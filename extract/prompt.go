package extract

import (
	"fmt"
	"strings"
)

// structurePrompt is the stage-1 instruction. It asks only for layout and
// labels, never for counts: discovering structure and filling it in the same
// pass is what makes single-shot extraction hallucinate headers.
const structurePrompt = `Analyze this image layout.
1. Is it a "Dot Voting" matrix, "Sticky Notes", or "Hybrid"?
2. If Matrix/Voting, identify Row Headers (Categories) and Column Headers (Sentiment/Options).
3. Identify the Legend (e.g., Blue=Dev, Red=Biz).

Return JSON:
{
    "board_type": "hybrid/voting/notes",
    "row_headers": ["list"],
    "column_headers": ["list"],
    "legend": ["list"]
}`

// BuildStructurePrompt returns the fixed structure-detection instruction.
func BuildStructurePrompt() string {
	return structurePrompt
}

// BuildExtractionPrompt builds the final-stage instruction and its output
// schema from the stage-1 findings. The matrix branch embeds the literal
// header lists and demands a record for every intersection; the text branch
// is pure transcription.
func BuildExtractionPrompt(s BoardStructure) (string, map[string]any) {
	var context string
	if s.IsMatrix() {
		context = fmt.Sprintf(`I have identified this is a Matrix.
ROWS found: [%s]
COLUMNS found: [%s]
CRITICAL TASK: Look at EVERY intersection (Row x Column) and COUNT the dots/pins.`,
			quoteList(s.RowHeaders), quoteList(s.ColumnHeaders))
	} else {
		context = "Focus strictly on reading handwritten sticky notes and grouping them."
	}
	if len(s.Legend) > 0 {
		context += "\nLegend for dot colors: [" + quoteList(s.Legend) + "]"
	}

	prompt := context + `

OUTPUT RULES:
1. voting_data: Return one entry for every cell in the matrix. If empty, set dot_count to 0.
2. sticky_notes: Extract all legible handwritten text.`

	return prompt, resultSchema()
}

// resultSchema is the fixed output constraint sent with the extraction call.
// Both arrays are required even when empty so the decoder never has to guess
// which half of a hybrid board the model chose to answer.
func resultSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"voting_data": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"row_label":    map[string]any{"type": "STRING"},
						"column_label": map[string]any{"type": "STRING"},
						"dot_count":    map[string]any{"type": "INTEGER", "description": "Exact count of pins/dots"},
						"color_breakdown": map[string]any{
							"type":        "STRING",
							"description": "e.g. '3 blue, 2 red'",
						},
					},
					"required": []string{"row_label", "column_label", "dot_count"},
				},
			},
			"sticky_notes": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"text":             map[string]any{"type": "STRING"},
						"category_context": map[string]any{"type": "STRING"},
						"confidence":       map[string]any{"type": "INTEGER"},
					},
					"required": []string{"text"},
				},
			},
		},
		"required": []string{"voting_data", "sticky_notes"},
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = `"` + it + `"`
	}
	return strings.Join(quoted, ", ")
}
