package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgrant/boardscan/llm"
)

// Pipeline drives the two-call extraction sequence against a multimodal
// provider: detect the board's structure first, then extract data constrained
// to that structure. Strictly sequential, all-or-nothing per image.
type Pipeline struct {
	provider llm.Provider
}

// New creates a pipeline over the given provider.
func New(provider llm.Provider) *Pipeline {
	return &Pipeline{provider: provider}
}

// Run analyzes a single board photo and returns its normalized records.
// A stage-1 failure wraps ErrStructure and the extraction call is never
// attempted; a stage-2 failure wraps ErrExtraction.
func (p *Pipeline) Run(ctx context.Context, image []byte, mimeType, model string) (*Result, error) {
	start := time.Now()

	structure, err := p.detectStructure(ctx, image, mimeType, model)
	if err != nil {
		return nil, err
	}
	slog.Info("extract: structure detected",
		"board_type", structure.BoardType,
		"rows", len(structure.RowHeaders),
		"columns", len(structure.ColumnHeaders),
		"elapsed", time.Since(start).Round(time.Millisecond))

	result, err := p.extract(ctx, image, mimeType, model, structure)
	if err != nil {
		return nil, err
	}
	slog.Info("extract: complete",
		"votes", len(result.Votes),
		"notes", len(result.Notes),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) detectStructure(ctx context.Context, image []byte, mimeType, model string) (BoardStructure, error) {
	resp, err := p.provider.GenerateContent(ctx, llm.ContentRequest{
		Model:      model,
		Prompt:     BuildStructurePrompt(),
		Image:      image,
		MIMEType:   mimeType,
		JSONOutput: true,
	})
	if err != nil {
		return BoardStructure{}, fmt.Errorf("%w: %w", ErrStructure, err)
	}

	payload, err := extractJSON(resp.Text)
	if err != nil {
		return BoardStructure{}, fmt.Errorf("%w: %v", ErrStructure, err)
	}

	var structure BoardStructure
	if err := json.Unmarshal([]byte(payload), &structure); err != nil {
		return BoardStructure{}, fmt.Errorf("%w: decoding structure: %v", ErrStructure, err)
	}
	if structure.BoardType == "" {
		structure.BoardType = BoardUnknown
	}
	return structure, nil
}

func (p *Pipeline) extract(ctx context.Context, image []byte, mimeType, model string, structure BoardStructure) (*Result, error) {
	prompt, schema := BuildExtractionPrompt(structure)

	// Temperature pinned to zero: this is an extraction task, not a
	// generative one, so sampling diversity only adds noise to counts.
	temp := 0.0
	resp, err := p.provider.GenerateContent(ctx, llm.ContentRequest{
		Model:       model,
		Prompt:      prompt,
		Image:       image,
		MIMEType:    mimeType,
		Temperature: &temp,
		Schema:      schema,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	payload, err := extractJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := validateResult([]byte(payload)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("%w: decoding result: %v", ErrExtraction, err)
	}

	if structure.IsMatrix() {
		result.Votes = normalizeVotes(structure, result.Votes)
	} else {
		result.Votes = clampCounts(result.Votes)
	}
	if result.Votes == nil {
		result.Votes = []VoteRecord{}
	}
	if result.Notes == nil {
		result.Notes = []NoteRecord{}
	}
	return &result, nil
}

// normalizeVotes coerces the model output onto the declared matrix: exactly
// one record per (row, column) pair in header order, zero counts for cells
// the model skipped, undeclared labels dropped, negative counts clamped.
// Duplicate cells keep the first occurrence.
func normalizeVotes(structure BoardStructure, votes []VoteRecord) []VoteRecord {
	type cell struct{ row, col string }
	seen := make(map[cell]VoteRecord, len(votes))
	for _, v := range votes {
		key := cell{v.RowLabel, v.ColumnLabel}
		if _, ok := seen[key]; ok {
			slog.Warn("extract: duplicate cell in model output",
				"row", v.RowLabel, "column", v.ColumnLabel)
			continue
		}
		if v.DotCount < 0 {
			v.DotCount = 0
		}
		seen[key] = v
	}

	out := make([]VoteRecord, 0, len(structure.RowHeaders)*len(structure.ColumnHeaders))
	for _, row := range structure.RowHeaders {
		for _, col := range structure.ColumnHeaders {
			if v, ok := seen[cell{row, col}]; ok {
				out = append(out, v)
				continue
			}
			out = append(out, VoteRecord{RowLabel: row, ColumnLabel: col, DotCount: 0})
		}
	}
	return out
}

func clampCounts(votes []VoteRecord) []VoteRecord {
	for i := range votes {
		if votes[i].DotCount < 0 {
			votes[i].DotCount = 0
		}
	}
	return votes
}
