package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/felixgrant/boardscan/llm"
)

// scriptedProvider returns one canned response per GenerateContent call.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
	requests  []llm.ContentRequest
}

func (s *scriptedProvider) GenerateContent(ctx context.Context, req llm.ContentRequest) (*llm.ContentResponse, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, fmt.Errorf("unexpected call %d", i)
	}
	return &llm.ContentResponse{Text: s.responses[i]}, nil
}

func (s *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedProvider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return nil, errors.New("not implemented")
}

const matrixStructure = `{
	"board_type": "voting",
	"row_headers": ["Onboarding", "Billing"],
	"column_headers": ["Keep", "Drop"]
}`

func TestPipelineMatrixRun(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		matrixStructure,
		`{"voting_data":[
			{"row_label":"Onboarding","column_label":"Keep","dot_count":3},
			{"row_label":"Billing","column_label":"Drop","dot_count":-2}
		],"sticky_notes":[{"text":"ship it"}]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 2x2 matrix yields exactly four records in declared header order.
	if len(result.Votes) != 4 {
		t.Fatalf("votes = %d, want 4: %+v", len(result.Votes), result.Votes)
	}
	wantCells := []struct {
		row, col string
		count    int
	}{
		{"Onboarding", "Keep", 3},
		{"Onboarding", "Drop", 0}, // zero-filled
		{"Billing", "Keep", 0},    // zero-filled
		{"Billing", "Drop", 0},    // negative clamped
	}
	for i, want := range wantCells {
		v := result.Votes[i]
		if v.RowLabel != want.row || v.ColumnLabel != want.col || v.DotCount != want.count {
			t.Errorf("votes[%d] = %+v, want %+v", i, v, want)
		}
	}
	if len(result.Notes) != 1 || result.Notes[0].Text != "ship it" {
		t.Errorf("notes = %+v", result.Notes)
	}
}

func TestPipelineStructureFailureShortCircuits(t *testing.T) {
	p := &scriptedProvider{errs: []error{&llm.APIError{StatusCode: 500, Message: "boom"}}}

	_, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("error = %v, want ErrStructure", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, extraction must not run after a structure failure", p.calls)
	}
}

func TestPipelineStructureDecodeFailure(t *testing.T) {
	p := &scriptedProvider{responses: []string{"sorry, I cannot help with that"}}

	_, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("error = %v, want ErrStructure", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
}

func TestPipelineExtractionFailure(t *testing.T) {
	p := &scriptedProvider{
		responses: []string{matrixStructure, ""},
		errs:      []error{nil, &llm.APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}},
	}

	_, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", err)
	}
	// The structured cause survives wrapping for rate-limit classification.
	if !llm.RateLimited(err) {
		t.Errorf("wrapped 429 lost its classification: %v", err)
	}
}

// A payload that decodes but violates the schema is rejected whole; there is
// no partial result.
func TestPipelineRejectsInvalidPayload(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		matrixStructure,
		`{"voting_data":[{"row_label":"Onboarding"}],"sticky_notes":[]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on failure", result)
	}
}

func TestPipelineFencedExtractionPayload(t *testing.T) {
	fenced := "```json\n" + `{"voting_data":[],"sticky_notes":[{"text":"a"}]}` + "\n```"
	p := &scriptedProvider{responses: []string{matrixStructure, fenced}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Errorf("notes = %+v", result.Notes)
	}
}

func TestPipelineDuplicateCellKeepsFirst(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"board_type":"voting","row_headers":["A"],"column_headers":["X"]}`,
		`{"voting_data":[
			{"row_label":"A","column_label":"X","dot_count":5},
			{"row_label":"A","column_label":"X","dot_count":9}
		],"sticky_notes":[]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Votes) != 1 || result.Votes[0].DotCount != 5 {
		t.Errorf("votes = %+v, want single record with first count", result.Votes)
	}
}

func TestPipelineDropsUndeclaredLabels(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"board_type":"voting","row_headers":["A"],"column_headers":["X"]}`,
		`{"voting_data":[
			{"row_label":"Hallucinated","column_label":"X","dot_count":7},
			{"row_label":"A","column_label":"X","dot_count":2}
		],"sticky_notes":[]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Votes) != 1 || result.Votes[0].RowLabel != "A" || result.Votes[0].DotCount != 2 {
		t.Errorf("votes = %+v", result.Votes)
	}
}

// Notes-only boards skip matrix normalization: vote records pass through
// as-is apart from negative-count clamping.
func TestPipelineNotesBoardPassthrough(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"board_type":"notes"}`,
		`{"voting_data":[{"row_label":"loose","column_label":"tally","dot_count":-1}],
		  "sticky_notes":[{"text":"retro went well","confidence":80}]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Votes) != 1 || result.Votes[0].DotCount != 0 {
		t.Errorf("votes = %+v, want clamped passthrough", result.Votes)
	}
	if result.Notes[0].Confidence != 80 {
		t.Errorf("notes = %+v", result.Notes)
	}
}

func TestPipelineEmptyArraysNeverNil(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"board_type":"notes"}`,
		`{"voting_data":[],"sticky_notes":[]}`,
	}}

	result, err := New(p).Run(context.Background(), []byte{1}, "image/jpeg", "m")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Votes == nil || result.Notes == nil {
		t.Error("empty result slices must be non-nil")
	}
}

func TestPipelineRequestShape(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		matrixStructure,
		`{"voting_data":[],"sticky_notes":[]}`,
	}}

	if _, err := New(p).Run(context.Background(), []byte{1, 2, 3}, "image/png", "gemini-1.5-pro"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	structureReq := p.requests[0]
	if !structureReq.JSONOutput || structureReq.Schema != nil {
		t.Errorf("structure call must use JSON mode without a schema: %+v", structureReq)
	}

	extractReq := p.requests[1]
	if extractReq.Schema == nil {
		t.Error("extraction call must carry the output schema")
	}
	if extractReq.Temperature == nil || *extractReq.Temperature != 0 {
		t.Errorf("extraction temperature = %v, want 0", extractReq.Temperature)
	}
	if extractReq.MIMEType != "image/png" || len(extractReq.Image) != 3 {
		t.Errorf("image not forwarded: %+v", extractReq)
	}
}
