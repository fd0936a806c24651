package extract

import "errors"

var (
	// ErrStructure is returned when the structure-detection call or its JSON
	// decode fails. The pipeline never attempts extraction after it.
	ErrStructure = errors.New("boardscan: structure detection failed")

	// ErrExtraction is returned when the extraction call, decode, or schema
	// validation fails. No partial result accompanies it.
	ErrExtraction = errors.New("boardscan: extraction failed")
)

// Board type labels as the structure prompt asks for them.
const (
	BoardVoting  = "voting"
	BoardNotes   = "notes"
	BoardHybrid  = "hybrid"
	BoardUnknown = "unknown"
)

// BoardStructure is the stage-1 finding: what kind of board the photo shows
// and, for matrix layouts, the header labels. It only lives long enough to
// parameterize the extraction prompt.
type BoardStructure struct {
	BoardType     string   `json:"board_type"`
	RowHeaders    []string `json:"row_headers"`
	ColumnHeaders []string `json:"column_headers"`
	Legend        []string `json:"legend,omitempty"`
}

// IsMatrix reports whether both header lists are populated, which selects
// the per-cell counting branch of the extraction prompt.
func (s BoardStructure) IsMatrix() bool {
	return len(s.RowHeaders) > 0 && len(s.ColumnHeaders) > 0
}

// VoteRecord is one cell of a dot-voting matrix. Cells with no dots are
// still present with a zero count.
type VoteRecord struct {
	RowLabel       string `json:"row_label"`
	ColumnLabel    string `json:"column_label"`
	DotCount       int    `json:"dot_count"`
	ColorBreakdown string `json:"color_breakdown,omitempty"`
	SourceFile     string `json:"source_file,omitempty"`
}

// NoteRecord is one transcribed sticky note.
type NoteRecord struct {
	Text            string `json:"text"`
	CategoryContext string `json:"category_context,omitempty"`
	Confidence      int    `json:"confidence,omitempty"`
	SourceFile      string `json:"source_file,omitempty"`
}

// Result is the normalized output for a single image.
type Result struct {
	Votes []VoteRecord `json:"voting_data"`
	Notes []NoteRecord `json:"sticky_notes"`
}
