package export

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/felixgrant/boardscan/extract"
)

// Download filenames for the tabular artifacts. MasterNotesName is the
// aggregated notes file from a directory run; NotesCSVName is the per-batch
// notes download served by the API.
const (
	VotesCSVName    = "voting_matrix.csv"
	NotesCSVName    = "sticky_notes.csv"
	WorkbookName    = "batch_analysis.xlsx"
	MasterNotesName = "master_notes.csv"
)

// VotesCSV renders vote records as CSV bytes. An empty collection yields a
// header-only artifact, never an error.
func VotesCSV(votes []extract.VoteRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"row_label", "column_label", "dot_count", "color_breakdown", "source_file"}); err != nil {
		return nil, err
	}
	for _, v := range votes {
		rec := []string{v.RowLabel, v.ColumnLabel, strconv.Itoa(v.DotCount), v.ColorBreakdown, v.SourceFile}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// NotesCSV renders note records as CSV bytes.
func NotesCSV(notes []extract.NoteRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"text", "category_context", "confidence", "source_file"}); err != nil {
		return nil, err
	}
	for _, n := range notes {
		rec := []string{n.Text, n.CategoryContext, strconv.Itoa(n.Confidence), n.SourceFile}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// GridCSV renders a pivoted grid: column labels across the first row, one
// row per row label.
func GridCSV(grid *Grid) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{""}, grid.Columns...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i, row := range grid.Rows {
		rec := make([]string, 0, len(grid.Columns)+1)
		rec = append(rec, row)
		for _, n := range grid.Counts[i] {
			rec = append(rec, strconv.Itoa(n))
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
