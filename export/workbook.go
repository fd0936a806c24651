package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/felixgrant/boardscan/extract"
)

const (
	votesSheet = "Voting Matrix"
	notesSheet = "Sticky Notes"
)

// Workbook renders the aggregate collections as an XLSX workbook, one sheet
// per non-empty collection. When both collections are empty the workbook is
// still valid, just blank.
func Workbook(votes []extract.VoteRecord, notes []extract.NoteRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	wroteSheet := false
	if len(votes) > 0 {
		if err := writeVotesSheet(f, votes); err != nil {
			return nil, err
		}
		wroteSheet = true
	}
	if len(notes) > 0 {
		if err := writeNotesSheet(f, notes); err != nil {
			return nil, err
		}
		wroteSheet = true
	}

	// Drop the default sheet once real ones exist.
	if wroteSheet {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeVotesSheet(f *excelize.File, votes []extract.VoteRecord) error {
	if _, err := f.NewSheet(votesSheet); err != nil {
		return err
	}

	headers := []string{"Row Label", "Column Label", "Dot Count", "Color Breakdown", "Source File"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(votesSheet, cell, h); err != nil {
			return err
		}
	}
	for i, v := range votes {
		row := i + 2
		values := []any{v.RowLabel, v.ColumnLabel, v.DotCount, v.ColorBreakdown, v.SourceFile}
		for j, val := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			if err := f.SetCellValue(votesSheet, cell, val); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(votesSheet, "A", "B", 24)
	_ = f.SetColWidth(votesSheet, "C", "C", 10)
	_ = f.SetColWidth(votesSheet, "D", "D", 22)
	_ = f.SetColWidth(votesSheet, "E", "E", 32)
	return nil
}

func writeNotesSheet(f *excelize.File, notes []extract.NoteRecord) error {
	if _, err := f.NewSheet(notesSheet); err != nil {
		return err
	}

	headers := []string{"Text", "Category", "Confidence", "Source File"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(notesSheet, cell, h); err != nil {
			return err
		}
	}
	for i, n := range notes {
		row := i + 2
		values := []any{n.Text, n.CategoryContext, n.Confidence, n.SourceFile}
		for j, val := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			if err := f.SetCellValue(notesSheet, cell, val); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(notesSheet, "A", "A", 48)
	_ = f.SetColWidth(notesSheet, "B", "B", 22)
	_ = f.SetColWidth(notesSheet, "C", "C", 11)
	_ = f.SetColWidth(notesSheet, "D", "D", 32)
	return nil
}
