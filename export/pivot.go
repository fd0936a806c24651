package export

import (
	"errors"
	"fmt"
	"sort"

	"github.com/felixgrant/boardscan/extract"
)

// ErrPivotShape is returned when vote records cannot be pivoted into a grid.
// Callers recover by rendering the flat record list instead; this error is
// never a hard failure.
var ErrPivotShape = errors.New("boardscan: vote records do not pivot cleanly")

// Grid is the pivoted matrix view of a vote collection: row labels down,
// column labels across, dot counts in the cells. Axes are sorted
// lexicographically so the grid is independent of input record order.
type Grid struct {
	Rows    []string `json:"rows"`
	Columns []string `json:"columns"`
	Counts  [][]int  `json:"counts"` // Counts[i][j] is Rows[i] x Columns[j]
}

// PivotVotes builds a Grid from flat vote records. Cells absent from the
// input read as zero. Any duplicate (row_label, column_label) pair -
// including the same cell reported by two source files - makes the cell
// value ambiguous and fails with ErrPivotShape.
func PivotVotes(votes []extract.VoteRecord) (*Grid, error) {
	type cell struct{ row, col string }

	rowSet := make(map[string]bool)
	colSet := make(map[string]bool)
	counts := make(map[cell]int, len(votes))

	for _, v := range votes {
		key := cell{v.RowLabel, v.ColumnLabel}
		if _, dup := counts[key]; dup {
			return nil, fmt.Errorf("%w: duplicate cell (%q, %q)",
				ErrPivotShape, v.RowLabel, v.ColumnLabel)
		}
		counts[key] = v.DotCount
		rowSet[v.RowLabel] = true
		colSet[v.ColumnLabel] = true
	}

	rows := sortedKeys(rowSet)
	cols := sortedKeys(colSet)

	grid := &Grid{Rows: rows, Columns: cols, Counts: make([][]int, len(rows))}
	for i, row := range rows {
		grid.Counts[i] = make([]int, len(cols))
		for j, col := range cols {
			grid.Counts[i][j] = counts[cell{row, col}]
		}
	}
	return grid, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
