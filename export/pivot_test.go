package export

import (
	"errors"
	"reflect"
	"testing"

	"github.com/felixgrant/boardscan/extract"
)

func vote(row, col string, count int) extract.VoteRecord {
	return extract.VoteRecord{RowLabel: row, ColumnLabel: col, DotCount: count}
}

func TestPivotVotes(t *testing.T) {
	votes := []extract.VoteRecord{
		vote("Billing", "Keep", 3),
		vote("Onboarding", "Drop", 1),
		vote("Onboarding", "Keep", 5),
	}

	grid, err := PivotVotes(votes)
	if err != nil {
		t.Fatalf("PivotVotes: %v", err)
	}

	if !reflect.DeepEqual(grid.Rows, []string{"Billing", "Onboarding"}) {
		t.Errorf("rows = %v", grid.Rows)
	}
	if !reflect.DeepEqual(grid.Columns, []string{"Drop", "Keep"}) {
		t.Errorf("columns = %v", grid.Columns)
	}
	want := [][]int{
		{0, 3}, // Billing: Drop missing, reads as zero
		{1, 5},
	}
	if !reflect.DeepEqual(grid.Counts, want) {
		t.Errorf("counts = %v, want %v", grid.Counts, want)
	}
}

// The grid must not depend on the order records arrived in.
func TestPivotVotesOrderIndependent(t *testing.T) {
	forward := []extract.VoteRecord{
		vote("A", "X", 1),
		vote("A", "Y", 2),
		vote("B", "X", 3),
	}
	reversed := []extract.VoteRecord{forward[2], forward[1], forward[0]}

	g1, err := PivotVotes(forward)
	if err != nil {
		t.Fatalf("PivotVotes(forward): %v", err)
	}
	g2, err := PivotVotes(reversed)
	if err != nil {
		t.Fatalf("PivotVotes(reversed): %v", err)
	}
	if !reflect.DeepEqual(g1, g2) {
		t.Errorf("grids differ:\n%+v\n%+v", g1, g2)
	}
}

func TestPivotVotesDuplicateCell(t *testing.T) {
	votes := []extract.VoteRecord{
		vote("A", "X", 1),
		{RowLabel: "A", ColumnLabel: "X", DotCount: 2, SourceFile: "other.jpg"},
	}

	_, err := PivotVotes(votes)
	if !errors.Is(err, ErrPivotShape) {
		t.Fatalf("error = %v, want ErrPivotShape", err)
	}
}

func TestPivotVotesEmpty(t *testing.T) {
	grid, err := PivotVotes(nil)
	if err != nil {
		t.Fatalf("PivotVotes: %v", err)
	}
	if len(grid.Rows) != 0 || len(grid.Columns) != 0 || len(grid.Counts) != 0 {
		t.Errorf("grid = %+v, want empty", grid)
	}
}
