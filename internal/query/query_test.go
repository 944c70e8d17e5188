package query

import (
	"errors"
	"testing"
)

type fakeRows struct {
	columns []string
	rows    [][]any
	pos     int
	err     error
}

func (f *fakeRows) Columns() ([]string, error) { return f.columns, nil }

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	for i, value := range f.rows[f.pos-1] {
		*(dest[i].(*any)) = value
	}
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanRowsNormalizesBytesAndKeepsArity(t *testing.T) {
	rows := &fakeRows{
		columns: []string{"title", "year"},
		rows:    [][]any{{[]byte("1984"), int64(1949)}, {"Animal Farm", nil}},
	}
	columns, out, truncated, err := ScanRows(rows, 0)
	if err != nil {
		t.Fatalf("ScanRows() error = %v", err)
	}
	if truncated {
		t.Fatal("ScanRows() truncated without a limit")
	}
	if len(columns) != 2 || len(out) != 2 {
		t.Fatalf("ScanRows() = %v, %v", columns, out)
	}
	if out[0][0] != "1984" {
		t.Fatalf("bytes not normalized: %#v", out[0][0])
	}
	for _, row := range out {
		if len(row) != len(columns) {
			t.Fatalf("row arity = %d, want %d", len(row), len(columns))
		}
	}
}

func TestScanRowsStopsAtLimit(t *testing.T) {
	rows := &fakeRows{columns: []string{"n"}, rows: [][]any{{1}, {2}, {3}}}
	_, out, truncated, err := ScanRows(rows, 2)
	if err != nil {
		t.Fatalf("ScanRows() error = %v", err)
	}
	if len(out) != 2 || !truncated {
		t.Fatalf("ScanRows() rows = %d truncated = %v", len(out), truncated)
	}
}

func TestScanRowsEmptyResultIsNotAnError(t *testing.T) {
	_, out, _, err := ScanRows(&fakeRows{columns: []string{"n"}}, 10)
	if err != nil {
		t.Fatalf("ScanRows() error = %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("ScanRows() rows = %#v, want empty slice", out)
	}
}

func TestScanRowsSurfacesIterationError(t *testing.T) {
	_, _, _, err := ScanRows(&fakeRows{columns: []string{"n"}, err: errors.New("connection reset")}, 0)
	if err == nil {
		t.Fatal("expected iteration error")
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{sql: "SELECT 1", want: true},
		{sql: "  with x as (select 1) select * from x", want: true},
		{sql: "(SELECT 1) UNION (SELECT 2)", want: true},
		{sql: "UPDATE Books SET title = 'x'", want: false},
		{sql: "DELETE FROM Books RETURNING book_id", want: true},
		{sql: "", want: false},
	}
	for _, tc := range tests {
		if got := ReturnsRows(tc.sql); got != tc.want {
			t.Fatalf("ReturnsRows(%q) = %v, want %v", tc.sql, got, tc.want)
		}
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := StripTrailingSemicolons(" SELECT 1 ; ; "); got != "SELECT 1" {
		t.Fatalf("StripTrailingSemicolons() = %q", got)
	}
}

func TestIsReadStatement(t *testing.T) {
	if !IsReadStatement("select title from Books") {
		t.Fatal("select should be a read statement")
	}
	if IsReadStatement("DELETE FROM Books RETURNING book_id") {
		t.Fatal("delete should not be a read statement")
	}
	if IsReadStatement("DROP TABLE Books") {
		t.Fatal("drop should not be a read statement")
	}
}
