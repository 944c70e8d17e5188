// Package query defines the engines that run validated statements against the
// target store.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Request struct {
	SQL string
	// RowLimit caps the rows read back. Zero means unlimited.
	RowLimit int
	ReadOnly bool
}

// Result holds an ordered column list and rows of the same arity.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Truncated    bool
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// rowSource is the part of *sql.Rows used by ScanRows.
type rowSource interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ rowSource = (*sql.Rows)(nil)

// ScanRows reads at most limit rows (all when limit <= 0) into generic values.
func ScanRows(rows rowSource, limit int) (columns []string, out [][]any, truncated bool, err error) {
	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}
	out = make([][]any, 0)
	for rows.Next() {
		if limit > 0 && len(out) == limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, truncated, nil
}

func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// ReturnsRows reports whether a statement produces a result set.
func ReturnsRows(sqlText string) bool {
	fields := strings.Fields(strings.ToUpper(sqlText))
	return leadsWithRead(fields) || hasField(fields, "RETURNING")
}

// IsReadStatement judges a statement by its leading keyword. It backs up
// store-side permissions on engines that cannot open a read-only session.
func IsReadStatement(sqlText string) bool {
	fields := strings.Fields(strings.ToUpper(sqlText))
	return leadsWithRead(fields) && !hasField(fields, "RETURNING")
}

func leadsWithRead(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch strings.TrimLeft(fields[0], "(") {
	case "SELECT", "WITH", "VALUES", "TABLE", "SHOW", "EXPLAIN", "DESCRIBE":
		return true
	}
	return false
}

func hasField(fields []string, want string) bool {
	for _, field := range fields {
		if field == want {
			return true
		}
	}
	return false
}
