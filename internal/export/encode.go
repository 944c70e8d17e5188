package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querygate/querygate/internal/format"
	"github.com/querygate/querygate/internal/query"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
)

type column struct {
	name string
	kind valueKind
}

// WriteParquet encodes result as a single row group. Column types are
// inferred from the values; mixed columns fall back to strings.
func WriteParquet(w io.Writer, result query.Result) error {
	columns, order := planColumns(result)
	group := parquet.Group{}
	for _, col := range columns {
		group[col.name] = parquet.Optional(nodeFor(col.kind))
	}
	schema := parquet.NewSchema("result", group)

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, values := range result.Rows {
		row := make(parquet.Row, 0, len(columns))
		for field, src := range order {
			value := values[src]
			row = append(row, parquetValue(columns[src].kind, value).Level(0, definition(value), field))
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteCSV writes a header line followed by one record per row.
func WriteCSV(w io.Writer, result query.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, values := range result.Rows {
		record := make([]string, len(values))
		for i, value := range values {
			if value == nil {
				continue
			}
			record[i] = format.Value(value)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// planColumns names and types every column. order maps schema field
// positions, which follow name order, back to result column indexes.
func planColumns(result query.Result) ([]column, []int) {
	columns := make([]column, len(result.Columns))
	seen := map[string]int{}
	for i, name := range result.Columns {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if seen[name] > 1 {
			name = name + "_" + strconv.Itoa(seen[name])
		}
		columns[i] = column{name: name, kind: inferKind(result.Rows, i)}
	}

	order := make([]int, len(columns))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return columns[order[a]].name < columns[order[b]].name })
	return columns, order
}

func inferKind(rows [][]any, idx int) valueKind {
	kind, found := kindString, false
	for _, row := range rows {
		if row[idx] == nil {
			continue
		}
		k := kindOf(row[idx])
		if !found {
			kind, found = k, true
			continue
		}
		if k != kind {
			return kindString
		}
	}
	return kind
}

func kindOf(value any) valueKind {
	switch value.(type) {
	case int64, int32, int:
		return kindInt
	case float64, float32:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	default:
		return kindString
	}
}

func nodeFor(kind valueKind) parquet.Node {
	switch kind {
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindTime:
		return parquet.Timestamp(parquet.Microsecond)
	default:
		return parquet.String()
	}
}

func parquetValue(kind valueKind, value any) parquet.Value {
	if value == nil {
		return parquet.Value{}
	}
	switch kind {
	case kindInt:
		switch typed := value.(type) {
		case int64:
			return parquet.Int64Value(typed)
		case int32:
			return parquet.Int64Value(int64(typed))
		case int:
			return parquet.Int64Value(int64(typed))
		}
	case kindFloat:
		switch typed := value.(type) {
		case float64:
			return parquet.DoubleValue(typed)
		case float32:
			return parquet.DoubleValue(float64(typed))
		}
	case kindBool:
		return parquet.BooleanValue(value.(bool))
	case kindTime:
		return parquet.Int64Value(value.(time.Time).UnixMicro())
	}
	return parquet.ByteArrayValue([]byte(format.Value(value)))
}

func definition(value any) int {
	if value == nil {
		return 0
	}
	return 1
}
