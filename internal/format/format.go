// Package format turns execution results and pipeline errors into display
// values. Nothing here performs I/O.
package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/querygate/querygate/internal/extract"
	"github.com/querygate/querygate/internal/guard"
	"github.com/querygate/querygate/internal/inference"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/redact"
)

const NullText = "NULL"

type Display struct {
	Headers      []string   `json:"headers"`
	Rows         [][]string `json:"rows"`
	RowCount     int        `json:"row_count"`
	RowsAffected int64      `json:"rows_affected,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	Error        *ErrorView `json:"error,omitempty"`
}

type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (d Display) Failed() bool {
	return d.Error != nil
}

// Format keeps column and row order exactly as the store returned them.
func Format(result query.Result) Display {
	headers := make([]string, len(result.Columns))
	copy(headers, result.Columns)

	rows := make([][]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = Value(value)
		}
		rows = append(rows, cells)
	}
	return Display{
		Headers:      headers,
		Rows:         rows,
		RowCount:     len(rows),
		RowsAffected: result.RowsAffected,
		Truncated:    result.Truncated,
	}
}

// Failure wraps err into a display carrying only the user-facing message.
func Failure(err error) Display {
	kind, message, detail := describe(err)
	return Display{
		Headers: []string{},
		Rows:    [][]string{},
		Error:   &ErrorView{Kind: kind, Message: message, Detail: detail},
	}
}

// Message returns the plain-language text shown for err.
func Message(err error) string {
	_, message, _ := describe(err)
	return message
}

// Kind returns a stable machine-readable code for err.
func Kind(err error) string {
	kind, _, _ := describe(err)
	return kind
}

func describe(err error) (kind, message, detail string) {
	if err == nil {
		return "", "", ""
	}

	var extractionErr *extract.ExtractionError
	var gatewayErr *inference.GatewayError
	var executionErr *guard.ExecutionError
	switch {
	case errors.As(err, &extractionErr):
		if extractionErr.Kind == extract.Refused {
			return "refused", "That question cannot be answered from the available data.", extractionErr.Reason
		}
		return "malformed", "Could not form a valid query from that request.", extractionErr.Reason

	case errors.As(err, &gatewayErr):
		detail = redact.Mask(fmt.Sprint(gatewayErr.Err))
		switch gatewayErr.Kind {
		case inference.KindRetriesExhausted:
			return "inference_unavailable", fmt.Sprintf("The language model is overloaded; gave up after %d attempts. Please try again later.", gatewayErr.Attempts), detail
		case inference.KindTimeout:
			return "inference_timeout", "The language model did not respond in time.", detail
		default:
			return "inference_failed", "The language model rejected the request.", detail
		}

	case errors.As(err, &executionErr):
		switch executionErr.Kind {
		case guard.QueryRejected:
			return "query_rejected", "The query was not run: " + executionErr.Message + ".", ""
		case guard.Timeout:
			return "query_timeout", "The query took too long and was cancelled.", executionErr.Message
		default:
			return "store_failure", "The database reported an error.", executionErr.Message
		}
	}
	return "internal", "The request failed.", redact.Mask(err.Error())
}

// Value renders a single cell.
func Value(value any) string {
	switch typed := value.(type) {
	case nil:
		return NullText
	case string:
		return typed
	case []byte:
		return string(typed)
	case bool:
		return strconv.FormatBool(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int:
		return strconv.Itoa(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

// Render draws d as a text table for terminals.
func Render(d Display) string {
	if d.Error != nil {
		if d.Error.Detail != "" {
			return d.Error.Message + "\n" + d.Error.Detail
		}
		return d.Error.Message
	}
	if len(d.Headers) == 0 {
		if d.RowsAffected > 0 {
			return fmt.Sprintf("(%d rows affected)", d.RowsAffected)
		}
		return "(no columns)"
	}

	data := pterm.TableData{d.Headers}
	data = append(data, d.Rows...)
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		table = plainTable(d)
	}

	var sb strings.Builder
	sb.WriteString(table)
	sb.WriteString("\n")
	sb.WriteString(summary(d))
	return sb.String()
}

func summary(d Display) string {
	noun := "rows"
	if d.RowCount == 1 {
		noun = "row"
	}
	if d.Truncated {
		return fmt.Sprintf("(%d %s, truncated)", d.RowCount, noun)
	}
	return fmt.Sprintf("(%d %s)", d.RowCount, noun)
}

func plainTable(d Display) string {
	lines := []string{strings.Join(d.Headers, "\t")}
	for _, row := range d.Rows {
		lines = append(lines, strings.Join(row, "\t"))
	}
	return strings.Join(lines, "\n")
}
