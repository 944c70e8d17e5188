package querygatectl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/format"
)

type askPayload struct {
	Question string `json:"question"`
	ReadOnly *bool  `json:"read_only,omitempty"`
	Export   string `json:"export,omitempty"`
}

type queryPayload struct {
	SQL      string `json:"sql"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

type outcomeView struct {
	RequestID string           `json:"request_id"`
	SQL       string           `json:"sql"`
	Display   format.Display   `json:"result"`
	Export    *export.Artifact `json:"export"`
}

type outputFlags struct {
	raw     bool
	showSQL bool
}

func (o *outputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.raw, "json", false, "print the raw JSON response")
	cmd.Flags().BoolVar(&o.showSQL, "show-sql", false, "print the generated SQL above the results")
}

func newTranslateCommand(c *client) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "translate <question>",
		Short: "Show the SQL a question compiles to without running it",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/translate", map[string]string{"question": strings.Join(args, " ")}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if raw {
				printJSON(cmd.OutOrStdout(), body)
				return nil
			}
			var resp struct {
				SQL string `json:"sql"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.SQL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON response")
	return cmd
}

func newAskCommand(c *client) *cobra.Command {
	var out outputFlags
	var write bool
	var exportFormat string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Compile a question to SQL, run it and print the results",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := askPayload{Question: strings.Join(args, " "), Export: exportFormat}
			if write {
				payload.ReadOnly = boolPtr(false)
			}
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/ask", payload, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), body, out)
		},
	}
	out.bind(cmd)
	cmd.Flags().BoolVar(&write, "write", false, "allow a data-modifying statement (needs the query_writer role)")
	cmd.Flags().StringVar(&exportFormat, "export", "", "also export the rows to the object store (parquet or csv)")
	return cmd
}

func newQueryCommand(c *client) *cobra.Command {
	var out outputFlags
	var write bool
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Validate and run a SQL statement",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := queryPayload{SQL: strings.Join(args, " ")}
			if write {
				payload.ReadOnly = boolPtr(false)
			}
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/query", payload, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), body, out)
		},
	}
	out.bind(cmd)
	cmd.Flags().BoolVar(&write, "write", false, "allow a data-modifying statement (needs the query_writer role)")
	return cmd
}

func printOutcome(w io.Writer, body []byte, out outputFlags) error {
	if out.raw {
		printJSON(w, body)
		return nil
	}
	var view outcomeView
	if err := json.Unmarshal(body, &view); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.showSQL && view.SQL != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", view.SQL)
	}
	_, _ = fmt.Fprintln(w, format.Render(view.Display))
	if view.Export != nil {
		_, _ = fmt.Fprintf(w, "exported %d rows to %s\n", view.Export.Rows, view.Export.Key)
		if view.Export.URL != "" {
			_, _ = fmt.Fprintf(w, "download: %s\n", view.Export.URL)
		}
	}
	return nil
}

func boolPtr(v bool) *bool {
	return &v
}
