// Package querygatectl implements the operator CLI: remote calls against a
// querygate server, a local chat loop, keyring login and lake seeding.
package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/secrets"
	"github.com/querygate/querygate/internal/storage"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	// OpenSecrets opens the keyring used by login and chat.
	OpenSecrets func() (*secrets.Store, error)
	// NewSession wires the local pipeline used by chat.
	NewSession func(ctx context.Context, stderr io.Writer) (Session, error)
	// OpenLake opens the object store written by seed-lake.
	OpenLake func(ctx context.Context, stderr io.Writer) (storage.ObjectStore, string, *slog.Logger, error)
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}
	if defaults.Stdin == nil {
		defaults.Stdin = strings.NewReader("")
	}
	if defaults.NewSession == nil {
		defaults.NewSession = newLocalSession(defaults.OpenSecrets)
	}
	if defaults.OpenLake == nil {
		defaults.OpenLake = openLakeFromEnv
	}

	root := newRootCommand(&defaults)
	root.SetArgs(args)
	root.SetIn(defaults.Stdin)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintf(defaults.Stderr, "%v\n\n", err)
		_ = root.Usage()
		return 2
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "error: %v\n", err)
	return 1
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRootCommand(opts *Options) *cobra.Command {
	var c client
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "querygatectl",
		Short:         "Ask questions of a querygate server or a local pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return usageError{err: errors.New("a command is required")}
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			c.baseURL = strings.TrimRight(c.baseURL, "/")
			c.http = opts.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&c.baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "querygate API base URL")
	flags.StringVar(&c.apiKey, "api-key", opts.APIKey, "API key for authenticated requests")
	flags.DurationVar(&timeout, "timeout", durationOr(opts.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		simpleCommand(&c, "health", "Check that the server is up", http.MethodGet, "/v1/health"),
		simpleCommand(&c, "ready", "Check the store and the inference endpoint", http.MethodGet, "/v1/ready"),
		simpleCommand(&c, "schema", "Show the active schema", http.MethodGet, "/v1/schema"),
		simpleCommand(&c, "reload-schema", "Reload the schema from its source", http.MethodPost, "/v1/schema/reload"),
		newTranslateCommand(&c),
		newAskCommand(&c),
		newQueryCommand(&c),
		newChatCommand(opts),
		newLoginCommand(opts),
		newSeedLakeCommand(opts),
	)
	return root
}

func simpleCommand(c *client, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), method, path, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

// do sends payload as JSON. Responses with status >= 400 are reported on
// stderr and turned into exit code 1.
func (c *client) do(ctx context.Context, method, path string, payload any, stderr io.Writer) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		writeFailure(stderr, resp.StatusCode, body)
		return nil, exitError{code: 1}
	}
	return body, nil
}

type errorEnvelope struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

func writeFailure(w io.Writer, status int, body []byte) {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		_, _ = fmt.Fprintf(w, "http %d: %s\n", status, strings.TrimSpace(string(body)))
		return
	}
	_, _ = fmt.Fprintf(w, "%s (http %d, %s)\n", envelope.Message, status, envelope.Code)
	if sqlText, ok := envelope.Context["sql"].(string); ok && sqlText != "" {
		_, _ = fmt.Fprintf(w, "sql: %s\n", sqlText)
	}
	if details, ok := envelope.Context["details"].(string); ok && details != "" {
		_, _ = fmt.Fprintf(w, "details: %s\n", details)
	}
}

func printJSON(w io.Writer, raw []byte) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, _ = fmt.Fprintln(w, strings.TrimSpace(string(raw)))
		return
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(out.String()))
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
