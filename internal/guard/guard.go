// Package guard runs validated candidates against the target store under
// read-only credentials, a single statement and a hard timeout.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/diag"
	"github.com/querygate/querygate/internal/extract"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/redact"
)

const DefaultTimeout = 30 * time.Second

type Kind string

const (
	QueryRejected Kind = "query_rejected"
	StoreFailure  Kind = "store_failure"
	Timeout       Kind = "timeout"
)

// ExecutionError carries a message safe to show to users. Err keeps the
// underlying cause for errors.Is checks and is never rendered.
type ExecutionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Options struct {
	ReadOnly bool
	// Timeout overrides the guard default when positive.
	Timeout time.Duration
	// RowLimit overrides the guard default when positive.
	RowLimit int
}

type Config struct {
	// Reader runs read-only requests and must use read-only credentials.
	Reader query.Engine
	// Writer is optional; without it every non-read-only request is rejected.
	Writer         query.Engine
	DefaultTimeout time.Duration
	RowLimit       int
	// Secrets are literal values (DSNs, passwords) masked out of messages.
	Secrets []string
	Sink    diag.Sink
}

// Guard never retries: store errors are terminal for the request.
type Guard struct {
	reader   query.Engine
	writer   query.Engine
	timeout  time.Duration
	rowLimit int
	masker   redact.Masker
	sink     diag.Sink
}

func New(cfg Config) (*Guard, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("reader engine is required")
	}
	if cfg.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout must be >= 0")
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		reader:   cfg.Reader,
		writer:   cfg.Writer,
		timeout:  timeout,
		rowLimit: cfg.RowLimit,
		masker:   redact.NewMasker(cfg.Secrets...),
		sink:     cfg.Sink,
	}, nil
}

// WritesEnabled reports whether non-read-only requests can run.
func (g *Guard) WritesEnabled() bool {
	return g.writer != nil
}

func (g *Guard) Execute(ctx context.Context, candidate extract.Candidate, opts Options) (query.Result, error) {
	start := time.Now()
	result, err := g.execute(ctx, candidate, opts)
	elapsed := time.Since(start)

	outcome, detail := "ok", fmt.Sprintf("%d rows", len(result.Rows))
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		outcome, detail = string(execErr.Kind), execErr.Message
	}
	diag.Emit(ctx, g.sink, diag.Event{
		Stage:   diag.StageExecution,
		Outcome: outcome,
		Detail:  detail,
		Elapsed: elapsed,
	})
	return result, err
}

func (g *Guard) execute(ctx context.Context, candidate extract.Candidate, opts Options) (query.Result, error) {
	if !candidate.Executable() {
		return query.Result{}, reject("candidate is %s; only executable queries run", candidate.Classification)
	}
	if opts.ReadOnly && !candidate.ReadOnly {
		return query.Result{}, reject("query was validated for writes but the request is read-only")
	}

	engine := g.reader
	if !opts.ReadOnly {
		if g.writer == nil {
			return query.Result{}, reject("write queries are disabled")
		}
		engine = g.writer
	}

	timeout := g.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	rowLimit := g.rowLimit
	if opts.RowLimit > 0 {
		rowLimit = opts.RowLimit
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result query.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Execute(callCtx, query.Request{SQL: candidate.SQL, RowLimit: rowLimit, ReadOnly: opts.ReadOnly})
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return query.Result{}, &ExecutionError{
				Kind:    Timeout,
				Message: fmt.Sprintf("query did not finish within %s", timeout),
				Err:     context.DeadlineExceeded,
			}
		case ctx.Err() != nil:
			return query.Result{}, &ExecutionError{Kind: StoreFailure, Message: "query was cancelled", Err: ctx.Err()}
		}
		return query.Result{}, &ExecutionError{Kind: StoreFailure, Message: g.masker.Mask(out.err.Error()), Err: out.err}
	}

	for i, row := range out.result.Rows {
		if len(row) != len(out.result.Columns) {
			return query.Result{}, &ExecutionError{
				Kind:    StoreFailure,
				Message: fmt.Sprintf("row %d has %d values for %d columns", i, len(row), len(out.result.Columns)),
			}
		}
	}
	if out.result.Rows == nil {
		out.result.Rows = [][]any{}
	}
	return out.result, nil
}

func reject(format string, args ...any) error {
	return &ExecutionError{Kind: QueryRejected, Message: fmt.Sprintf(format, args...)}
}
