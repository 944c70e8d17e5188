// Package compiler drives one natural-language request through prompt
// building, inference, extraction, guarded execution and formatting.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/diag"
	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/extract"
	"github.com/querygate/querygate/internal/format"
	"github.com/querygate/querygate/internal/guard"
	"github.com/querygate/querygate/internal/inference"
	"github.com/querygate/querygate/internal/prompt"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
)

type Stage string

const (
	StageBuilding  Stage = "building"
	StagePrompted  Stage = "prompted"
	StageExtracted Stage = "extracted"
	StageExecuted  Stage = "executed"
	StageFormatted Stage = "formatted"
)

type SchemaSource interface {
	Current() schema.Descriptor
}

type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) (inference.ModelResponse, error)
}

type Executor interface {
	Execute(ctx context.Context, candidate extract.Candidate, opts guard.Options) (query.Result, error)
}

type Exporter interface {
	Export(ctx context.Context, requestID string, format export.Format, result query.Result) (export.Artifact, error)
}

type Dependencies struct {
	Schema    SchemaSource
	Prompts   *prompt.Builder
	Gateway   Generator
	Extractor *extract.Extractor
	Guard     Executor
	// Exporter is optional; export requests fail without it.
	Exporter Exporter
	Sink     diag.Sink
	Logger   *slog.Logger
	NewID    func() string
}

type Request struct {
	Question string
	ReadOnly bool
	// TranslateOnly stops after extraction.
	TranslateOnly bool
	// Export uploads the rows when set.
	Export export.Format
	Timeout time.Duration
}

// Outcome is the terminal state of one request. Err is nil on success;
// Display always carries what the user sees.
type Outcome struct {
	RequestID      string                 `json:"request_id"`
	Stage          Stage                  `json:"stage"`
	Transitions    []Stage                `json:"transitions"`
	Classification extract.Classification `json:"classification,omitempty"`
	SQL            string                 `json:"sql,omitempty"`
	Provider       string                 `json:"provider,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Attempts       int                    `json:"attempts,omitempty"`
	Executed       bool                   `json:"executed"`
	Display        format.Display         `json:"result"`
	Export         *export.Artifact       `json:"export,omitempty"`
	Elapsed        time.Duration          `json:"elapsed_ns"`
	Err            error                  `json:"-"`
}

// Pipeline holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	deps Dependencies
}

func New(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Schema == nil:
		return nil, fmt.Errorf("schema source is required")
	case deps.Prompts == nil:
		return nil, fmt.Errorf("prompt builder is required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("inference gateway is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Guard == nil:
		return nil, fmt.Errorf("execution guard is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Pipeline{deps: deps}, nil
}

type run struct {
	p       *Pipeline
	ctx     context.Context
	out     Outcome
	started time.Time
}

func (p *Pipeline) begin(ctx context.Context) *run {
	id := p.deps.NewID()
	r := &run{
		p:       p,
		ctx:     diag.WithRequestID(ctx, id),
		out:     Outcome{RequestID: id},
		started: time.Now(),
	}
	r.advance(StageBuilding)
	return r
}

func (r *run) advance(stage Stage) {
	r.out.Stage = stage
	r.out.Transitions = append(r.out.Transitions, stage)
}

// finish formats whatever the request produced and moves to Formatted.
func (r *run) finish(result *query.Result, err error) Outcome {
	switch {
	case err != nil:
		r.out.Err = err
		r.out.Display = format.Failure(err)
	case result != nil:
		r.out.Display = format.Format(*result)
	default:
		r.out.Display = format.Display{Headers: []string{}, Rows: [][]string{}}
	}
	r.advance(StageFormatted)
	r.out.Elapsed = time.Since(r.started)

	outcome := "ok"
	if err != nil {
		outcome = format.Kind(err)
	}
	diag.Emit(r.ctx, r.p.deps.Sink, diag.Event{Stage: diag.StageFormat, Outcome: outcome, Elapsed: r.out.Elapsed})

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	r.p.deps.Logger.Log(r.ctx, level, "request_completed",
		slog.String("request_id", r.out.RequestID),
		slog.String("classification", string(r.out.Classification)),
		slog.Bool("executed", r.out.Executed),
		slog.Int("rows", r.out.Display.RowCount),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", r.out.Elapsed),
	)
	return r.out
}

// Run answers a natural-language question.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	r := p.begin(ctx)

	desc := p.deps.Schema.Current()
	built, err := p.deps.Prompts.BuildWithOptions(req.Question, desc, prompt.Options{AllowWrites: !req.ReadOnly})
	if err != nil {
		diag.Emit(r.ctx, p.deps.Sink, diag.Event{Stage: diag.StagePrompt, Outcome: "invalid", Detail: err.Error()})
		return r.finish(nil, fmt.Errorf("build prompt: %w", err))
	}
	diag.Emit(r.ctx, p.deps.Sink, diag.Event{Stage: diag.StagePrompt, Outcome: "ok", Detail: fmt.Sprintf("%d tables", len(desc.Tables))})

	response, err := p.deps.Gateway.Generate(r.ctx, built)
	if err != nil {
		return r.finish(nil, err)
	}
	r.advance(StagePrompted)
	r.out.Provider, r.out.Model, r.out.Attempts = response.Provider, response.Model, response.Attempts

	candidate := p.deps.Extractor.Extract(response.Text, desc, req.ReadOnly)
	return p.afterExtraction(r, candidate, req)
}

// RunSQL validates and runs a caller-supplied statement. It skips the
// prompt and inference stages.
func (p *Pipeline) RunSQL(ctx context.Context, sqlText string, req Request) Outcome {
	r := p.begin(ctx)
	candidate := p.deps.Extractor.Validate(sqlText, p.deps.Schema.Current(), req.ReadOnly)
	return p.afterExtraction(r, candidate, req)
}

func (p *Pipeline) afterExtraction(r *run, candidate extract.Candidate, req Request) Outcome {
	r.advance(StageExtracted)
	r.out.Classification = candidate.Classification
	r.out.SQL = candidate.SQL
	diag.Emit(r.ctx, p.deps.Sink, diag.Event{Stage: diag.StageExtraction, Outcome: string(candidate.Classification), Detail: candidate.Reason})

	if err := candidate.Err(); err != nil {
		return r.finish(nil, err)
	}
	if req.TranslateOnly {
		return r.finish(nil, nil)
	}

	result, err := p.deps.Guard.Execute(r.ctx, candidate, guard.Options{ReadOnly: req.ReadOnly, Timeout: req.Timeout})
	r.advance(StageExecuted)
	r.out.Executed = true
	if err != nil {
		return r.finish(nil, err)
	}

	if req.Export != "" {
		if p.deps.Exporter == nil {
			return r.finish(nil, fmt.Errorf("exports are not enabled"))
		}
		artifact, err := p.deps.Exporter.Export(r.ctx, r.out.RequestID, req.Export, result)
		if err != nil {
			p.deps.Logger.WarnContext(r.ctx, "export_failed",
				slog.String("request_id", r.out.RequestID),
				slog.Any("error", err),
			)
			return r.finish(nil, fmt.Errorf("export results: %w", err))
		}
		r.out.Export = &artifact
	}
	return r.finish(&result, nil)
}

// Question normalizes user input the way the CLI and API both accept it.
func Question(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
