package compiler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/querygate/querygate/internal/diag"
	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/extract"
	"github.com/querygate/querygate/internal/guard"
	"github.com/querygate/querygate/internal/inference"
	"github.com/querygate/querygate/internal/prompt"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
)

const orwellResponse = "```sql\nSELECT b.title\nFROM Books b\nJOIN Authors a ON b.author_id = a.author_id\nWHERE a.last_name = 'Orwell';\n```"

func TestRunExecutableReachesFormatted(t *testing.T) {
	gateway := &fakeGateway{text: orwellResponse}
	executor := &fakeGuard{result: query.Result{Columns: []string{"title"}, Rows: [][]any{{"1984"}, {"Animal Farm"}}}}
	p := newPipeline(t, gateway, executor, nil)

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true})
	if out.Err != nil {
		t.Fatalf("Run() error = %v", out.Err)
	}
	assertTransitions(t, out, StageBuilding, StagePrompted, StageExtracted, StageExecuted, StageFormatted)
	if out.Classification != extract.Executable || !out.Executed {
		t.Fatalf("outcome = %+v", out)
	}
	if out.RequestID != "req-1" || out.Provider != "fake" || out.Attempts != 1 {
		t.Fatalf("outcome metadata = %+v", out)
	}
	if out.Display.RowCount != 2 || out.Display.Rows[0][0] != "1984" {
		t.Fatalf("display = %+v", out.Display)
	}
	if !strings.Contains(gateway.lastPrompt.System, "TABLE Books") || !strings.Contains(gateway.lastPrompt.User, "Orwell") {
		t.Fatalf("prompt = %+v", gateway.lastPrompt)
	}
	if !executor.lastOptions.ReadOnly {
		t.Fatal("guard options lost read-only flag")
	}
}

func TestRunMalformedNeverReachesGuard(t *testing.T) {
	executor := &fakeGuard{}
	p := newPipeline(t, &fakeGateway{text: "```sql\nDROP TABLE Books\n```"}, executor, nil)

	out := p.Run(context.Background(), Request{Question: "drop the books table", ReadOnly: true})
	assertTransitions(t, out, StageBuilding, StagePrompted, StageExtracted, StageFormatted)
	if out.Classification != extract.Malformed || executor.calls != 0 {
		t.Fatalf("classification = %s guard calls = %d", out.Classification, executor.calls)
	}
	if out.Display.Error == nil || out.Display.Error.Kind != "malformed" {
		t.Fatalf("display error = %+v", out.Display.Error)
	}
}

func TestRunRefusedNeverReachesGuard(t *testing.T) {
	executor := &fakeGuard{}
	p := newPipeline(t, &fakeGateway{text: "```sql\n" + prompt.RefusalSentinel + "\n```"}, executor, nil)

	out := p.Run(context.Background(), Request{Question: "what is the weather", ReadOnly: true})
	if out.Classification != extract.Refused || executor.calls != 0 {
		t.Fatalf("classification = %s guard calls = %d", out.Classification, executor.calls)
	}
	var extractionErr *extract.ExtractionError
	if !errors.As(out.Err, &extractionErr) || extractionErr.Kind != extract.Refused {
		t.Fatalf("Err = %v", out.Err)
	}
}

func TestRunGatewayFailureIsFormatted(t *testing.T) {
	gatewayErr := &inference.GatewayError{Kind: inference.KindRetriesExhausted, Attempts: 3, Err: errors.New("503")}
	p := newPipeline(t, &fakeGateway{err: gatewayErr}, &fakeGuard{}, nil)

	out := p.Run(context.Background(), Request{Question: "list all books", ReadOnly: true})
	assertTransitions(t, out, StageBuilding, StageFormatted)
	if !errors.Is(out.Err, gatewayErr) || out.Display.Error.Kind != "inference_unavailable" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunZeroRowsIsSuccess(t *testing.T) {
	p := newPipeline(t, &fakeGateway{text: orwellResponse}, &fakeGuard{result: query.Result{Columns: []string{"title"}, Rows: [][]any{}}}, nil)

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true})
	if out.Err != nil || out.Display.Failed() || out.Display.RowCount != 0 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunTranslateOnlyStopsAfterExtraction(t *testing.T) {
	executor := &fakeGuard{}
	p := newPipeline(t, &fakeGateway{text: orwellResponse}, executor, nil)

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true, TranslateOnly: true})
	assertTransitions(t, out, StageBuilding, StagePrompted, StageExtracted, StageFormatted)
	if out.Err != nil || executor.calls != 0 || !strings.HasPrefix(out.SQL, "SELECT b.title") {
		t.Fatalf("outcome = %+v guard calls = %d", out, executor.calls)
	}
}

func TestRunSQLSkipsInference(t *testing.T) {
	gateway := &fakeGateway{}
	executor := &fakeGuard{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}}
	p := newPipeline(t, gateway, executor, nil)

	out := p.RunSQL(context.Background(), "SELECT COUNT(*) AS n FROM Books", Request{ReadOnly: true})
	assertTransitions(t, out, StageBuilding, StageExtracted, StageExecuted, StageFormatted)
	if out.Err != nil || gateway.calls != 0 || out.Display.Rows[0][0] != "3" {
		t.Fatalf("outcome = %+v gateway calls = %d", out, gateway.calls)
	}
}

func TestRunExportAttachesArtifact(t *testing.T) {
	exporter := &fakeExporter{}
	p := newPipeline(t, &fakeGateway{text: orwellResponse}, &fakeGuard{result: query.Result{Columns: []string{"title"}, Rows: [][]any{{"1984"}}}}, exporter)

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true, Export: export.FormatCSV})
	if out.Err != nil || out.Export == nil || out.Export.Key != "exports/req-1.csv" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunExportWithoutExporterFails(t *testing.T) {
	p := newPipeline(t, &fakeGateway{text: orwellResponse}, &fakeGuard{result: query.Result{Columns: []string{"title"}}}, nil)

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true, Export: export.FormatParquet})
	if out.Err == nil || !out.Display.Failed() {
		t.Fatalf("outcome = %+v, want export failure", out)
	}
}

func TestRunEmitsStageDiagnosticsDespiteFailingSink(t *testing.T) {
	var mu sync.Mutex
	stages := []string{}
	sink := diag.SinkFunc(func(_ context.Context, ev diag.Event) error {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
		panic("sink exploded")
	})
	p, err := New(Dependencies{
		Schema:    mustRegistry(t),
		Prompts:   prompt.NewBuilder("postgres"),
		Gateway:   &fakeGateway{text: orwellResponse},
		Extractor: extract.NewExtractor(),
		Guard:     &fakeGuard{result: query.Result{Columns: []string{"title"}}},
		Sink:      sink,
		NewID:     func() string { return "req-1" },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := p.Run(context.Background(), Request{Question: "list all books by Orwell", ReadOnly: true})
	if out.Err != nil {
		t.Fatalf("Run() error = %v, sink failures must not fail requests", out.Err)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(stages, ",") != "prompt,extraction,format" {
		t.Fatalf("stages = %v", stages)
	}
}

func TestRunRejectsEmptyQuestion(t *testing.T) {
	gateway := &fakeGateway{}
	p := newPipeline(t, gateway, &fakeGuard{}, nil)

	out := p.Run(context.Background(), Request{Question: "   ", ReadOnly: true})
	if out.Err == nil || gateway.calls != 0 {
		t.Fatalf("outcome = %+v gateway calls = %d", out, gateway.calls)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestQuestion(t *testing.T) {
	if got := Question("  list \n all\tbooks "); got != "list all books" {
		t.Fatalf("Question() = %q", got)
	}
}

func newPipeline(t *testing.T, gateway Generator, executor Executor, exporter Exporter) *Pipeline {
	t.Helper()
	deps := Dependencies{
		Schema:    mustRegistry(t),
		Prompts:   prompt.NewBuilder("postgres"),
		Gateway:   gateway,
		Extractor: extract.NewExtractor(),
		Guard:     executor,
		NewID:     func() string { return "req-1" },
	}
	if exporter != nil {
		deps.Exporter = exporter
	}
	p, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func mustRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry, err := schema.NewRegistry(schema.Library())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

func assertTransitions(t *testing.T, out Outcome, want ...Stage) {
	t.Helper()
	if len(out.Transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", out.Transitions, want)
	}
	for i := range want {
		if out.Transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", out.Transitions, want)
		}
	}
	if out.Stage != StageFormatted {
		t.Fatalf("final stage = %s", out.Stage)
	}
}

type fakeGateway struct {
	text       string
	err        error
	calls      int
	lastPrompt prompt.Prompt
}

func (f *fakeGateway) Generate(_ context.Context, p prompt.Prompt) (inference.ModelResponse, error) {
	f.calls++
	f.lastPrompt = p
	if f.err != nil {
		return inference.ModelResponse{}, f.err
	}
	return inference.ModelResponse{Text: f.text, Provider: "fake", Model: "fake-model", Attempts: 1}, nil
}

type fakeGuard struct {
	result      query.Result
	err         error
	calls       int
	lastOptions guard.Options
}

func (f *fakeGuard) Execute(_ context.Context, candidate extract.Candidate, opts guard.Options) (query.Result, error) {
	f.calls++
	f.lastOptions = opts
	if !candidate.Executable() {
		return query.Result{}, &guard.ExecutionError{Kind: guard.QueryRejected, Message: "not executable"}
	}
	return f.result, f.err
}

type fakeExporter struct{}

func (fakeExporter) Export(_ context.Context, requestID string, format export.Format, result query.Result) (export.Artifact, error) {
	return export.Artifact{Key: "exports/" + requestID + "." + string(format), Format: format, Rows: len(result.Rows)}, nil
}
