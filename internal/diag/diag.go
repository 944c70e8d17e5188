// Package diag delivers per-request diagnostic events. Delivery is best
// effort: a failing or panicking sink never affects the request.
package diag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/observability"
)

const (
	StagePrompt     = "prompt"
	StageInference  = "inference"
	StageExtraction = "extraction"
	StageExecution  = "execution"
	StageFormat     = "format"
)

type Event struct {
	RequestID string        `bson:"request_id" json:"request_id"`
	TraceID   string        `bson:"trace_id,omitempty" json:"trace_id,omitempty"`
	Stage     string        `bson:"stage" json:"stage"`
	Attempt   int           `bson:"attempt,omitempty" json:"attempt,omitempty"`
	Outcome   string        `bson:"outcome" json:"outcome"`
	Detail    string        `bson:"detail,omitempty" json:"detail,omitempty"`
	Provider  string        `bson:"provider,omitempty" json:"provider,omitempty"`
	Elapsed   time.Duration `bson:"elapsed_ns" json:"elapsed_ns"`
	At        time.Time     `bson:"at" json:"at"`
}

type Sink interface {
	Record(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Record(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type ctxKey struct{}

// WithRequestID tags events emitted under ctx with a request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ctxKey{}).(string)
	return value
}

// Emit records event on sink and swallows every failure.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if event.TraceID == "" {
		event.TraceID = observability.TraceIDFromContext(ctx)
	}
	_ = deliver(ctx, sink, event)
}

func deliver(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diagnostic sink panic: %v", r)
		}
	}()
	return sink.Record(ctx, event)
}

// Multi fans an event out to every sink. Each sink failure is counted and
// logged but does not stop delivery to the rest.
type Multi struct {
	sinks  []namedSink
	logger *slog.Logger
}

type namedSink struct {
	name string
	sink Sink
}

func NewMulti(logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Multi{logger: logger}
}

func (m *Multi) Add(name string, sink Sink) *Multi {
	if sink != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	}
	return m
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := deliver(ctx, s.sink, event); err != nil {
			observability.IncrementDiagnosticDrop(s.name)
			m.logger.WarnContext(ctx, "diagnostic_delivery_failed",
				slog.String("sink", s.name),
				slog.String("stage", event.Stage),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
