package diag

import (
	"context"
	"log/slog"

	"github.com/querygate/querygate/internal/observability"
)

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, event Event) error {
	if s.Logger == nil {
		return nil
	}
	level := slog.LevelDebug
	switch event.Outcome {
	case "ok", "executable":
	default:
		level = slog.LevelInfo
	}
	s.Logger.Log(ctx, level, "diagnostic_event",
		slog.String("request_id", event.RequestID),
		slog.String("stage", event.Stage),
		slog.Int("attempt", event.Attempt),
		slog.String("outcome", event.Outcome),
		slog.String("provider", event.Provider),
		slog.String("detail", event.Detail),
		slog.String("elapsed", event.Elapsed.String()),
	)
	return nil
}

// MetricsSink turns events into prometheus observations.
type MetricsSink struct{}

func (MetricsSink) Record(_ context.Context, event Event) error {
	switch event.Stage {
	case StageInference:
		observability.ObserveInferenceAttempt(event.Provider, event.Outcome, event.Elapsed)
	case StageExtraction:
		observability.ObserveExtraction(event.Outcome)
	case StageExecution:
		observability.ObserveExecution(event.Outcome, event.Elapsed)
	}
	return nil
}
