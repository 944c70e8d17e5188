package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/diag"
	"github.com/querygate/querygate/internal/prompt"
	"github.com/querygate/querygate/internal/redact"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.5
	DefaultTimeout     = 60 * time.Second
	defaultHealthLimit = 5 * time.Second
)

type ModelResponse struct {
	Text     string
	Model    string
	Provider string
	Attempts int
	Elapsed  time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Model       string
	MaxAttempts int
	BaseDelay   time.Duration
	// Timeout bounds each attempt. Expiry abandons the call.
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Sink        diag.Sink
	Sleep       SleepFunc
	Now         func() time.Time
}

// Gateway holds only immutable configuration and is safe for concurrent use.
// Every Generate call has its own retry budget.
type Gateway struct {
	provider    Provider
	model       string
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	maxTokens   int
	temperature float64
	sink        diag.Sink
	sleep       SleepFunc
	now         func() time.Time
}

func NewGateway(provider Provider, opts Options) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	g := &Gateway{
		provider:    provider,
		model:       model,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		timeout:     opts.Timeout,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		sink:        opts.Sink,
		sleep:       opts.Sleep,
		now:         opts.Now,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.baseDelay < 0 {
		return nil, fmt.Errorf("base delay must not be negative")
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.sleep == nil {
		g.sleep = sleepContext
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

func (g *Gateway) Provider() string {
	return g.provider.Name()
}

func (g *Gateway) Model() string {
	return g.model
}

// Generate sends p to the provider. Transient failures are retried with
// exponential backoff (base, 2*base, ...); nothing else is retried.
func (g *Gateway) Generate(ctx context.Context, p prompt.Prompt) (ModelResponse, error) {
	start := g.now()
	req := CompletionRequest{
		Model:       g.model,
		Messages:    p.Messages(),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		number := attempt + 1
		attemptStart := g.now()
		text, err := g.attempt(ctx, req)
		elapsed := g.now().Sub(attemptStart)

		if err == nil {
			g.emit(ctx, number, "ok", "", elapsed)
			return ModelResponse{
				Text:     text,
				Model:    g.model,
				Provider: g.provider.Name(),
				Attempts: number,
				Elapsed:  g.now().Sub(start),
			}, nil
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			g.emit(ctx, number, "timeout", err.Error(), elapsed)
			return ModelResponse{}, g.fail(KindTimeout, number, err)
		case ctx.Err() != nil:
			g.emit(ctx, number, "cancelled", err.Error(), elapsed)
			return ModelResponse{}, g.fail(KindNonTransient, number, ctx.Err())
		case !isTransient(err):
			g.emit(ctx, number, "non_transient", err.Error(), elapsed)
			return ModelResponse{}, g.fail(KindNonTransient, number, err)
		}

		g.emit(ctx, number, "transient", err.Error(), elapsed)
		lastErr = err
		if number == g.maxAttempts {
			break
		}
		if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
			kind := KindNonTransient
			if errors.Is(err, context.DeadlineExceeded) {
				kind = KindTimeout
			}
			return ModelResponse{}, g.fail(kind, number, err)
		}
	}
	return ModelResponse{}, g.fail(KindRetriesExhausted, g.maxAttempts, lastErr)
}

// attempt runs one provider call under the per-attempt deadline. The call is
// abandoned as soon as the deadline passes even if the provider ignores ctx.
func (g *Gateway) attempt(ctx context.Context, req CompletionRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := g.provider.Complete(attemptCtx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && attemptCtx.Err() != nil {
			return "", fmt.Errorf("%w: %v", attemptCtx.Err(), r.err)
		}
		return r.text, r.err
	case <-attemptCtx.Done():
		return "", attemptCtx.Err()
	}
}

func (g *Gateway) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return g.baseDelay * time.Duration(1<<attempt)
}

func (g *Gateway) fail(kind Kind, attempts int, err error) error {
	return &GatewayError{Kind: kind, Provider: g.provider.Name(), Attempts: attempts, Err: err}
}

func (g *Gateway) emit(ctx context.Context, attempt int, outcome, detail string, elapsed time.Duration) {
	diag.Emit(ctx, g.sink, diag.Event{
		Stage:    diag.StageInference,
		Attempt:  attempt,
		Outcome:  outcome,
		Provider: g.provider.Name(),
		Detail:   redact.Mask(detail),
		Elapsed:  elapsed,
	})
}

// Health asks the endpoint itself whether it can serve the configured model.
func (g *Gateway) Health(ctx context.Context) error {
	checker, ok := g.provider.(HealthChecker)
	if !ok {
		return ErrHealthUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, defaultHealthLimit)
	defer cancel()
	return checker.Health(ctx, g.model)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
