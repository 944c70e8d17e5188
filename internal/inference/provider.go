package inference

import (
	"context"

	"github.com/querygate/querygate/internal/prompt"
)

type CompletionRequest struct {
	Model       string
	Messages    []prompt.Message
	MaxTokens   int
	Temperature float64
}

// Provider sends one completion request to an inference endpoint. It must not
// retry: the Gateway owns the retry budget.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type HealthChecker interface {
	Health(ctx context.Context, model string) error
}

func splitMessages(messages []prompt.Message) (system string, rest []prompt.Message) {
	for _, msg := range messages {
		if msg.Role == prompt.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
