package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

type Anthropic struct {
	client *anthropic.Client
}

func NewAnthropic(apiKey, baseURL string, httpClient *http.Client) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	var opts []anthropic.ClientOption
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		opts = append(opts, anthropic.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, anthropic.WithHTTPClient(httpClient))
	}
	return &Anthropic{client: anthropic.NewClient(strings.TrimSpace(apiKey), opts...)}, nil
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system, rest := splitMessages(req.Messages)
	messages := make([]anthropic.Message, 0, len(rest))
	for _, msg := range rest {
		text := msg.Content
		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
		})
	}
	temperature := float32(req.Temperature)

	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: &temperature,
	})
	if err != nil {
		return "", a.mapError(err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("response contained no text block")
}

func (a *Anthropic) mapError(err error) error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return statusError(a.Name(), reqErr.StatusCode, err)
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch string(apiErr.Type) {
		case "rate_limit_error":
			return statusError(a.Name(), http.StatusTooManyRequests, err)
		case "overloaded_error":
			return statusError(a.Name(), 529, err)
		case "authentication_error":
			return statusError(a.Name(), http.StatusUnauthorized, err)
		case "permission_error":
			return statusError(a.Name(), http.StatusForbidden, err)
		case "invalid_request_error":
			return statusError(a.Name(), http.StatusBadRequest, err)
		}
		return &ProviderError{Provider: a.Name(), Err: err}
	}
	return err
}
