package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama talks to a local Ollama server over its JSON API.
type Ollama struct {
	baseURL string
	client  *http.Client
}

func NewOllama(baseURL string, client *http.Client) (*Ollama, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{baseURL: baseURL, client: client}, nil
}

func (o *Ollama) Name() string {
	return "ollama"
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

func (o *Ollama) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	rawRespBody, err := o.do(httpReq)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Message ollamaMessage `json:"message"`
		Error   string        `json:"error"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

// Health checks that the server answers and has pulled the model.
func (o *Ollama) Health(ctx context.Context, model string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build tags request: %w", err)
	}
	rawRespBody, err := o.do(httpReq)
	if err != nil {
		return err
	}
	var parsed struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return fmt.Errorf("decode tags response: %w", err)
	}
	for _, m := range parsed.Models {
		for _, name := range []string{m.Name, m.Model} {
			if name == model || strings.HasPrefix(name, model+":") {
				return nil
			}
		}
	}
	return fmt.Errorf("model %q is not available on %s", model, o.baseURL)
}

func (o *Ollama) do(httpReq *http.Request) ([]byte, error) {
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", httpReq.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response body: %w", httpReq.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(o.Name(), resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(rawRespBody))))
	}
	return rawRespBody, nil
}
