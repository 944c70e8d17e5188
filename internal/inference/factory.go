package inference

import (
	"context"
	"fmt"
	"net/http"

	"github.com/querygate/querygate/internal/config"
)

// NewProvider builds the provider named in cfg. apiKey overrides cfg.APIKey
// when non-empty so callers can resolve keys from a secret store.
func NewProvider(ctx context.Context, cfg config.InferenceConfig, apiKey string, httpClient *http.Client) (Provider, error) {
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllama(cfg.BaseURL, httpClient)
	case config.ProviderOpenAI:
		return NewOpenAI(apiKey, cfg.BaseURL, httpClient)
	case config.ProviderAnthropic:
		return NewAnthropic(apiKey, cfg.BaseURL, httpClient)
	case config.ProviderGemini:
		return NewGemini(ctx, apiKey, cfg.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Provider)
	}
}

// RequiresAPIKey reports whether the provider authenticates with a key.
func RequiresAPIKey(provider string) bool {
	return provider != config.ProviderOllama
}
