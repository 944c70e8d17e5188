package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querygate/querygate/internal/cli/querygatectl"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/secrets"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYGATE_CLI_TIMEOUT")), 90*time.Second)
	openSecrets := func() (*secrets.Store, error) {
		return secrets.Open(config.SecretsConfig{
			KeyringService: envOr("QUERYGATE_KEYRING_SERVICE", "querygate"),
			KeyringBackend: strings.TrimSpace(os.Getenv("QUERYGATE_KEYRING_BACKEND")),
		})
	}
	options := querygatectl.Options{
		BaseURL:     envOr("QUERYGATE_API_URL", "http://localhost:8080"),
		APIKey:      apiKey(openSecrets),
		Timeout:     timeout,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		OpenSecrets: openSecrets,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := querygatectl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

// apiKey prefers the environment and falls back to a key stored by login.
func apiKey(openSecrets func() (*secrets.Store, error)) string {
	if key := strings.TrimSpace(os.Getenv("QUERYGATE_API_KEY")); key != "" {
		return key
	}
	if strings.TrimSpace(os.Getenv("QUERYGATE_KEYRING_BACKEND")) == "" {
		return ""
	}
	store, err := openSecrets()
	if err != nil {
		return ""
	}
	key, err := store.Get(secrets.KeyAPIKey)
	if err != nil {
		return ""
	}
	return key
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYGATE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
