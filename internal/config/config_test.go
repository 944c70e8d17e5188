package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querygate-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.QueryTimeout != 30*time.Second {
		t.Fatalf("Store.QueryTimeout = %s", cfg.Store.QueryTimeout)
	}
	if !cfg.Store.ReadOnlyDefault {
		t.Fatal("Store.ReadOnlyDefault should default to true")
	}
	if cfg.Inference.MaxAttempts != 3 {
		t.Fatalf("Inference.MaxAttempts = %d", cfg.Inference.MaxAttempts)
	}
	if cfg.Inference.BaseDelay != 5*time.Second {
		t.Fatalf("Inference.BaseDelay = %s", cfg.Inference.BaseDelay)
	}
	if cfg.Inference.MaxTokens != 200 {
		t.Fatalf("Inference.MaxTokens = %d", cfg.Inference.MaxTokens)
	}
	if cfg.Inference.Temperature != 0.5 {
		t.Fatalf("Inference.Temperature = %f", cfg.Inference.Temperature)
	}
	if cfg.Schema.Source != SchemaSourceBuiltin {
		t.Fatalf("Schema.Source = %q", cfg.Schema.Source)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querygate-api", mapLookup(map[string]string{"QUERYGATE_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadTestProfileShortensBackoff(t *testing.T) {
	cfg, err := Load("querygate-api", mapLookup(map[string]string{"QUERYGATE_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Inference.BaseDelay != 10*time.Millisecond {
		t.Fatalf("Inference.BaseDelay = %s", cfg.Inference.BaseDelay)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYGATE_PROFILE":                "test",
		"QUERYGATE_SERVICE_NAME":           "querygate-custom",
		"QUERYGATE_HTTP_ADDR":              ":9999",
		"QUERYGATE_HTTP_READ_TIMEOUT":      "2s",
		"QUERYGATE_LOG_LEVEL":              "error",
		"QUERYGATE_AUTH_REQUIRED":          "true",
		"QUERYGATE_AUTH_STATIC_KEYS":       "k1:alice:query_reader",
		"QUERYGATE_STORE_DRIVER":           "DuckDB",
		"QUERYGATE_STORE_DSN":              "/data/library.duckdb",
		"QUERYGATE_STORE_WRITE_DSN":        "/data/library-rw.duckdb",
		"QUERYGATE_STORE_MAX_OPEN_CONNS":   "42",
		"QUERYGATE_STORE_QUERY_TIMEOUT":    "12s",
		"QUERYGATE_STORE_ROW_LIMIT":        "50",
		"QUERYGATE_LAKE_ENABLED":           "true",
		"QUERYGATE_LAKE_PREFIX":            "warehouse",
		"QUERYGATE_SCHEMA_SOURCE":          "file",
		"QUERYGATE_SCHEMA_FILE":            "/etc/querygate/schema.yaml",
		"QUERYGATE_INFERENCE_PROVIDER":     "OpenAI",
		"QUERYGATE_INFERENCE_BASE_URL":     "https://api.deepseek.com",
		"QUERYGATE_INFERENCE_API_KEY":      "secret-key",
		"QUERYGATE_INFERENCE_MODEL":        "deepseek-chat",
		"QUERYGATE_INFERENCE_MAX_ATTEMPTS": "5",
		"QUERYGATE_INFERENCE_BASE_DELAY":   "250ms",
		"QUERYGATE_INFERENCE_TIMEOUT":      "21s",
		"QUERYGATE_INFERENCE_MAX_TOKENS":   "512",
		"QUERYGATE_INFERENCE_TEMPERATURE":  "0.1",
		"QUERYGATE_OBJECTSTORE_ENABLED":    "true",
		"QUERYGATE_OBJECTSTORE_BUCKET":     "querygate-prod",
		"QUERYGATE_EXPORT_ENABLED":         "true",
		"QUERYGATE_DIAG_MONGO_URI":         "mongodb://localhost:27017",
		"QUERYGATE_KEYRING_SERVICE":        "querygate-test",
	})
	cfg, err := Load("querygate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querygate-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:alice:query_reader" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Store.Driver != StoreDriverDuckDB {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "/data/library.duckdb" || cfg.Store.WriteDSN != "/data/library-rw.duckdb" {
		t.Fatalf("Store DSNs = %q / %q", cfg.Store.DSN, cfg.Store.WriteDSN)
	}
	if cfg.Store.MaxOpenConns != 42 || cfg.Store.RowLimit != 50 || cfg.Store.QueryTimeout != 12*time.Second {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if !cfg.Lake.Enabled || cfg.Lake.Prefix != "warehouse" {
		t.Fatalf("Lake = %+v", cfg.Lake)
	}
	if cfg.Schema.Source != SchemaSourceFile || cfg.Schema.File != "/etc/querygate/schema.yaml" {
		t.Fatalf("Schema = %+v", cfg.Schema)
	}
	if cfg.Inference.Provider != ProviderOpenAI {
		t.Fatalf("Inference.Provider = %q", cfg.Inference.Provider)
	}
	if cfg.Inference.BaseURL != "https://api.deepseek.com" || cfg.Inference.Model != "deepseek-chat" {
		t.Fatalf("Inference = %+v", cfg.Inference)
	}
	if cfg.Inference.MaxAttempts != 5 || cfg.Inference.BaseDelay != 250*time.Millisecond {
		t.Fatalf("Inference retry = %d / %s", cfg.Inference.MaxAttempts, cfg.Inference.BaseDelay)
	}
	if cfg.Inference.Timeout != 21*time.Second || cfg.Inference.MaxTokens != 512 || cfg.Inference.Temperature != 0.1 {
		t.Fatalf("Inference = %+v", cfg.Inference)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "querygate-prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.Export.Enabled {
		t.Fatal("Export.Enabled = false, want true")
	}
	if cfg.Diagnostics.MongoURI != "mongodb://localhost:27017" {
		t.Fatalf("Diagnostics.MongoURI = %q", cfg.Diagnostics.MongoURI)
	}
	if cfg.Secrets.KeyringService != "querygate-test" {
		t.Fatalf("Secrets.KeyringService = %q", cfg.Secrets.KeyringService)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYGATE_PROFILE": "oops"},
		{"QUERYGATE_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYGATE_STORE_MAX_OPEN_CONNS": "oops"},
		{"QUERYGATE_STORE_DRIVER": "oracle"},
		{"QUERYGATE_STORE_QUERY_TIMEOUT": "0s"},
		{"QUERYGATE_INFERENCE_PROVIDER": "watson"},
		{"QUERYGATE_INFERENCE_MAX_ATTEMPTS": "0"},
		{"QUERYGATE_INFERENCE_TEMPERATURE": "bad"},
		{"QUERYGATE_SCHEMA_SOURCE": "file"},
		{"QUERYGATE_SCHEMA_SOURCE": "object", "QUERYGATE_SCHEMA_OBJECT_KEY": "schema.yaml"},
		{"QUERYGATE_LAKE_ENABLED": "true"},
		{"QUERYGATE_EXPORT_ENABLED": "true"},
		{"QUERYGATE_AUTH_REQUIRED": "not-bool"},
		{"QUERYGATE_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("querygate-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
