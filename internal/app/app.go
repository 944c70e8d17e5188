// Package app assembles the request pipeline from configuration. The API
// server and the local chat loop share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querygate/querygate/internal/compiler"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/diag"
	"github.com/querygate/querygate/internal/diag/mongosink"
	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/extract"
	"github.com/querygate/querygate/internal/guard"
	"github.com/querygate/querygate/internal/inference"
	"github.com/querygate/querygate/internal/prompt"
	"github.com/querygate/querygate/internal/query"
	duckdbengine "github.com/querygate/querygate/internal/query/duckdb"
	"github.com/querygate/querygate/internal/query/sqlstore"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/secrets"
	"github.com/querygate/querygate/internal/storage"
	s3store "github.com/querygate/querygate/internal/storage/s3"
)

type Options struct {
	// Secrets fills missing credentials before anything is opened.
	Secrets    *secrets.Store
	HTTPClient *http.Client
}

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *schema.Registry
	Gateway  *inference.Gateway
	Guard    *guard.Guard
	Pipeline *compiler.Pipeline
	Reader   query.Engine
	Writer   query.Engine
	// Objects is nil unless the object store is enabled.
	Objects storage.ObjectStore

	lake    *duckdbengine.Engine
	closers []func(context.Context) error
}

type dbSource interface {
	DB() *sql.DB
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Secrets != nil {
		if err := opts.Secrets.Fill(&cfg); err != nil {
			return nil, fmt.Errorf("load secrets: %w", err)
		}
	}
	if inference.RequiresAPIKey(cfg.Inference.Provider) && cfg.Inference.APIKey == "" {
		return nil, fmt.Errorf("inference provider %q needs an api key: set QUERYGATE_INFERENCE_API_KEY or run querygatectl login", cfg.Inference.Provider)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	sink := a.buildSinks(ctx)

	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		a.Objects = store
	}

	if err := a.openEngines(ctx); err != nil {
		return nil, err
	}

	desc, err := a.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	a.Registry, err = schema.NewRegistry(desc)
	if err != nil {
		return nil, err
	}

	provider, err := inference.NewProvider(ctx, cfg.Inference, "", opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("initialize inference provider: %w", err)
	}
	a.Gateway, err = inference.NewGateway(provider, inference.Options{
		Model:       cfg.Inference.Model,
		MaxAttempts: cfg.Inference.MaxAttempts,
		BaseDelay:   cfg.Inference.BaseDelay,
		Timeout:     cfg.Inference.Timeout,
		MaxTokens:   cfg.Inference.MaxTokens,
		Temperature: cfg.Inference.Temperature,
		Sink:        sink,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize inference gateway: %w", err)
	}

	a.Guard, err = guard.New(guard.Config{
		Reader:         a.Reader,
		Writer:         a.Writer,
		DefaultTimeout: cfg.Store.QueryTimeout,
		RowLimit:       cfg.Store.RowLimit,
		Secrets:        []string{cfg.Store.DSN, cfg.Store.WriteDSN, cfg.Inference.APIKey, cfg.ObjectStore.SecretAccessKey},
		Sink:           sink,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize execution guard: %w", err)
	}

	deps := compiler.Dependencies{
		Schema:    a.Registry,
		Prompts:   prompt.NewBuilder(Dialect(cfg.Store.Driver)),
		Gateway:   a.Gateway,
		Extractor: extract.NewExtractor(),
		Guard:     a.Guard,
		Sink:      sink,
		Logger:    logger,
	}
	if cfg.Export.Enabled {
		exporter, err := export.New(a.Objects, export.Options{Prefix: cfg.Export.Prefix})
		if err != nil {
			return nil, fmt.Errorf("initialize exporter: %w", err)
		}
		deps.Exporter = exporter
	}
	a.Pipeline, err = compiler.New(deps)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "pipeline_ready",
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("schema_source", cfg.Schema.Source),
		slog.Int("tables", len(desc.Tables)),
		slog.String("provider", a.Gateway.Provider()),
		slog.String("model", a.Gateway.Model()),
		slog.Bool("writes_enabled", a.Guard.WritesEnabled()),
		slog.Bool("exports_enabled", cfg.Export.Enabled),
	)
	return a, nil
}

// Dialect names the SQL dialect the model is asked to write.
func Dialect(driver string) string {
	switch driver {
	case config.StoreDriverDuckDB:
		return "DuckDB"
	case config.StoreDriverPostgres:
		return "PostgreSQL"
	default:
		return "SQL"
	}
}

func (a *App) buildSinks(ctx context.Context) diag.Sink {
	multi := diag.NewMulti(a.Logger).
		Add("log", diag.LogSink{Logger: a.Logger}).
		Add("metrics", diag.MetricsSink{})

	if a.Config.Diagnostics.MongoURI == "" {
		return multi
	}
	mongoSink, disconnect, err := mongosink.Connect(ctx, a.Config.Diagnostics)
	if err != nil {
		// the trail is optional; requests keep flowing without it
		a.Logger.WarnContext(ctx, "diagnostic_sink_unavailable",
			slog.String("sink", "mongo"),
			slog.Any("error", err),
		)
		return multi
	}
	a.closers = append(a.closers, disconnect)
	return multi.Add("mongo", mongoSink)
}

func (a *App) openEngines(ctx context.Context) error {
	store := a.Config.Store
	switch store.Driver {
	case config.StoreDriverPostgres:
		reader, err := a.openPostgres(ctx, store.DSN)
		if err != nil {
			return fmt.Errorf("open reader store: %w", err)
		}
		a.Reader = reader
		if store.WriteDSN != "" {
			writer, err := a.openPostgres(ctx, store.WriteDSN)
			if err != nil {
				return fmt.Errorf("open writer store: %w", err)
			}
			a.Writer = writer
		}
		return nil

	case config.StoreDriverDuckDB:
		if a.Config.Lake.Enabled {
			engine, err := duckdbengine.Open(ctx, duckdbengine.Options{
				MaxOpenConns: store.MaxOpenConns,
				Lake:         &duckdbengine.LakeSource{Store: a.Objects, Prefix: a.Config.Lake.Prefix},
			})
			if err != nil {
				return fmt.Errorf("open lake store: %w", err)
			}
			a.lake = engine
			a.track(engine)
			a.Reader = engine
			return nil
		}
		if store.DSN == "" || strings.Contains(store.DSN, "://") {
			return fmt.Errorf("QUERYGATE_STORE_DSN must be a duckdb database file path")
		}
		reader, err := duckdbengine.Open(ctx, duckdbengine.Options{Path: store.DSN, ReadOnly: true, MaxOpenConns: store.MaxOpenConns})
		if err != nil {
			return fmt.Errorf("open reader store: %w", err)
		}
		a.track(reader)
		a.Reader = reader
		if store.WriteDSN != "" {
			if store.WriteDSN == store.DSN {
				return fmt.Errorf("duckdb writer must use a different database file than the reader")
			}
			writer, err := duckdbengine.Open(ctx, duckdbengine.Options{Path: store.WriteDSN, MaxOpenConns: 1})
			if err != nil {
				return fmt.Errorf("open writer store: %w", err)
			}
			a.track(writer)
			a.Writer = writer
		}
		return nil
	}
	return fmt.Errorf("unsupported store driver %q", store.Driver)
}

func (a *App) openPostgres(ctx context.Context, dsn string) (*sqlstore.Engine, error) {
	db, err := sqlstore.Open(ctx, sqlstore.DBConfig{
		DSN:             dsn,
		MaxOpenConns:    a.Config.Store.MaxOpenConns,
		MaxIdleConns:    a.Config.Store.MaxIdleConns,
		ConnMaxIdleTime: a.Config.Store.ConnMaxIdleTime,
		ConnMaxLifetime: a.Config.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	engine, err := sqlstore.NewEngine(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.track(engine)
	return engine, nil
}

func (a *App) track(engine query.Engine) {
	a.closers = append(a.closers, func(context.Context) error { return engine.Close() })
}

func (a *App) loadSchema(ctx context.Context) (schema.Descriptor, error) {
	cfg := a.Config.Schema
	switch cfg.Source {
	case config.SchemaSourceBuiltin:
		return schema.Library(), nil
	case config.SchemaSourceFile:
		return schema.LoadFile(cfg.File)
	case config.SchemaSourceObject:
		if a.Objects == nil {
			return schema.Descriptor{}, fmt.Errorf("object store is not configured")
		}
		return schema.LoadObject(ctx, a.Objects, cfg.ObjectKey)
	case config.SchemaSourceIntrospect:
		source, ok := a.Reader.(dbSource)
		if !ok {
			return schema.Descriptor{}, fmt.Errorf("store engine does not support introspection")
		}
		return schema.Introspect(ctx, source.DB(), a.namespace())
	}
	return schema.Descriptor{}, fmt.Errorf("unsupported schema source %q", cfg.Source)
}

// namespace maps the postgres default onto DuckDB's default schema.
func (a *App) namespace() string {
	ns := a.Config.Schema.Namespace
	if a.Config.Store.Driver == config.StoreDriverDuckDB && (ns == "" || ns == "public") {
		return "main"
	}
	return ns
}

// ReloadSchema re-reads the configured source and publishes it. Lake tables
// are rebuilt from the object store first.
func (a *App) ReloadSchema(ctx context.Context) (schema.Descriptor, error) {
	if a.lake != nil {
		stats, err := a.lake.Refresh(ctx)
		if err != nil {
			return schema.Descriptor{}, fmt.Errorf("refresh lake: %w", err)
		}
		a.Logger.InfoContext(ctx, "lake_refreshed",
			slog.Int("tables", len(stats.Tables)),
			slog.Int("files", stats.Files),
			slog.Int64("scanned_bytes", stats.ScannedBytes),
		)
	}
	desc, err := a.loadSchema(ctx)
	if err != nil {
		return schema.Descriptor{}, err
	}
	if err := a.Registry.Replace(desc); err != nil {
		return schema.Descriptor{}, err
	}
	a.Logger.InfoContext(ctx, "schema_reloaded", slog.Int("tables", len(desc.Tables)))
	return a.Registry.Current(), nil
}

// Ready checks the store and the inference endpoint.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Reader.Ping(ctx); err != nil {
		return fmt.Errorf("store is not reachable")
	}
	if err := a.Gateway.Health(ctx); err != nil && !errors.Is(err, inference.ErrHealthUnsupported) {
		return fmt.Errorf("inference endpoint is not healthy: %w", err)
	}
	return nil
}

// Close releases everything Build opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
