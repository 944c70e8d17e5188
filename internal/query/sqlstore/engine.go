// Package sqlstore runs statements against a Postgres-compatible store
// through database/sql and the pgx driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/redact"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open creates the pool. Errors never include the DSN.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	masker := redact.NewMasker(cfg.DSN)

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store db: %s", masker.Mask(err.Error()))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store db: %s", masker.Mask(err.Error()))
	}

	return db, nil
}

// Engine checks a connection out of the pool for each statement and returns
// it when the statement finishes, whatever the outcome.
type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Engine{db: db}, nil
}

// DB exposes the pool for schema introspection.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("checkout connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: request.ReadOnly})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var result query.Result
	if query.ReturnsRows(sqlText) {
		rows, err := tx.QueryContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute query: %w", err)
		}
		columns, values, truncated, err := query.ScanRows(rows, request.RowLimit)
		_ = rows.Close()
		if err != nil {
			return query.Result{}, err
		}
		result = query.Result{Columns: columns, Rows: values, Truncated: truncated}
	} else {
		res, err := tx.ExecContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = -1
		}
		result = query.Result{Columns: []string{}, Rows: [][]any{}, RowsAffected: affected}
	}

	if request.ReadOnly {
		if err := tx.Rollback(); err != nil {
			return query.Result{}, fmt.Errorf("end read-only transaction: %w", err)
		}
	} else if err := tx.Commit(); err != nil {
		return query.Result{}, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	return e.db.Close()
}

var _ query.Engine = (*Engine)(nil)
