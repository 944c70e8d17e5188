// Package duckdb runs statements on an embedded DuckDB database, either a
// local file or tables loaded from parquet objects in the lake.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/storage"
)

type Options struct {
	// Path is the database file. Empty means an in-memory database.
	Path string
	// ReadOnly opens the file with access_mode=read_only. File databases never
	// get external access.
	ReadOnly     bool
	MaxOpenConns int
	Lake         *LakeSource
}

// LakeSource loads every <prefix>/<table>/*.parquet object as a table.
type LakeSource struct {
	Store  storage.ObjectStore
	Prefix string
}

type LakeStats struct {
	Tables       []string
	Files        int
	ScannedBytes int64
	LoadedAt     time.Time
}

type Engine struct {
	opts      Options
	db        atomic.Pointer[sql.DB]
	refreshMu sync.Mutex
	stats     atomic.Pointer[LakeStats]
}

func Open(ctx context.Context, opts Options) (*Engine, error) {
	e := &Engine{opts: opts}
	if opts.Lake != nil {
		if opts.Lake.Store == nil {
			return nil, fmt.Errorf("lake object store is required")
		}
		if _, err := e.Refresh(ctx); err != nil {
			return nil, err
		}
		return e, nil
	}

	db, err := e.openDB(ctx, dsn(opts.Path, opts.ReadOnly))
	if err != nil {
		return nil, err
	}
	e.db.Store(db)
	return e, nil
}

// Refresh rebuilds the lake tables in a fresh database and swaps it in.
// Queries already running finish on the previous database.
func (e *Engine) Refresh(ctx context.Context) (LakeStats, error) {
	if e.opts.Lake == nil {
		return LakeStats{}, fmt.Errorf("engine has no lake source")
	}
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	db, err := e.openDB(ctx, "")
	if err != nil {
		return LakeStats{}, err
	}
	stats, err := e.loadLake(ctx, db)
	if err != nil {
		_ = db.Close()
		return LakeStats{}, err
	}
	// the loaded tables are the only data the guard may reach
	for _, stmt := range []string{"SET GLOBAL enable_external_access = false", "SET GLOBAL lock_configuration = true"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return LakeStats{}, fmt.Errorf("lock lake database: %w", err)
		}
	}

	if previous := e.db.Swap(db); previous != nil {
		go func() { _ = previous.Close() }()
	}
	e.stats.Store(&stats)
	return stats, nil
}

func (e *Engine) LakeStats() (LakeStats, bool) {
	stats := e.stats.Load()
	if stats == nil {
		return LakeStats{}, false
	}
	return *stats, true
}

// DB exposes the current database for schema introspection.
func (e *Engine) DB() *sql.DB {
	return e.db.Load()
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	db := e.db.Load()
	if db == nil {
		return query.Result{}, fmt.Errorf("duckdb engine is closed")
	}

	if request.ReadOnly && !query.IsReadStatement(sqlText) {
		return query.Result{}, fmt.Errorf("statement is not allowed in a read-only request")
	}

	start := time.Now()
	conn, err := db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("checkout connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if !query.ReturnsRows(sqlText) {
		res, err := conn.ExecContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = -1
		}
		return query.Result{Columns: []string{}, Rows: [][]any{}, RowsAffected: affected, Duration: time.Since(start)}, nil
	}

	if request.ReadOnly && request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit+1)
	}
	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, truncated, err := query.ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:   columns,
		Rows:      values,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	db := e.db.Load()
	if db == nil {
		return fmt.Errorf("duckdb engine is closed")
	}
	return db.PingContext(ctx)
}

func (e *Engine) Close() error {
	db := e.db.Swap(nil)
	if db == nil {
		return nil
	}
	return db.Close()
}

func (e *Engine) openDB(ctx context.Context, dataSource string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dataSource)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if e.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(e.opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

func (e *Engine) loadLake(ctx context.Context, db *sql.DB) (LakeStats, error) {
	lake := e.opts.Lake
	objects, err := lake.Store.List(ctx, lake.Prefix)
	if err != nil {
		return LakeStats{}, fmt.Errorf("list lake objects: %w", err)
	}

	workDir, err := os.MkdirTemp("", "querygate-lake-")
	if err != nil {
		return LakeStats{}, fmt.Errorf("create lake temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	groupedPaths := map[string][]string{}
	stats := LakeStats{}
	for index, object := range objects {
		tableName, ok := storage.LakeTableName(lake.Prefix, object.Key)
		if !ok {
			continue
		}
		reader, err := lake.Store.Get(ctx, object.Key)
		if err != nil {
			return LakeStats{}, fmt.Errorf("get object %q: %w", object.Key, err)
		}

		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(tableName), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return LakeStats{}, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return LakeStats{}, fmt.Errorf("close object %q: %w", object.Key, err)
		}

		groupedPaths[tableName] = append(groupedPaths[tableName], localPath)
		stats.Files++
		stats.ScannedBytes += object.Size
	}
	if len(groupedPaths) == 0 {
		return LakeStats{}, fmt.Errorf("no parquet tables found under %q", lake.Prefix)
	}

	for tableName, localPaths := range groupedPaths {
		tableSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, tableSQL); err != nil {
			return LakeStats{}, fmt.Errorf("load table %q: %w", tableName, err)
		}
		stats.Tables = append(stats.Tables, tableName)
	}
	sort.Strings(stats.Tables)
	stats.LoadedAt = time.Now().UTC()
	return stats, nil
}

// dsn keeps file databases away from host files and remote URLs; only the
// database file itself is reachable.
func dsn(path string, readOnly bool) string {
	if path == "" {
		return path
	}
	params := url.Values{}
	params.Set("enable_external_access", "false")
	if readOnly {
		params.Set("access_mode", "read_only")
	}
	return path + "?" + params.Encode()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

var _ query.Engine = (*Engine)(nil)
