// Package seed writes a deterministic lending-library dataset into the lake
// so a DuckDB deployment has something to answer questions about.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/storage"
)

type Options struct {
	Prefix string
	Seed   int64
	Sizes  Sizes
	// Replace deletes existing parquet objects of each table first.
	Replace bool
}

type Written struct {
	Table  string
	Key    string
	Rows   int
	Bytes  int64
	Object storage.ObjectInfo
}

type Service struct {
	store storage.ObjectStore
	log   *slog.Logger
}

func NewService(store storage.ObjectStore, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, log: logger}, nil
}

// WriteLake stores one parquet file per table under <prefix>/<table>/.
func (s *Service) WriteLake(ctx context.Context, opts Options) ([]Written, error) {
	tables, err := NewGenerator(opts.Seed).Library(opts.Sizes)
	if err != nil {
		return nil, err
	}

	out := make([]Written, 0, len(tables))
	for _, table := range tables {
		tablePrefix, err := storage.BuildLakeTablePrefix(opts.Prefix, table.Name)
		if err != nil {
			return out, err
		}
		if opts.Replace {
			if err := s.clear(ctx, tablePrefix); err != nil {
				return out, err
			}
		}

		var buf bytes.Buffer
		if err := export.WriteParquet(&buf, table.Result); err != nil {
			return out, fmt.Errorf("encode %s: %w", table.Name, err)
		}
		key := path.Join(tablePrefix, "part-00000.parquet")
		size := int64(buf.Len())
		info, err := s.store.Put(ctx, key, &buf, size, storage.PutOptions{ContentType: export.FormatParquet.ContentType()})
		if err != nil {
			return out, fmt.Errorf("upload %s: %w", table.Name, err)
		}

		s.log.InfoContext(ctx, "lake_table_written",
			slog.String("table", table.Name),
			slog.String("key", key),
			slog.Int("rows", len(table.Result.Rows)),
			slog.Int64("bytes", size),
		)
		out = append(out, Written{Table: table.Name, Key: key, Rows: len(table.Result.Rows), Bytes: size, Object: info})
	}
	return out, nil
}

func (s *Service) clear(ctx context.Context, tablePrefix string) error {
	objects, err := s.store.List(ctx, tablePrefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", tablePrefix, err)
	}
	for _, object := range objects {
		if path.Ext(object.Key) != ".parquet" {
			continue
		}
		if err := s.store.Delete(ctx, object.Key); err != nil {
			return fmt.Errorf("delete %s: %w", object.Key, err)
		}
	}
	return nil
}
