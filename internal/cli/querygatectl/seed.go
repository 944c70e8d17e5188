package querygatectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/demo/seed"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/storage"
	s3store "github.com/querygate/querygate/internal/storage/s3"
)

// openLakeFromEnv opens the object store configured by QUERYGATE_OBJECT_STORE_*
// and returns it with the lake prefix.
func openLakeFromEnv(ctx context.Context, stderr io.Writer) (storage.ObjectStore, string, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv("querygatectl")
	if err != nil {
		return nil, "", nil, err
	}
	cfg.Observability.LogJSON = false
	logger := observability.NewLogger(cfg, stderr)
	if !cfg.ObjectStore.Enabled {
		return nil, "", nil, errors.New("object store is not enabled: set QUERYGATE_OBJECT_STORE_ENABLED=true")
	}
	store, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
	if err != nil {
		return nil, "", nil, fmt.Errorf("initialize object store: %w", err)
	}
	return store, cfg.Lake.Prefix, logger, nil
}

func newSeedLakeCommand(opts *Options) *cobra.Command {
	sizes := seed.DefaultSizes()
	var seedValue int64
	var prefix string
	var replace bool
	cmd := &cobra.Command{
		Use:   "seed-lake",
		Short: "Write the sample lending-library tables into the lake as parquet",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, lakePrefix, logger, err := opts.OpenLake(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("prefix") {
				lakePrefix = prefix
			}
			svc, err := seed.NewService(store, logger)
			if err != nil {
				return err
			}
			written, err := svc.WriteLake(cmd.Context(), seed.Options{
				Prefix:  lakePrefix,
				Seed:    seedValue,
				Sizes:   sizes,
				Replace: replace,
			})
			if err != nil {
				return err
			}
			for _, w := range written {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-10s %5d rows  %s\n", w.Table, w.Rows, w.Key)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&sizes.Authors, "authors", sizes.Authors, "number of authors")
	flags.IntVar(&sizes.Books, "books", sizes.Books, "number of books")
	flags.IntVar(&sizes.Borrowers, "borrowers", sizes.Borrowers, "number of borrow records")
	flags.Int64Var(&seedValue, "seed", 1, "random seed")
	flags.StringVar(&prefix, "prefix", "", "lake prefix (default QUERYGATE_LAKE_PREFIX)")
	flags.BoolVar(&replace, "replace", false, "delete existing parquet files of each table first")
	return cmd
}
