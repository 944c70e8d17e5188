package querygatectl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/compiler"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/format"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/secrets"
)

// Session is a locally wired pipeline.
type Session interface {
	Run(ctx context.Context, req compiler.Request) compiler.Outcome
	Close(ctx context.Context) error
}

type appSession struct {
	app *app.App
}

func (s appSession) Run(ctx context.Context, req compiler.Request) compiler.Outcome {
	return s.app.Pipeline.Run(ctx, req)
}

func (s appSession) Close(ctx context.Context) error {
	return s.app.Close(ctx)
}

// newLocalSession wires the pipeline from QUERYGATE_* variables. Logs go to
// stderr at warn level so they do not interleave with result tables.
func newLocalSession(openSecrets func() (*secrets.Store, error)) func(context.Context, io.Writer) (Session, error) {
	return func(ctx context.Context, stderr io.Writer) (Session, error) {
		cfg, err := config.LoadFromEnv("querygatectl")
		if err != nil {
			return nil, err
		}
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Observability.LogJSON = false
		logger := observability.NewLogger(cfg, stderr)

		opts := app.Options{}
		if openSecrets != nil {
			store, err := openSecrets()
			if err != nil {
				logger.WarnContext(ctx, "keyring_unavailable", slog.Any("error", err))
			} else {
				opts.Secrets = store
			}
		}
		a, err := app.Build(ctx, cfg, logger, opts)
		if err != nil {
			return nil, err
		}
		return appSession{app: a}, nil
	}
}

func newChatCommand(opts *Options) *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions in a loop against a locally wired pipeline (read-only)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := opts.NewSession(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("start chat: %w", err)
			}
			defer func() { _ = session.Close(context.WithoutCancel(cmd.Context())) }()
			return chatLoop(cmd.Context(), session, cmd.InOrStdin(), cmd.OutOrStdout(), showSQL)
		},
	}
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the generated SQL above each result")
	return cmd
}

func chatLoop(ctx context.Context, session Session, in io.Reader, out io.Writer, showSQL bool) error {
	_, _ = fmt.Fprintln(out, "Ask a question about the data. Type exit or quit to leave.")
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "querygate> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		question := compiler.Question(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		outcome := session.Run(ctx, compiler.Request{Question: question, ReadOnly: true})
		if showSQL && outcome.SQL != "" {
			_, _ = fmt.Fprintf(out, "%s\n\n", outcome.SQL)
		}
		_, _ = fmt.Fprintln(out, format.Render(outcome.Display))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
