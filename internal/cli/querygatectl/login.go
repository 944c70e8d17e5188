package querygatectl

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/secrets"
)

var loginTargets = map[string]string{
	"inference": secrets.KeyInferenceAPIKey,
	"store":     secrets.KeyStoreDSN,
	"writer":    secrets.KeyStoreWriteDSN,
	"api":       secrets.KeyAPIKey,
}

func newLoginCommand(opts *Options) *cobra.Command {
	var target string
	var remove bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a credential in the OS keyring (read from stdin)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, ok := loginTargets[strings.ToLower(strings.TrimSpace(target))]
			if !ok {
				return usageError{err: fmt.Errorf("unknown credential %q (inference, store, writer, api)", target)}
			}
			if opts.OpenSecrets == nil {
				return errors.New("keyring is not available")
			}
			store, err := opts.OpenSecrets()
			if err != nil {
				return err
			}

			if remove {
				if err := store.Remove(key); err != nil && !errors.Is(err, secrets.ErrNotFound) {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s credential\n", target)
				return nil
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Enter the %s credential: ", target)
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read credential: %w", err)
			}
			value := strings.TrimSpace(line)
			if value == "" {
				return usageError{err: errors.New("credential must not be empty")}
			}
			if err := store.Set(key, value); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stored %s credential\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "credential", "inference", "which credential to store: inference, store, writer or api")
	cmd.Flags().BoolVar(&remove, "remove", false, "delete the stored credential instead")
	return cmd
}
