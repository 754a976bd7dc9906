package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

// withRegistry loads the session's registry from the backend and runs fn.
func withRegistry(ctx context.Context, env Env, sessionID string, fn func(*pagestate.Registry) error) error {
	if sessionID == "" {
		return errSessionRequired
	}
	backend, release, err := env.OpenBackend(ctx)
	if err != nil {
		return err
	}
	defer release()
	reg := pagestate.NewRegistry(pagestate.NewStore(backend.Factory(sessionID), nil, nil))
	reg.Load(ctx)
	if err := fn(reg); err != nil {
		return err
	}
	// Mutations fail soft; surface a failed save here.
	return reg.Flush(ctx)
}

func newExportCommand(env Env) *cobra.Command {
	var sessionID, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a session's page-state snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), env, sessionID, func(reg *pagestate.Registry) error {
				raw, err := reg.Export(cmd.Context())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
					return err
				}
				return os.WriteFile(output, []byte(raw), 0o600)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "application session id")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(env Env) *cobra.Command {
	var sessionID, input string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a session's page state with a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if input == "" || input == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(input)
			}
			if err != nil {
				return err
			}
			return withRegistry(cmd.Context(), env, sessionID, func(reg *pagestate.Registry) error {
				if err := reg.Import(cmd.Context(), string(raw)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d page(s)\n", len(reg.Keys(cmd.Context())))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "application session id")
	cmd.Flags().StringVarP(&input, "file", "f", "", "input file (default stdin)")
	return cmd
}

func newClearCommand(env Env) *cobra.Command {
	var sessionID, key string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop a session's page state, or one page with --key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), env, sessionID, func(reg *pagestate.Registry) error {
				if key != "" {
					return reg.ClearPageState(cmd.Context(), pagestate.NormalizeKey(key))
				}
				reg.ClearAll(cmd.Context())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "application session id")
	cmd.Flags().StringVar(&key, "key", "", "page key to clear")
	return cmd
}

func newKeysCommand(env Env) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the pages a session has state for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), env, sessionID, func(reg *pagestate.Registry) error {
				for _, key := range reg.Keys(cmd.Context()) {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "application session id")
	return cmd
}

func newPruneCommand(env Env) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots not saved within --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			backend, release, err := env.OpenBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			if backend.Pruner == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s backend expires entries on its own\n", backend.Name)
				return nil
			}
			removed, err := backend.Pruner.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d snapshot(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention window")
	return cmd
}
