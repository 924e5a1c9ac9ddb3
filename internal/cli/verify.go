package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/store"
)

// NewVerifyCommand creates the verify command: event log and database
// integrity checks, the same ones serve runs at startup.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify event log and database integrity",
		Long: `Check that the event log has no gaps above the retention watermark,
no duplicate sequence numbers, and that the database passes SQLite's
integrity check.

Exit code 1 means the checks found a problem.

Example:
  scribe verify`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			if err := st.VerifyEventLog(ctx); err != nil {
				return WrapExitError(ExitFailure, "event log verification failed", err)
			}
			if err := st.CheckIntegrity(ctx); err != nil {
				return WrapExitError(ExitFailure, "database integrity check failed", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
