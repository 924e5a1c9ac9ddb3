package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/store"
)

// NewCompactCommand creates the compact command: one offline retention pass.
// Must not run against a database a live engine holds open.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Run one retention pass against the event log",
		Long: `Prune expired job.log events and reclaim database pages.

The engine runs the same pass on a schedule; this command is for manual
maintenance while the engine is stopped.

Example:
  scribe compact --verbose`,
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

			compactor := engine.NewCompactor(st, rootOpts.Logger(), nil, cfg.Retention)
			deleted, err := compactor.Compact(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "compaction failed", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events\n", deleted)
			return nil
		},
	}
	return cmd
}
