// Package cli implements the scribe command-line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string
	BaseDir    string
}

// Load resolves the engine configuration from the config file and defaults.
func (o *RootOptions) Load() (*config.Config, error) {
	baseDir := o.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	return config.Load(o.ConfigPath, baseDir)
}

// Logger builds the process logger honoring --verbose.
func (o *RootOptions) Logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewRootCommand creates the root command for the scribe CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "Scribe - translation job engine",
		Long:  "A local engine that runs document translation jobs and exposes their progress as a durable, resumable event stream.",
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "scribe.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.BaseDir, "base-dir", "", "base directory for data and workspaces (default: current directory)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}
