package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Addr string
	JSON bool
}

// NewStatusCommand creates the status command, which queries a running
// engine over HTTP.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running engine's status",
		Long: `Query the status endpoint of a running engine.

Example:
  scribe status
  scribe status --addr 127.0.0.1:9000 --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "engine address (defaults to the configured listen address)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the raw JSON response")

	return cmd
}

type engineStatus struct {
	Version       string           `json:"version"`
	Mode          string           `json:"mode"`
	Health        string           `json:"health"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CurrentJobID  string           `json:"current_job_id"`
	JobCounts     map[string]int64 `json:"job_counts"`
	LastSequence  int64            `json:"last_sequence"`
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	addr := opts.Addr
	if addr == "" {
		cfg, err := opts.Load()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		addr = cfg.ListenAddr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/engine/status")
	if err != nil {
		return WrapExitError(ExitFailure, "engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewExitError(ExitFailure, fmt.Sprintf("status endpoint returned %d", resp.StatusCode))
	}

	var status engineStatus
	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return WrapExitError(ExitFailure, "invalid status response", err)
	}
	if opts.JSON {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return WrapExitError(ExitFailure, "invalid status response", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:  %s\n", status.Version)
	fmt.Fprintf(out, "mode:     %s\n", status.Mode)
	fmt.Fprintf(out, "health:   %s\n", status.Health)
	fmt.Fprintf(out, "uptime:   %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Fprintf(out, "sequence: %d\n", status.LastSequence)
	if status.CurrentJobID != "" {
		fmt.Fprintf(out, "running:  %s\n", status.CurrentJobID)
	}
	for state, n := range status.JobCounts {
		fmt.Fprintf(out, "jobs %s: %d\n", state, n)
	}
	return nil
}
