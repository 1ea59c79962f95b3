package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/castleridge-io/clawdeck-sub002/internal/status"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Show the status of runs.

Without arguments, lists runs (running ones unless --all or --status is
given). With a run id, shows its steps and stories.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusAll    bool
	statusFilter string
	statusJSON   bool
	statusQuiet  bool
)

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "include finished runs")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only runs with this status")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the summary as JSON")
	statusCmd.Flags().BoolVarP(&statusQuiet, "quiet", "q", false, "minimal output")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	opts := status.FormatOptions{NoColor: noColor || statusJSON, Quiet: statusQuiet}
	now := time.Now().UTC()
	w := cmd.OutOrStdout()

	if len(args) == 1 {
		detail, err := c.RunDetail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		summary := status.NewRunSummary(detail, now)
		if statusJSON {
			return printJSON(w, summary)
		}
		fmt.Fprint(w, status.FormatRunDetail(summary, opts))
		return nil
	}

	filter := types.RunStatus(statusFilter)
	if filter == "" && !statusAll {
		filter = types.RunStatusRunning
	}
	if filter != "" && !filter.Valid() {
		return fmt.Errorf("unknown run status %q", statusFilter)
	}
	runs, err := c.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	summaries := status.NewRunListSummary(runs, now)
	if statusJSON {
		return printJSON(w, summaries)
	}
	fmt.Fprint(w, status.FormatRunList(summaries, opts))
	return nil
}
