package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var failCmd = &cobra.Command{
	Use:   "fail <step-id> <reason>",
	Short: "Report a failed attempt of a claimed step",
	Long: `Report that a claimed step could not be done.

The step is retried while its retry budget lasts. Inside a loop the budget
belongs to the current story.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFail,
}

func init() {
	rootCmd.AddCommand(failCmd)
}

func runFail(cmd *cobra.Command, args []string) error {
	reason := strings.Join(args[1:], " ")
	res, err := newClient().Fail(cmd.Context(), args[0], reason)
	if err != nil {
		return err
	}
	switch {
	case res.RunFailed:
		fmt.Fprintln(cmd.OutOrStdout(), "Retries exhausted, run failed")
	case res.Retrying:
		fmt.Fprintln(cmd.OutOrStdout(), "Step will be retried")
	default:
		fmt.Fprintln(cmd.OutOrStdout(), "Failure recorded")
	}
	return nil
}
