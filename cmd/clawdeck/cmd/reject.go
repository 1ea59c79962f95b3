package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rejectCmd = &cobra.Command{
	Use:   "reject <step-id>",
	Short: "Reject a step awaiting approval",
	Long:  `Reject a step awaiting approval. The run fails with the given reason.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var rejectReason string

func init() {
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the step was rejected")
	rootCmd.AddCommand(rejectCmd)
}

func runReject(cmd *cobra.Command, args []string) error {
	if err := newClient().Reject(cmd.Context(), args[0], rejectReason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", args[0])
	return nil
}
