package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next step for an agent",
	Long: `Ask the engine for the next pending step assigned to the agent.

Prints the claim as JSON. When there is no work, prints {"found": false}
or, with --quiet, nothing at all.`,
	Args: cobra.NoArgs,
	RunE: runClaim,
}

var claimQuiet bool

func init() {
	claimCmd.Flags().BoolVarP(&claimQuiet, "quiet", "q", false, "print nothing when there is no work")
	rootCmd.AddCommand(claimCmd)
}

func runClaim(cmd *cobra.Command, args []string) error {
	agent, err := agentID()
	if err != nil {
		return err
	}
	res, err := newClient().Claim(cmd.Context(), agent)
	if err != nil {
		return fmt.Errorf("claiming for %s: %w", agent, err)
	}
	if !res.Found && claimQuiet {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), res)
}
