package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Reclaim steps abandoned by their agents",
	Long: `Return steps that have been running longer than --max-age to pending,
spending one retry each. Without --max-age the server's threshold is used.`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

var reapMaxAge time.Duration

func init() {
	reapCmd.Flags().DurationVar(&reapMaxAge, "max-age", 0, "running time after which a step is abandoned")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	if reapMaxAge < 0 {
		return fmt.Errorf("--max-age must not be negative")
	}
	if reapMaxAge > 0 && reapMaxAge < time.Minute {
		return fmt.Errorf("--max-age must be at least 1m")
	}
	n, err := newClient().Reap(cmd.Context(), reapMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d step(s)\n", n)
	return nil
}
