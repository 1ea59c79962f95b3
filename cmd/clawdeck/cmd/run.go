package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow> <task>",
	Short: "Start a run of a workflow",
	Long: `Start a run of a workflow template.

The task description is available to every step as {{task}}. Extra variables
are passed with --var and become context keys (lower-cased).

Example:
  clawdeck run feature-dev "Add password reset" --var repo=web`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var (
	runVars []string
	runJSON bool
)

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "variable as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}

	run, err := newClient().CreateRun(cmd.Context(), args[0], args[1], vars)
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(cmd.OutOrStdout(), run)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started run %s (%s)\n", run.ID, run.TemplateID)
	return nil
}

// parseVars splits key=value pairs. Values may contain '='.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", p)
		}
		vars[key] = value
	}
	return vars, nil
}
