package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <step-id> [output]",
	Short: "Report the output of a claimed step",
	Long: `Report the output of a claimed step.

The output is taken from the argument, from --file, or from stdin when the
argument is "-". KEY: value lines become run context variables and a
STORIES_JSON: block declares the stories of a loop.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runComplete,
}

var completeFile string

func init() {
	completeCmd.Flags().StringVarP(&completeFile, "file", "f", "", "read the output from a file")
	rootCmd.AddCommand(completeCmd)
}

func runComplete(cmd *cobra.Command, args []string) error {
	output, err := readOutput(cmd, args[1:], completeFile)
	if err != nil {
		return err
	}
	res, err := newClient().Complete(cmd.Context(), args[0], output)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case res.RunCompleted:
		fmt.Fprintln(w, "Step completed, run completed")
	case res.RunFailed:
		fmt.Fprintln(w, "Run failed")
	case res.StepCompleted:
		fmt.Fprintln(w, "Step completed")
	default:
		fmt.Fprintln(w, "Output recorded")
	}
	if res.StoriesCreated > 0 {
		fmt.Fprintf(w, "Created %d stories\n", res.StoriesCreated)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	return nil
}

// readOutput resolves the output text from args, a file, or stdin ("-").
func readOutput(cmd *cobra.Command, args []string, file string) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("pass the output either as an argument or with --file")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading output: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 0 {
		return "", nil
	}
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	return args[0], nil
}
