package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

var storiesCmd = &cobra.Command{
	Use:   "stories <run-id>",
	Short: "List or declare the stories of a run",
	Long: `List the stories of a run.

With --add, declare the stories from a JSON file holding either an array of
stories or an object with a "stories" array. Stories can be declared once
per run.`,
	Args: cobra.ExactArgs(1),
	RunE: runStories,
}

var (
	storiesAdd  string
	storiesJSON bool
)

func init() {
	storiesCmd.Flags().StringVar(&storiesAdd, "add", "", "JSON file of stories to declare")
	storiesCmd.Flags().BoolVar(&storiesJSON, "json", false, "print stories as JSON")
	rootCmd.AddCommand(storiesCmd)
}

func runStories(cmd *cobra.Command, args []string) error {
	c := newClient()
	runID := args[0]

	var (
		stories []*types.Story
		err     error
	)
	if storiesAdd != "" {
		inputs, rerr := readStoryFile(storiesAdd)
		if rerr != nil {
			return rerr
		}
		stories, err = c.CreateStories(cmd.Context(), runID, inputs)
	} else {
		stories, err = c.ListStories(cmd.Context(), runID)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if storiesJSON {
		return printJSON(w, stories)
	}
	if len(stories) == 0 {
		fmt.Fprintln(w, "No stories.")
		return nil
	}
	for _, s := range stories {
		fmt.Fprintf(w, "%-10s %-9s %d/%d  %s\n", s.StoryID, s.Status, s.RetryCount, s.MaxRetries, s.Title)
	}
	return nil
}

func readStoryFile(path string) ([]types.StoryInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stories: %w", err)
	}
	data = bytes.TrimSpace(data)

	var inputs []types.StoryInput
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &inputs)
	} else {
		var wrapped struct {
			Stories []types.StoryInput `json:"stories"`
		}
		err = json.Unmarshal(data, &wrapped)
		inputs = wrapped.Stories
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return inputs, nil
}
