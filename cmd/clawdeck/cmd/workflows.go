package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/status"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
	"github.com/castleridge-io/clawdeck-sub002/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List workflow templates",
	Long: `List workflow templates.

By default the templates are loaded locally: built-ins, then
~/.clawdeck/workflows, then the project workflow directory, later sources
overriding earlier ones by id. With --remote, the running server is asked.`,
	Args: cobra.NoArgs,
	RunE: runWorkflows,
}

var (
	workflowsRemote bool
	workflowsJSON   bool
)

func init() {
	workflowsCmd.Flags().BoolVar(&workflowsRemote, "remote", false, "list the templates of the running server")
	workflowsCmd.Flags().BoolVar(&workflowsJSON, "json", false, "print templates as JSON")
	rootCmd.AddCommand(workflowsCmd)
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	var (
		templates []*types.WorkflowTemplate
		err       error
	)
	if workflowsRemote {
		templates, err = newClient().Workflows(cmd.Context())
	} else {
		templates, err = localWorkflows()
	}
	if err != nil {
		return err
	}

	if workflowsJSON {
		return printJSON(cmd.OutOrStdout(), templates)
	}
	fmt.Fprint(cmd.OutOrStdout(), status.FormatTemplates(templates, status.FormatOptions{NoColor: noColor}))
	return nil
}

func localWorkflows() ([]*types.WorkflowTemplate, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	loader := workflow.NewLoader(cfg.WorkflowDir(dir))
	loader.Builtins = !cfg.Workflows.DisableBuiltins
	registry, err := workflow.LoadRegistry(loader)
	if err != nil {
		return nil, fmt.Errorf("loading workflows: %w", err)
	}
	return registry.List(), nil
}
