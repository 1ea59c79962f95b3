package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/castleridge-io/clawdeck-sub002/internal/api"
)

const defaultServer = "http://127.0.0.1:7420"

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	workDir string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "clawdeck",
	Short: "Kanban workflow engine for AI agent pipelines",
	Long: `clawdeck runs multi-step agent workflows as a kanban board.

A workflow template is an ordered pipeline of steps, each owned by an agent
role. Agents poll for work with 'clawdeck claim', report results with
'clawdeck complete' or 'clawdeck fail', and the engine advances the run.
Loop steps iterate over stories, optionally gated by a verify step, and
approval steps wait for a human decision.

Start the engine with 'clawdeck serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")
	rootCmd.PersistentFlags().String("server", defaultServer, "engine URL (env CLAWDECK_SERVER)")
	rootCmd.PersistentFlags().String("agent", "", "agent id (env CLAWDECK_AGENT)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("agent", rootCmd.PersistentFlags().Lookup("agent"))
	viper.SetEnvPrefix("CLAWDECK")
	viper.AutomaticEnv()

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("clawdeck {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// newClient returns a client for the configured server.
func newClient() *api.Client {
	return api.NewClient(viper.GetString("server"))
}

// agentID returns the configured agent id or an error naming both sources.
func agentID() (string, error) {
	id := strings.TrimSpace(viper.GetString("agent"))
	if id == "" {
		return "", fmt.Errorf("agent id required: pass --agent or set CLAWDECK_AGENT")
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
